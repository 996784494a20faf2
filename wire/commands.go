// Package wire implements the length-framed binary protocol spoken
// between the host and each leg's microcontroller: a fixed command-id
// dispatch table, little-endian fixed-width argument encoding, and two
// sub-protocols (command and text-debug) multiplexed on one byte stream.
package wire

import "github.com/pkg/errors"

// CommandID addresses one entry in the command table.
type CommandID uint8

// Command ids, matching the firmware protocol. Ids 15 and 17..20 are
// unassigned.
const (
	Heartbeat                CommandID = 0
	Estop                    CommandID = 1
	PWM                      CommandID = 2
	PlanCmd                  CommandID = 3
	EnablePID                CommandID = 4
	PIDConfig                CommandID = 5
	LegNumber                CommandID = 6
	PWMLimits                CommandID = 7
	ADCLimits                CommandID = 8
	CalfScale                CommandID = 9
	ReportTime               CommandID = 10
	PIDSeedTime              CommandID = 11
	ResetPIDs                CommandID = 12
	Dither                   CommandID = 13
	FollowingErrorThreshold  CommandID = 14
	SetGeometry              CommandID = 16
	ReportADC                CommandID = 21
	ReportPID                CommandID = 22
	ReportPWM                CommandID = 23
	ReportXYZ                CommandID = 24
	ReportAngles             CommandID = 25
	ReportLoopTime           CommandID = 26
)

// ArgType is one wire-level scalar type.
type ArgType uint8

const (
	ArgU8 ArgType = iota
	ArgI32
	ArgU32
	ArgF32
	ArgBool
)

// Size returns the wire width, in bytes, of a value of type t.
func (t ArgType) Size() int {
	switch t {
	case ArgU8, ArgBool:
		return 1
	default:
		return 4
	}
}

// Signature declares a command's argument types and, for commands with a
// response, the response's argument types.
type Signature struct {
	Name     string
	Args     []ArgType
	Response []ArgType
}

// Table is the fixed set of command signatures, keyed by CommandID.
// It must stay in lockstep with the firmware's table.
var Table = map[CommandID]Signature{
	Heartbeat: {Name: "heartbeat"},
	Estop:     {Name: "estop", Args: []ArgType{ArgU8}, Response: []ArgType{ArgU8}},
	PWM: {
		Name: "pwm", Args: []ArgType{ArgF32, ArgF32, ArgF32},
		Response: []ArgType{ArgF32, ArgF32, ArgF32},
	},
	PlanCmd: {
		Name: "plan",
		Args: append([]ArgType{ArgU8, ArgU8}, repeat(ArgF32, 17)...),
	},
	EnablePID: {Name: "enable_pid", Args: []ArgType{ArgBool}, Response: []ArgType{ArgBool}},
	PIDConfig: {
		Name: "pid_config",
		Args: []ArgType{ArgU8, ArgF32, ArgF32, ArgF32, ArgF32, ArgF32},
		Response: []ArgType{
			ArgU8, ArgF32, ArgF32, ArgF32, ArgF32, ArgF32,
		},
	},
	LegNumber: {Name: "leg_number", Args: []ArgType{ArgU8}, Response: []ArgType{ArgU8}},
	PWMLimits: {
		Name:     "pwm_limits",
		Args:     []ArgType{ArgU8, ArgI32, ArgI32, ArgI32, ArgI32},
		Response: []ArgType{ArgU8, ArgI32, ArgI32, ArgI32, ArgI32},
	},
	ADCLimits: {
		Name: "adc_limits", Args: []ArgType{ArgU8, ArgF32, ArgF32},
		Response: []ArgType{ArgU8, ArgF32, ArgF32},
	},
	CalfScale: {
		Name: "calf_scale", Args: []ArgType{ArgF32, ArgF32},
		Response: []ArgType{ArgF32, ArgF32},
	},
	ReportTime:  {Name: "report_time", Args: []ArgType{ArgU32}, Response: []ArgType{ArgU32}},
	PIDSeedTime: {Name: "pid_seed_time", Response: []ArgType{ArgF32}},
	ResetPIDs:   {Name: "reset_pids", Args: []ArgType{ArgBool}},
	Dither: {
		Name: "dither", Args: []ArgType{ArgU32, ArgI32},
		Response: []ArgType{ArgU32, ArgI32},
	},
	FollowingErrorThreshold: {
		Name: "following_error_threshold", Args: []ArgType{ArgU8, ArgF32},
		Response: []ArgType{ArgU8, ArgF32},
	},
	SetGeometry: {Name: "set_geometry", Args: []ArgType{ArgU8, ArgU8, ArgF32}},
	ReportADC: {
		Name: "report_adc", Args: []ArgType{ArgBool},
		Response: []ArgType{ArgU32, ArgU32, ArgU32, ArgU32},
	},
	ReportPID: {
		Name: "report_pid", Args: []ArgType{ArgBool},
		Response: repeat(ArgF32, 9),
	},
	ReportPWM: {
		Name: "report_pwm", Args: []ArgType{ArgBool},
		Response: []ArgType{ArgI32, ArgI32, ArgI32},
	},
	ReportXYZ: {
		Name: "report_xyz", Args: []ArgType{ArgBool},
		Response: []ArgType{ArgF32, ArgF32, ArgF32},
	},
	ReportAngles: {
		Name: "report_angles", Args: []ArgType{ArgBool},
		Response: []ArgType{ArgF32, ArgF32, ArgF32, ArgF32, ArgBool},
	},
	ReportLoopTime: {
		Name: "report_loop_time", Args: []ArgType{ArgBool},
		Response: []ArgType{ArgU32},
	},
}

func repeat(t ArgType, n int) []ArgType {
	out := make([]ArgType, n)
	for i := range out {
		out[i] = t
	}
	return out
}

// ErrUnknownCommand is returned when a CommandID has no Table entry.
var ErrUnknownCommand = errors.New("wire: unknown command id")

// Lookup returns the Signature for cmd.
func Lookup(cmd CommandID) (Signature, error) {
	sig, ok := Table[cmd]
	if !ok {
		return Signature{}, errors.Wrapf(ErrUnknownCommand, "command %d", cmd)
	}
	return sig, nil
}
