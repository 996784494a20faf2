package legctl

import (
	"time"

	"github.com/golang/geo/r3"
)

// ADCSample is the four raw ADC channels, independently timestamped
// along with the other telemetry fields that make up a leg's snapshot.
type ADCSample struct {
	Time                   time.Time
	Hip, Thigh, Knee, Calf float64
}

// AnglesSample is the firmware's reported joint angles plus the
// calf-load-derived angle and a validity flag.
type AnglesSample struct {
	Time                       time.Time
	Hip, Thigh, Knee, CalfLoad float64
	Valid                      bool
}

// XYZSample is the foot's Cartesian position.
type XYZSample struct {
	Time time.Time
	Pos  r3.Vector
}

// JointTriplet holds one value per joint, keyed by geometry.Hip/Thigh/Knee.
type JointTriplet [3]float64

// PIDSample is the firmware's closed-loop state for all three joints.
type PIDSample struct {
	Time     time.Time
	Output   JointTriplet
	SetPoint JointTriplet
	Error    JointTriplet
}

// PWMSample is the firmware's actuator drive output.
type PWMSample struct {
	Time             time.Time
	Hip, Thigh, Knee float64
}

// PIDGains is one joint's PID tuning.
type PIDGains struct {
	P, I, D, Min, Max float64
}

// PWMLimits bounds one joint's actuator drive.
type PWMLimits struct {
	ExtendMin, ExtendMax, RetractMin, RetractMax float64
}

// ADCBounds bounds one joint's ADC reading.
type ADCBounds struct {
	Min, Max float64
}

// Dither is the firmware's dither-injection configuration.
type Dither struct {
	Time float64
	Amp  float64
}

// PIDJointConfig is the aggregate blocking query result for one joint.
type PIDJointConfig struct {
	PID                     PIDGains
	FollowingErrorThreshold float64
	PWM                     PWMLimits
	ADC                     ADCBounds
	Dither                  Dither
}

// ConfigStep is one entry in a batched configure() replay: a named
// command plus its positional arguments.
type ConfigStep struct {
	Name string
	Args []float64
}

// Snapshot is the leg controller's full last-known telemetry state.
type Snapshot struct {
	ADC    ADCSample
	Angles AnglesSample
	XYZ    XYZSample
	PID    PIDSample
	PWM    PWMSample
}
