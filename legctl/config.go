package legctl

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/kinematics/geometry"
)

// JointGeometryEntry is the serialized form of one joint's nine
// mechanical parameters.
type JointGeometryEntry struct {
	CylinderMin float64 `json:"cylinder_min"`
	CylinderMax float64 `json:"cylinder_max"`
	TriangleA   float64 `json:"triangle_a"`
	TriangleB   float64 `json:"triangle_b"`
	ZeroAngle   float64 `json:"zero_angle"`
	RestAngle   float64 `json:"rest_angle"`
	Length      float64 `json:"length"`
	MinAngle    float64 `json:"min_angle"`
	MaxAngle    float64 `json:"max_angle"`
}

func (e JointGeometryEntry) toGeometry() geometry.JointGeometry {
	return geometry.JointGeometry{
		CylinderMin: e.CylinderMin,
		CylinderMax: e.CylinderMax,
		TriangleA:   e.TriangleA,
		TriangleB:   e.TriangleB,
		ZeroAngle:   e.ZeroAngle,
		RestAngle:   e.RestAngle,
		Length:      e.Length,
		MinAngle:    e.MinAngle,
		MaxAngle:    e.MaxAngle,
	}
}

// ConfigStepEntry is the serialized form of one calibration replay
// step.
type ConfigStepEntry struct {
	Name string    `json:"name"`
	Args []float64 `json:"args,omitempty"`
}

// LegEntry describes one leg in a rig file: its identity, the port it
// is expected on (hardware rigs only), its joint geometry, and any
// calibration steps replayed at session start.
type LegEntry struct {
	Number      int                                    `json:"number"`
	Port        string                                 `json:"port,omitempty"`
	Geometry    [geometry.NumJoints]JointGeometryEntry `json:"geometry"`
	Calibration []ConfigStepEntry                      `json:"calibration,omitempty"`
}

// Geom converts the entry's serialized geometry.
func (e LegEntry) Geom() geometry.LegGeometry {
	var g geometry.LegGeometry
	for i := range e.Geometry {
		g[i] = e.Geometry[i].toGeometry()
	}
	return g
}

// Steps converts the entry's calibration list into replayable
// ConfigSteps.
func (e LegEntry) Steps() []ConfigStep {
	steps := make([]ConfigStep, 0, len(e.Calibration))
	for _, c := range e.Calibration {
		steps = append(steps, ConfigStep{Name: c.Name, Args: c.Args})
	}
	return steps
}

// RigConfig is the on-disk description of a whole machine.
type RigConfig struct {
	Legs []LegEntry `json:"legs"`
}

// Validate ensures leg numbers are physical and unique.
func (c *RigConfig) Validate() error {
	if len(c.Legs) == 0 {
		return errors.New("legctl: rig config has no legs")
	}
	seen := make(map[int]bool)
	for _, leg := range c.Legs {
		if leg.Number < LegFL || leg.Number > LegFR {
			return errors.Errorf("legctl: leg number %d out of range", leg.Number)
		}
		if seen[leg.Number] {
			return errors.Errorf("legctl: duplicate leg number %d", leg.Number)
		}
		seen[leg.Number] = true
	}
	return nil
}

// CalibrationByLeg collects every leg's calibration steps keyed by leg
// number, the shape HardwareOptions wants.
func (c *RigConfig) CalibrationByLeg() map[int][]ConfigStep {
	out := make(map[int][]ConfigStep)
	for _, leg := range c.Legs {
		if len(leg.Calibration) > 0 {
			out[leg.Number] = leg.Steps()
		}
	}
	return out
}

// LoadRigConfig reads and validates a rig file, falling back to
// DefaultRigConfig when path is empty.
func LoadRigConfig(path string, logger logging.Logger) (RigConfig, error) {
	if path == "" {
		logger.Debug("legctl: no rig file specified, using default rig")
		return DefaultRigConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RigConfig{}, errors.Wrapf(err, "legctl: read rig config %s", path)
	}
	var cfg RigConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RigConfig{}, errors.Wrapf(err, "legctl: parse rig config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return RigConfig{}, err
	}
	logger.Debugf("legctl: loaded rig config from %s (%d legs)", path, len(cfg.Legs))
	return cfg, nil
}

// defaultJointGeometry is a serviceable hydraulic-leg geometry for
// rigs that don't carry measured values yet; real machines override
// every field from their rig file.
var defaultJointGeometry = [geometry.NumJoints]JointGeometryEntry{
	{CylinderMin: 16, CylinderMax: 24, TriangleA: 11, TriangleB: 20,
		ZeroAngle: 0, RestAngle: 0, Length: 11, MinAngle: -0.7, MaxAngle: 0.7},
	{CylinderMin: 24, CylinderMax: 38, TriangleA: 54, TriangleB: 10,
		ZeroAngle: 0, RestAngle: 0.3, Length: 54, MinAngle: 0, MaxAngle: 1.57},
	{CylinderMin: 20, CylinderMax: 32, TriangleA: 10, TriangleB: 72,
		ZeroAngle: 0, RestAngle: -0.9, Length: 72, MinAngle: -2.6, MaxAngle: 0},
}

// DefaultRigConfig is a six-leg rig with the default geometry and no
// port assignments; ports come from discovery.
func DefaultRigConfig() RigConfig {
	cfg := RigConfig{}
	for _, ln := range RealLegs {
		cfg.Legs = append(cfg.Legs, LegEntry{
			Number:   ln,
			Geometry: defaultJointGeometry,
		})
	}
	return cfg
}

// Entry returns the config for one leg, falling back to a default
// entry for legs the file doesn't mention.
func (c *RigConfig) Entry(legNumber int) LegEntry {
	for _, leg := range c.Legs {
		if leg.Number == legNumber {
			return leg
		}
	}
	return LegEntry{Number: legNumber, Geometry: defaultJointGeometry}
}
