// Package restriction computes, for each foot, a scalar measure of how
// close the foot is to a workspace boundary or other disallowed region,
// and runs the per-foot gait state machine driven by that measure.
package restriction

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/viamrobotics/hexctl/kinematics"
	"github.com/viamrobotics/hexctl/kinematics/geometry"
	"github.com/viamrobotics/hexctl/paramstore"
	"github.com/viamrobotics/hexctl/plan"
)

// Components are the individual field values a foot's restriction is
// the maximum of.
type Components struct {
	JointAngle float64
	CalfAngle  float64
	MinHip     float64
	Center     float64
}

// Restriction is one foot's scalar restriction: R is the current value,
// NR the value at the position the foot would occupy one plan tick ahead
// under its current plan.
type Restriction struct {
	R          float64
	NR         float64
	Components Components
}

// Max returns the larger of the component fields, before clamping.
func (c Components) Max() float64 {
	m := c.JointAngle
	for _, v := range []float64{c.CalfAngle, c.MinHip, c.Center} {
		if v > m {
			m = v
		}
	}
	return m
}

// Engine evaluates the four restriction field functions for one leg.
// All shape parameters live in the shared store under res.fields.* and
// are re-read on every evaluation, so they hot-reload.
type Engine struct {
	legNumber int
	geom      geometry.LegGeometry
	params    *paramstore.Store

	// Center is the leg-local neutral foot position the center field
	// measures distance from.
	Center r3.Vector

	// MinHipDistance is the closest the foot may approach the hip
	// before the min_hip field saturates.
	MinHipDistance float64

	// Tick is the plan quantum used to project the one-tick-ahead
	// position for NR.
	Tick float64
}

// NewEngine builds an engine for one leg over the shared parameter
// store.
func NewEngine(legNumber int, geom geometry.LegGeometry, params *paramstore.Store) *Engine {
	return &Engine{
		legNumber:      legNumber,
		geom:           geom,
		params:         params,
		Center:         r3.Vector{X: 60, Z: -40},
		MinHipDistance: 20,
		Tick:           0.025,
	}
}

// inflect maps a dimensionless excess x onto [0,1] through a logistic
// curve re-anchored so that x=0 evaluates to exactly 0: raw logistic
// output at x=0 is subtracted and the remainder rescaled. inflection
// positions the half-rise, eps its width.
func inflect(x, inflection, eps float64) float64 {
	if eps <= 0 {
		if x >= inflection {
			return 1
		}
		return 0
	}
	raw := 1 / (1 + math.Exp(-(x-inflection)/eps))
	floor := 1 / (1 + math.Exp(inflection/eps))
	v := (raw - floor) / (1 - floor)
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// jointAngleField is 0 when all joints sit deep inside their limits and
// rises toward 1 as any joint approaches the allowed fraction of its
// range from the midpoint.
func (e *Engine) jointAngleField(hip, thigh, knee float64) float64 {
	eps := e.params.Get("res.fields.joint_angle.eps", 0.3)
	rangeRatio := e.params.Get("res.fields.joint_angle.range", 0.9)
	inflection := e.params.Get("res.fields.joint_angle.inflection", 0.4)

	angles := [3]float64{hip, thigh, knee}
	worst := 0.0
	for ji := 0; ji < geometry.NumJoints; ji++ {
		g := e.geom[ji]
		half := (g.MaxAngle - g.MinAngle) / 2
		if half <= 0 {
			continue
		}
		mid := (g.MaxAngle + g.MinAngle) / 2
		// fraction of the permitted excursion used, 1 at the
		// rangeRatio boundary
		frac := math.Abs(angles[ji]-mid) / (half * rangeRatio)
		if frac > worst {
			worst = frac
		}
	}
	return inflect(worst, 1-inflection, eps)
}

// calfAngleField is 0 while the calf is within max degrees of vertical.
func (e *Engine) calfAngleField(calfAngleDeg float64) float64 {
	eps := e.params.Get("res.fields.calf_angle.eps", 0.3)
	inflection := e.params.Get("res.fields.calf_angle.inflection", 0.4)
	maxDeg := e.params.Get("res.fields.calf_angle.max", 30)
	if maxDeg <= 0 {
		return 0
	}
	excess := (math.Abs(calfAngleDeg) - maxDeg) / maxDeg
	if excess <= 0 {
		return 0
	}
	return inflect(excess, inflection, eps)
}

// minHipField is 0 when the foot stays beyond MinHipDistance plus the
// buffer, and saturates at 1 as the foot intrudes into the forbidden
// near region.
func (e *Engine) minHipField(xyz r3.Vector) float64 {
	eps := e.params.Get("res.fields.min_hip.eps", 0.15)
	buffer := e.params.Get("res.fields.min_hip.buffer", 10.0)
	if buffer <= 0 {
		return 0
	}
	d := math.Hypot(xyz.X, xyz.Y)
	intrusion := (e.MinHipDistance + buffer - d) / buffer
	if intrusion <= 0 {
		return 0
	}
	return inflect(intrusion, 0.5, eps)
}

// centerField is 0 while the foot is within radius of the leg-local
// center point and rises as it strays outside.
func (e *Engine) centerField(xyz r3.Vector) float64 {
	eps := e.params.Get("res.fields.center.eps", 0.1)
	inflection := e.params.Get("res.fields.center.inflection", 5.0)
	radius := e.params.Get("res.fields.center.radius", 30.0)
	d := xyz.Sub(e.Center).Norm()
	beyond := d - radius
	if beyond <= 0 {
		return 0
	}
	// beyond and inflection are both in inches; eps scales against the
	// inflection distance to stay dimensionless
	return inflect(beyond/inflection, 1, eps)
}

// evaluate computes the component fields and their clamped max at one
// foot position.
func (e *Engine) evaluate(xyz r3.Vector, calfAngleDeg float64) (float64, Components) {
	hip, thigh, knee, err := e.geom.PointToAngles(xyz)
	var joint float64
	if err == nil {
		joint = e.jointAngleField(hip, thigh, knee)
	} else {
		// out of reach is as restricted as it gets
		joint = 1
	}
	c := Components{
		JointAngle: joint,
		CalfAngle:  e.calfAngleField(calfAngleDeg),
		MinHip:     e.minHipField(xyz),
		Center:     e.centerField(xyz),
	}
	return clamp01(c.Max()), c
}

// Compute evaluates the restriction at xyz and, when p is non-nil, the
// next-step restriction at the position one plan tick ahead under p.
// With no active plan NR equals R.
func (e *Engine) Compute(xyz r3.Vector, calfAngleDeg float64, p *plan.Plan) Restriction {
	r, comps := e.evaluate(xyz, calfAngleDeg)
	nr := r
	if p != nil {
		if next, err := kinematics.Follow(xyz, *p, e.Tick); err == nil {
			nr, _ = e.evaluate(next, calfAngleDeg)
		}
	}
	return Restriction{R: r, NR: nr, Components: comps}
}
