package restriction

import (
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/kinematics/geometry"
	"github.com/viamrobotics/hexctl/legctl"
	"github.com/viamrobotics/hexctl/paramstore"
	"github.com/viamrobotics/hexctl/plan"
	"github.com/viamrobotics/hexctl/signalhub"
)

// State is one foot's gait phase.
type State uint8

const (
	// Disabled is the out-of-gait resting state a foot sits in before
	// the body enables walking.
	Disabled State = iota
	Stance
	Wait
	Lift
	Swing
	Lower
)

func (s State) String() string {
	switch s {
	case Stance:
		return "stance"
	case Wait:
		return "wait"
	case Lift:
		return "lift"
	case Swing:
		return "swing"
	case Lower:
		return "lower"
	default:
		return "disabled"
	}
}

// Up reports whether the foot is off the ground or leaving it: lift,
// swing or lower.
func (s State) Up() bool {
	return s == Lift || s == Swing || s == Lower
}

// BodyTarget describes the body's commanded motion: rotation about a
// ground point (or pure translation), a speed, and a vertical rate.
// Equality is structural.
type BodyTarget struct {
	// Translate selects straight-line motion along the body's +X axis;
	// when false the body arcs about RotationCenter.
	Translate      bool
	RotationCenter r2.Point
	Speed          float64
	Dz             float64
}

// Zero reports whether the target commands no motion at all.
func (t BodyTarget) Zero() bool {
	return t.Speed == 0 && t.Dz == 0
}

// Event names triggered on a Foot's hub.
const (
	EventRestriction = "restriction"
	EventState       = "state"
)

// Foot owns one leg's gait state and restriction. It subscribes to the
// leg controller's telemetry, recomputes the restriction on every foot
// position update, runs the sensor-driven phase transitions
// (lift->swing on unload, swing->lower on arrival, lower->stance on
// ground contact), and sends the leg the plan its current phase calls
// for. The body coordinator observes it through restriction and state
// events and commands the remaining transitions.
type Foot struct {
	controller legctl.Controller
	engine     *Engine
	params     *paramstore.Store
	logger     logging.Logger
	hub        *signalhub.Hub

	state        State
	lastLiftTime time.Time
	restriction  *Restriction
	halted       bool
	target       BodyTarget

	xyz        r3.Vector
	calfLoad   float64
	valid      bool
	liftStartZ float64
	activePlan *plan.Plan
}

// NewFoot wires a foot onto its leg controller and the shared parameter
// store.
func NewFoot(
	controller legctl.Controller, engine *Engine, params *paramstore.Store, logger logging.Logger,
) *Foot {
	f := &Foot{
		controller: controller,
		engine:     engine,
		params:     params,
		logger:     logger,
		hub:        signalhub.New(),
		state:      Disabled,
		valid:      true,
	}
	controller.On(legctl.EventXYZ, func(payload any) {
		f.onXYZ(payload.(legctl.XYZSample))
	})
	controller.On(legctl.EventAngles, func(payload any) {
		f.onAngles(payload.(legctl.AnglesSample))
	})
	return f
}

// On subscribes to the foot's restriction and state events.
func (f *Foot) On(event string, handler func(any)) signalhub.Token {
	return f.hub.On(event, handler)
}

func (f *Foot) LegNumber() int          { return f.controller.LegNumber() }
func (f *Foot) State() State            { return f.state }
func (f *Foot) LastLiftTime() time.Time { return f.lastLiftTime }
func (f *Foot) Halted() bool            { return f.halted }
func (f *Foot) Position() r3.Vector     { return f.xyz }

// Restriction returns the last computed restriction, or nil before the
// first foot position update.
func (f *Foot) Restriction() *Restriction { return f.restriction }

// Valid reports whether the leg's last angles packet was marked valid.
// An invalid foot is treated as e-stopped for arbitration.
func (f *Foot) Valid() bool { return f.valid }

func (f *Foot) onAngles(sample legctl.AnglesSample) {
	f.calfLoad = sample.CalfLoad
	f.valid = sample.Valid
}

func (f *Foot) onXYZ(sample legctl.XYZSample) {
	f.xyz = sample.Pos
	r := f.engine.Compute(f.xyz, f.calfAngleDeg(), f.activePlan)
	f.restriction = &r
	f.stepStateMachine()
	f.hub.Trigger(EventRestriction, r)
}

// calfAngleDeg derives the calf's lean from vertical out of the load
// reading of the last angles packet, divided by the load_per_degree
// ratio.
func (f *Foot) calfAngleDeg() float64 { return f.calfLoad / f.loadPerDegree() }

func (f *Foot) loadPerDegree() float64 {
	// A loaded calf reads hundreds of pounds; leaning costs tens of
	// degrees. The ratio only shapes the calf_angle field's input and
	// hot-reloads with the rest of the restriction parameters.
	return f.params.Get("res.fields.calf_angle.load_per_degree", 40.0)
}

// stepStateMachine runs the sensor-driven transitions the foot owns
// itself; the body coordinator commands stance->lift and halt moves. A
// foot whose last angles packet was invalid keeps its current state.
func (f *Foot) stepStateMachine() {
	if !f.valid {
		return
	}
	switch f.state {
	case Lift:
		risen := f.xyz.Z - f.liftStartZ
		if risen >= f.params.Get("res.lift_height", 12.0) &&
			f.calfLoad < f.params.Get("res.unloaded_weight", 600.0) {
			f.SetState(Swing)
		}
	case Swing:
		slop := f.params.Get("res.swing_slop", 5.0)
		if f.xyz.Sub(f.swingGoal()).Norm() <= slop {
			f.SetState(Lower)
		}
	case Lower:
		if f.calfLoad >= f.params.Get("res.loaded_weight", 400.0) {
			f.SetState(Stance)
		}
	}
}

// SetState moves the foot to state, records lift entry time, emits the
// state event, and sends the leg the plan the new phase calls for.
func (f *Foot) SetState(state State) {
	if state == f.state {
		return
	}
	f.logger.Debugf("foot %d: %s -> %s", f.LegNumber(), f.state, state)
	f.state = state
	if state == Lift {
		f.lastLiftTime = time.Now()
		f.liftStartZ = f.xyz.Z
	}
	f.hub.Trigger(EventState, state)
	f.sendPlanForState()
}

// SetHalt pauses or resumes the foot. A halted foot in stance waits; an
// unhalted waiting foot returns to stance when the target commands
// motion.
func (f *Foot) SetHalt(value bool) {
	f.halted = value
	if value {
		if f.state == Stance {
			f.SetState(Wait)
		} else {
			// mid-air feet finish their phase; only the ground plan
			// stops
			f.sendPlanForState()
		}
		return
	}
	if f.state == Wait && !f.target.Zero() {
		f.SetState(Stance)
	}
}

// SetTarget updates the body target this foot derives its plans from
// and re-sends the current phase's plan.
func (f *Foot) SetTarget(target BodyTarget) {
	f.target = target
	if f.state == Wait && !f.halted && !target.Zero() {
		f.SetState(Stance)
		return
	}
	f.sendPlanForState()
}

// Reset puts the foot back into stance with a fresh gait history.
func (f *Foot) Reset() {
	f.lastLiftTime = time.Time{}
	f.SetState(Stance)
}

// Disable drops the foot out of the gait entirely.
func (f *Foot) Disable() {
	f.activePlan = nil
	f.SetState(Disabled)
}

// ShouldLift reports whether relocating this foot is worth a step: false
// when the swing target is within min_step_size of the current position.
func (f *Foot) ShouldLift() bool {
	minStep := f.params.Get("res.min_step_size", 6.0)
	return f.xyz.Sub(f.swingTarget()).Norm() >= minStep
}

// swingTarget is where a swing ends: ahead of the leg's center along
// the body's direction of travel by a step_ratio share of the
// workspace.
func (f *Foot) swingTarget() r3.Vector {
	center := f.engine.Center
	dir := f.travelDirection()
	if dir.Norm() == 0 {
		return center
	}
	radius := f.params.Get("res.fields.center.radius", 30.0)
	step := radius * f.params.Get("res.step_ratio", 0.6) / 2
	return center.Add(dir.Normalize().Mul(step))
}

// swingGoal is the swing plan's actual endpoint: the swing target at
// apex height.
func (f *Foot) swingGoal() r3.Vector {
	goal := f.swingTarget()
	goal.Z = f.liftStartZ + f.params.Get("res.lift_height", 12.0)
	return goal
}

// travelDirection is the leg-frame direction the foot swings toward:
// the direction of body travel at this leg's position.
func (f *Foot) travelDirection() r3.Vector {
	if f.target.Zero() {
		return r3.Vector{}
	}
	var body r3.Vector
	if f.target.Translate {
		body = r3.Vector{X: 1}
	} else {
		// arcing about a ground point: travel is perpendicular to the
		// radius from the rotation center to this foot
		fb := geometry.LegToBody(f.LegNumber(), f.xyz)
		radial := r3.Vector{
			X: fb.X - f.target.RotationCenter.X,
			Y: fb.Y - f.target.RotationCenter.Y,
		}
		if radial.Norm() == 0 {
			return r3.Vector{}
		}
		body = r3.Vector{X: -radial.Y, Y: radial.X}
	}
	if f.target.Speed < 0 {
		body = body.Mul(-1)
	}
	return geometry.BodyToLeg(f.LegNumber(), body)
}

// sendPlanForState emits the leg-frame plan matching the current phase.
// Stance drags the foot opposite the body's travel; lift and lower add
// vertical motion on top of the drag so the body keeps moving; swing
// runs a target plan to the swing target at apex height.
func (f *Foot) sendPlanForState() {
	speed := absFloat(f.target.Speed)
	drag := f.travelDirection().Mul(-1)
	var p plan.Plan
	switch f.state {
	case Stance:
		if f.halted || f.target.Zero() {
			p = plan.NewStop(plan.Leg, 0)
		} else {
			p = plan.NewVelocity(plan.Leg, drag, speed)
		}
	case Wait, Disabled:
		p = plan.NewStop(plan.Leg, 0)
	case Lift:
		v := drag
		if f.halted {
			v = r3.Vector{}
		}
		v.Z = 1
		p = plan.NewVelocity(plan.Leg, v, liftSpeed(speed))
	case Lower:
		v := drag
		if f.halted {
			v = r3.Vector{}
		}
		v.Z = -1
		p = plan.NewVelocity(plan.Leg, v, liftSpeed(speed))
	case Swing:
		p = plan.NewTarget(plan.Leg, f.swingGoal(), swingSpeed(speed))
	}
	f.activePlan = &p
	if err := f.controller.SendPlan(p); err != nil {
		f.logger.Warnf("foot %d: send plan: %v", f.LegNumber(), err)
	}
}

// liftSpeed keeps vertical moves from stalling when the body is barely
// moving.
func liftSpeed(speed float64) float64 {
	const minVertical = 2.0
	if speed < minVertical {
		return minVertical
	}
	return speed
}

// swingSpeed returns the foot fast enough to rejoin the stance set
// before its neighbors need a turn.
func swingSpeed(speed float64) float64 {
	const minSwing = 4.0
	if speed*2 < minSwing {
		return minSwing
	}
	return speed * 2
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
