package legctl

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/kinematics"
	"github.com/viamrobotics/hexctl/kinematics/geometry"
	"github.com/viamrobotics/hexctl/plan"
	"github.com/viamrobotics/hexctl/signalhub"
)

// ErrPWMRequiresEstop is returned by SetPWM when e-stop is Off: a direct
// actuator override is only legal while the plan-following path is
// already disabled.
var ErrPWMRequiresEstop = errors.New("legctl: set_pwm is only legal while estop != off")

// minUpdateInterval gates the simulation: advancing a tick happens only
// when at least this much wall time has passed since the last advance.
const minUpdateInterval = 0.1

// SimulatedController is the pure kinematic plan-following leg, used in
// the absence of real hardware. It imitates firmware behavior: the same
// Matrix-mode tick-quantized accumulation and the same
// clamp-then-recompute-then-estop ordering on joint limit violation.
var _ Controller = (*SimulatedController)(nil)

type SimulatedController struct {
	legNumber int
	geom      geometry.LegGeometry
	tick      float64
	logger    logging.Logger
	hub       *signalhub.Hub

	estop EstopSeverity
	plan  *plan.Plan

	xyz        r3.Vector
	angles     AnglesSample
	lastUpdate time.Time
	ddt        float64

	adc ADCSample
	pid PIDSample
	pwm PWMSample
}

// NewSimulatedController constructs a simulator for legNumber at
// initial position xyz, quantizing Matrix-mode plans to tick seconds.
// E-stop starts Hard, the same default a real leg session applies.
func NewSimulatedController(
	legNumber int, geom geometry.LegGeometry, xyz r3.Vector, tick float64, logger logging.Logger,
) *SimulatedController {
	return &SimulatedController{
		legNumber:  legNumber,
		geom:       geom,
		tick:       tick,
		logger:     logger,
		hub:        signalhub.New(),
		estop:      Hard,
		xyz:        xyz,
		lastUpdate: time.Now(),
	}
}

func (c *SimulatedController) LegNumber() int { return c.legNumber }

// Geometry returns the leg's joint geometry.
func (c *SimulatedController) Geometry() geometry.LegGeometry { return c.geom }

func (c *SimulatedController) SetEstop(severity EstopSeverity) error {
	if severity == c.estop {
		return nil
	}
	c.estop = severity
	c.hub.Trigger(EventEstop, severity)
	return nil
}

func (c *SimulatedController) Estop() EstopSeverity { return c.estop }

func (c *SimulatedController) SendPlan(p plan.Plan) error {
	leg := p.ToLegFrame(c.legNumber)
	c.plan = &leg
	c.hub.Trigger(EventPlan, leg)
	return nil
}

func (c *SimulatedController) Stop() error {
	return c.SendPlan(plan.NewStop(plan.Leg, 0))
}

func (c *SimulatedController) SetPWM(hip, thigh, knee float64) error {
	if c.estop == Off {
		return ErrPWMRequiresEstop
	}
	c.hub.Trigger(EventSetPWM, [3]float64{hip, thigh, knee})
	return nil
}

func (c *SimulatedController) EnablePID(bool) error { return nil }

func (c *SimulatedController) Configure([]ConfigStep) error { return nil }

func (c *SimulatedController) PIDJointConfig(context.Context, int) (PIDJointConfig, error) {
	return PIDJointConfig{}, nil
}

func (c *SimulatedController) On(event string, handler func(any)) signalhub.Token {
	return c.hub.On(event, handler)
}

func (c *SimulatedController) Snapshot() Snapshot {
	return Snapshot{
		ADC:    c.adc,
		Angles: c.angles,
		XYZ:    XYZSample{Time: c.lastUpdate, Pos: c.xyz},
		PID:    c.pid,
		PWM:    c.pwm,
	}
}

// Update advances the simulator if at least minUpdateInterval seconds
// have passed since the previous call.
func (c *SimulatedController) Update(ctx context.Context) error {
	now := time.Now()
	dt := now.Sub(c.lastUpdate).Seconds()
	if dt < minUpdateInterval {
		return nil
	}
	c.advanceTick(now, dt)
	c.lastUpdate = now
	return nil
}

func (c *SimulatedController) advanceTick(now time.Time, dt float64) {
	if c.estop != Off || c.plan == nil {
		c.stampTime(now)
		c.emitTelemetry()
		return
	}

	p := *c.plan
	var newXYZ r3.Vector
	var err error
	if p.Mode() == plan.Matrix {
		// The matrix encodes a per-tick transform, so catching up N whole
		// ticks means applying it N times, not once scaled by N*tick.
		c.ddt += dt
		steps := int(math.Floor(c.ddt / c.tick))
		newXYZ = c.xyz
		for i := 0; i < steps && err == nil; i++ {
			newXYZ, err = kinematics.Follow(newXYZ, p, c.tick)
		}
		if steps > 0 {
			c.ddt -= float64(steps) * c.tick
		}
	} else {
		newXYZ, err = kinematics.Follow(c.xyz, p, dt)
	}
	if err != nil {
		c.logger.Warnf("legctl: leg %d failed to follow plan: %v", c.legNumber, err)
		c.stampTime(now)
		c.emitTelemetry()
		return
	}
	hip, thigh, knee, ikErr := c.geom.PointToAngles(newXYZ)
	if ikErr != nil {
		// the plan ran the foot clear out of the workspace; hold at
		// the last reachable position
		c.logger.Warnf("legctl: leg %d inverse kinematics failed: %v", c.legNumber, ikErr)
		_ = c.SetEstop(Hold)
		c.stampTime(now)
		c.emitTelemetry()
		return
	}
	c.xyz = newXYZ

	clampedHip, hipLimited := c.geom[geometry.Hip].Clamp(hip)
	clampedThigh, thighLimited := c.geom[geometry.Thigh].Clamp(thigh)
	clampedKnee, kneeLimited := c.geom[geometry.Knee].Clamp(knee)
	if hipLimited || thighLimited || kneeLimited {
		c.xyz = c.geom.AnglesToPoint(clampedHip, clampedThigh, clampedKnee)
		hip, thigh, knee = clampedHip, clampedThigh, clampedKnee
		_ = c.SetEstop(Hold)
	}

	c.angles = AnglesSample{Time: now, Hip: hip, Thigh: thigh, Knee: knee, Valid: true}
	c.stampTime(now)
	c.emitTelemetry()
}

func (c *SimulatedController) stampTime(now time.Time) {
	c.angles.Time = now
	c.adc.Time = now
	c.pwm.Time = now
	c.pid.Time = now
}

func (c *SimulatedController) emitTelemetry() {
	c.hub.Trigger(EventADC, c.adc)
	c.hub.Trigger(EventPWM, c.pwm)
	c.hub.Trigger(EventPID, c.pid)
	c.hub.Trigger(EventAngles, c.angles)
	c.hub.Trigger(EventXYZ, XYZSample{Time: c.lastUpdate, Pos: c.xyz})
}
