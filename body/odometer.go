package body

import (
	"math"
	"time"

	"github.com/viamrobotics/hexctl/restriction"
)

// Pose is the odometer's accumulated body estimate: planar position,
// heading, and height change since the last reset.
type Pose struct {
	X, Y, Z, Yaw float64
}

// Odometer integrates the commanded body target over enabled time into
// an estimated traveled pose. It is dead reckoning off the command
// stream, not the feet: good enough for an operator's "how far have we
// walked" display, and disabled outright while the body is halted so
// halts don't count as travel.
type Odometer struct {
	Enabled bool

	target     restriction.BodyTarget
	hasTarget  bool
	pose       Pose
	lastUpdate time.Time
}

// NewOdometer returns a disabled odometer with a zero pose.
func NewOdometer() *Odometer {
	return &Odometer{}
}

// SetTarget records the body target whose motion subsequent Update
// calls integrate.
func (o *Odometer) SetTarget(target restriction.BodyTarget) {
	o.target = target
	o.hasTarget = true
}

// Reset zeros the accumulated pose and restarts the integration clock.
func (o *Odometer) Reset() {
	o.pose = Pose{}
	o.lastUpdate = time.Time{}
}

// Pose returns the accumulated estimate.
func (o *Odometer) Pose() Pose { return o.pose }

// Update advances the integration by the wall time elapsed since the
// previous call. Time spent disabled (halted) is dropped, not
// accumulated.
func (o *Odometer) Update() {
	now := time.Now()
	o.update(now)
}

func (o *Odometer) update(now time.Time) {
	last := o.lastUpdate
	o.lastUpdate = now
	if !o.Enabled || !o.hasTarget || last.IsZero() {
		return
	}
	dt := now.Sub(last).Seconds()
	if dt <= 0 {
		return
	}
	o.pose.Z += o.target.Dz * dt

	if o.target.Translate {
		d := o.target.Speed * dt
		o.pose.X += d * math.Cos(o.pose.Yaw)
		o.pose.Y += d * math.Sin(o.pose.Yaw)
		return
	}
	// arc about the rotation center: speed is angular, the center is
	// fixed in the body frame, so the body both turns and translates
	dyaw := o.target.Speed * dt
	c := o.target.RotationCenter
	r := math.Hypot(c.X, c.Y)
	o.pose.Yaw += dyaw
	if r > 0 {
		d := r * dyaw
		heading := o.pose.Yaw + math.Atan2(c.Y, c.X) + math.Pi/2
		o.pose.X += d * math.Cos(heading)
		o.pose.Y += d * math.Sin(heading)
	}
}
