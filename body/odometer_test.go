package body

import (
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"

	"github.com/viamrobotics/hexctl/restriction"
)

func TestOdometerIntegratesTranslation(t *testing.T) {
	o := NewOdometer()
	o.Enabled = true
	o.SetTarget(restriction.BodyTarget{Translate: true, Speed: 2, Dz: 0.5})

	t0 := time.Now()
	o.update(t0)
	o.update(t0.Add(time.Second))

	pose := o.Pose()
	assert.InDelta(t, 2.0, pose.X, 1e-9)
	assert.InDelta(t, 0.0, pose.Y, 1e-9)
	assert.InDelta(t, 0.5, pose.Z, 1e-9)
}

func TestOdometerDisabledAccumulatesNothing(t *testing.T) {
	o := NewOdometer()
	o.SetTarget(restriction.BodyTarget{Translate: true, Speed: 2})

	t0 := time.Now()
	o.update(t0)
	o.update(t0.Add(time.Second))
	assert.Equal(t, Pose{}, o.Pose())

	// re-enabling must not back-fill the disabled interval
	o.Enabled = true
	o.update(t0.Add(2 * time.Second))
	assert.InDelta(t, 2.0, o.Pose().X, 1e-9)
}

func TestOdometerArcAccumulatesYaw(t *testing.T) {
	o := NewOdometer()
	o.Enabled = true
	o.SetTarget(restriction.BodyTarget{
		RotationCenter: r2.Point{X: 10, Y: 0}, Speed: 0.5,
	})

	t0 := time.Now()
	o.update(t0)
	o.update(t0.Add(time.Second))
	assert.InDelta(t, 0.5, o.Pose().Yaw, 1e-9)
}

func TestOdometerReset(t *testing.T) {
	o := NewOdometer()
	o.Enabled = true
	o.SetTarget(restriction.BodyTarget{Translate: true, Speed: 1})

	t0 := time.Now()
	o.update(t0)
	o.update(t0.Add(time.Second))
	assert.NotEqual(t, Pose{}, o.Pose())

	o.Reset()
	assert.Equal(t, Pose{}, o.Pose())

	// the clock restarts too: the first post-reset interval is dropped
	o.update(t0.Add(2 * time.Second))
	assert.Equal(t, Pose{}, o.Pose())
}
