package kinematics

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"

	"github.com/viamrobotics/hexctl/plan"
)

func TestFollowStopNeverMoves(t *testing.T) {
	xyz := r3.Vector{X: 1, Y: 2, Z: 3}
	for _, dt := range []float64{0, 0.1, 1.0, 100} {
		got, err := Follow(xyz, plan.NewStop(plan.Leg, 1.0), dt)
		assert.NoError(t, err)
		assert.Equal(t, xyz, got)
	}
}

func TestFollowVelocity(t *testing.T) {
	xyz := r3.Vector{X: 40, Y: 0, Z: -40}
	p := plan.NewVelocity(plan.Leg, r3.Vector{X: 1, Y: 0, Z: 0}, 1.0)
	got, err := Follow(xyz, p, 1.0)
	assert.NoError(t, err)
	assert.InDelta(t, 41.0, got.X, 1e-9)
}

func TestFollowTargetDoesNotOvershoot(t *testing.T) {
	xyz := r3.Vector{X: 0, Y: 0, Z: 0}
	target := r3.Vector{X: 1, Y: 0, Z: 0}
	p := plan.NewTarget(plan.Leg, target, 10.0)
	got, err := Follow(xyz, p, 1.0)
	assert.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestFollowRejectsNonLegFrame(t *testing.T) {
	xyz := r3.Vector{}
	p := plan.NewVelocity(plan.Body, r3.Vector{X: 1}, 1.0)
	_, err := Follow(xyz, p, 0.1)
	assert.ErrorIs(t, err, ErrNonLegFrame)
}

func TestFollowMatrixIdentityNoTranslation(t *testing.T) {
	xyz := r3.Vector{X: 5, Y: 6, Z: 7}
	m := plan.Matrix44{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	got, err := Follow(xyz, plan.NewMatrix(plan.Leg, m, 1.0), 0.025)
	assert.NoError(t, err)
	assert.Equal(t, xyz, got)
}
