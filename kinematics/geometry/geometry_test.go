package geometry

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func testLeg() LegGeometry {
	return LegGeometry{
		Hip: {
			Length: 5, ZeroAngle: 0,
			MinAngle: -math.Pi / 2, MaxAngle: math.Pi / 2,
		},
		Thigh: {
			TriangleA: 20, ZeroAngle: 0,
			MinAngle: -math.Pi / 2, MaxAngle: math.Pi / 2,
		},
		Knee: {
			TriangleB: 20, ZeroAngle: 0,
			MinAngle: -math.Pi, MaxAngle: 0,
		},
	}
}

func TestAnglesToPointRoundTrip(t *testing.T) {
	g := testLeg()
	hip, thigh, knee := 0.1, 0.3, -1.2

	p := g.AnglesToPoint(hip, thigh, knee)
	h2, t2, k2, err := g.PointToAngles(p)
	assert.NoError(t, err)

	p2 := g.AnglesToPoint(h2, t2, k2)
	assert.InDelta(t, p.X, p2.X, 1e-6)
	assert.InDelta(t, p.Y, p2.Y, 1e-6)
	assert.InDelta(t, p.Z, p2.Z, 1e-6)
}

func TestPointToAnglesOutOfReach(t *testing.T) {
	g := testLeg()
	_, _, _, err := g.PointToAngles(r3.Vector{X: 1000, Y: 0, Z: 0})
	assert.ErrorIs(t, err, ErrOutOfReach)
}

func TestJointGeometryClamp(t *testing.T) {
	g := JointGeometry{MinAngle: -1, MaxAngle: 1}

	v, clamped := g.Clamp(0.5)
	assert.Equal(t, 0.5, v)
	assert.False(t, clamped)

	v, clamped = g.Clamp(2)
	assert.Equal(t, 1.0, v)
	assert.True(t, clamped)

	v, clamped = g.Clamp(-2)
	assert.Equal(t, -1.0, v)
	assert.True(t, clamped)
}

func TestBodyToLegRoundTrip(t *testing.T) {
	v := r3.Vector{X: 3, Y: 4, Z: 5}
	for leg := 1; leg <= 6; leg++ {
		leg2body := LegToBody(leg, BodyToLeg(leg, v))
		assert.InDelta(t, v.X, leg2body.X, 1e-9)
		assert.InDelta(t, v.Y, leg2body.Y, 1e-9)
		assert.InDelta(t, v.Z, leg2body.Z, 1e-9)
	}
}
