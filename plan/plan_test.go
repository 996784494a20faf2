package plan

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestRoundTripLegFrame(t *testing.T) {
	cases := []Plan{
		NewStop(Leg, 1.0),
		NewVelocity(Leg, r3.Vector{X: 1, Y: 2, Z: 3}, 0.5),
		NewTarget(Leg, r3.Vector{X: -1, Y: 0, Z: 4}, 0.25),
		NewArc(Leg, r3.Vector{X: 1, Y: 0, Z: 0}, r3.Vector{X: 0, Y: 0, Z: 1}, 0.3),
		NewMatrix(Leg, Matrix44{{1, 0, 0, 5}, {0, 1, 0, 6}, {0, 0, 1, 7}}, 0.4),
	}
	for _, p := range cases {
		packed := p.Pack(1)
		got, err := Unpack(packed)
		assert.NoError(t, err)
		assert.Equal(t, p.Mode(), got.Mode())
		assert.Equal(t, p.Frame(), got.Frame())
		assert.InDelta(t, p.Linear().X, got.Linear().X, 1e-9)
		assert.InDelta(t, p.Speed(), got.Speed(), 1e-9)
	}
}

func TestBodyFramePlanRewrittenToLegOnPack(t *testing.T) {
	p := NewVelocity(Body, r3.Vector{X: 1, Y: 0, Z: 0}, 1.0)
	packed := p.Pack(2)
	got, err := Unpack(packed)
	assert.NoError(t, err)
	// Pack always rewrites Body away: the round trip yields Leg, not Body.
	assert.Equal(t, Leg, got.Frame())
	assert.NotEqual(t, p.Linear().X, got.Linear().X)
}

func TestMatrixBodyFrameTranslationRotated(t *testing.T) {
	m := Matrix44{{1, 0, 0, 10}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	p := NewMatrix(Body, m, 1.0)
	leg := p.ToLegFrame(4)
	assert.Equal(t, Leg, leg.Frame())
	assert.NotEqual(t, 10.0, leg.MatrixValue()[0][3])
}

func TestUnpackShortPayload(t *testing.T) {
	_, err := Unpack([]float64{float64(Velocity), float64(Leg)})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestLegFramePlanUnaffectedByToLegFrame(t *testing.T) {
	p := NewStop(Leg, 1.0)
	assert.Equal(t, p, p.ToLegFrame(3))
}
