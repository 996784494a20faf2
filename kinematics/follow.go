// Package kinematics advances a foot's Cartesian position along a Plan,
// the pure model the leg simulator runs every tick in the absence of
// firmware.
package kinematics

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viamrobotics/hexctl/plan"
)

// ErrNonLegFrame is returned by Follow when given a plan whose frame is
// not Leg. Body-frame plans are rewritten to leg frame by
// plan.Plan.ToLegFrame (which plan.Plan.Pack also applies) inside each
// controller's SendPlan (real or simulated); Follow enforces that invariant rather than attempting a
// frame conversion of its own, so this error path is a safety net, not a
// load-bearing one.
var ErrNonLegFrame = errors.New("kinematics: follow requires a leg-frame plan")

// Follow advances xyz by dt seconds under p and returns the new
// position. Stop leaves xyz unchanged regardless of dt.
func Follow(xyz r3.Vector, p plan.Plan, dt float64) (r3.Vector, error) {
	if p.Mode() == plan.Stop {
		return xyz, nil
	}
	if p.Frame() != plan.Leg {
		return xyz, ErrNonLegFrame
	}
	switch p.Mode() {
	case plan.Velocity:
		return xyz.Add(p.Linear().Mul(p.Speed() * dt)), nil
	case plan.Target:
		return followTarget(xyz, p, dt), nil
	case plan.Arc:
		return followArc(xyz, p, dt), nil
	case plan.Matrix:
		return followMatrix(xyz, p), nil
	default:
		return xyz, nil
	}
}

func followTarget(xyz r3.Vector, p plan.Plan, dt float64) r3.Vector {
	toTarget := p.Linear().Sub(xyz)
	dist := toTarget.Norm()
	step := p.Speed() * dt
	if step <= 0 || dist == 0 {
		return xyz
	}
	if step >= dist {
		return p.Linear()
	}
	return xyz.Add(toTarget.Mul(step / dist))
}

func followArc(xyz r3.Vector, p plan.Plan, dt float64) r3.Vector {
	axis := p.Angular()
	angle := p.Speed() * dt
	rotated := xyz
	if axis.Norm() > 0 {
		rotated = rotateAboutAxis(xyz, axis.Normalize(), angle)
	}
	return rotated.Add(p.Linear().Mul(p.Speed() * dt))
}

// rotateAboutAxis applies Rodrigues' rotation formula.
func rotateAboutAxis(v, axis r3.Vector, angle float64) r3.Vector {
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	term1 := v.Mul(cosA)
	term2 := axis.Cross(v).Mul(sinA)
	term3 := axis.Mul(axis.Dot(v) * (1 - cosA))
	return term1.Add(term2).Add(term3)
}

func followMatrix(xyz r3.Vector, p plan.Plan) r3.Vector {
	m := p.MatrixValue()
	return r3.Vector{
		X: m[0][0]*xyz.X + m[0][1]*xyz.Y + m[0][2]*xyz.Z + m[0][3],
		Y: m[1][0]*xyz.X + m[1][1]*xyz.Y + m[1][2]*xyz.Z + m[1][3],
		Z: m[2][0]*xyz.X + m[2][1]*xyz.Y + m[2][2]*xyz.Z + m[2][3],
	}
}
