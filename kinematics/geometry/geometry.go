// Package geometry holds the per-joint mechanical parameters of a leg and
// the pure angle<->point conversions and frame rotations built from them.
//
// The inverse/forward kinematics solve itself is an injected pure
// function, not part of this spec; AnglesToPoint/PointToAngles below are
// one default implementation (a planar triangle solve per joint) good
// enough to drive the simulator and tests, and swappable by any caller
// that constructs its own.
package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Joint indexes, matching firmware's fixed ordering.
const (
	Hip = iota
	Thigh
	Knee
	NumJoints
)

// JointGeometry is the nine-parameter description of one joint, uploaded
// to firmware once at session start and invariant thereafter.
type JointGeometry struct {
	CylinderMin float64
	CylinderMax float64
	TriangleA   float64
	TriangleB   float64
	ZeroAngle   float64
	RestAngle   float64
	Length      float64
	MinAngle    float64
	MaxAngle    float64
}

// Geometry parameter indexes, matching the firmware's set_geometry
// command encoding: (joint index, parameter index, value).
const (
	GeomCylinderMin = iota
	GeomCylinderMax
	GeomTriangleA
	GeomTriangleB
	GeomZeroAngle
	GeomRestAngle
	GeomLength
	GeomMinAngle
	GeomMaxAngle
	NumGeomParams
)

// Params flattens the joint's nine parameters in firmware upload order.
func (g JointGeometry) Params() [NumGeomParams]float64 {
	return [NumGeomParams]float64{
		g.CylinderMin, g.CylinderMax,
		g.TriangleA, g.TriangleB,
		g.ZeroAngle, g.RestAngle,
		g.Length,
		g.MinAngle, g.MaxAngle,
	}
}

// Clamp returns angle restricted to [MinAngle, MaxAngle] and whether
// clamping changed the value.
func (g JointGeometry) Clamp(angle float64) (clamped float64, didClamp bool) {
	switch {
	case angle < g.MinAngle:
		return g.MinAngle, true
	case angle > g.MaxAngle:
		return g.MaxAngle, true
	default:
		return angle, false
	}
}

// LegGeometry is the full three-joint geometry of one leg.
type LegGeometry [NumJoints]JointGeometry

// ErrOutOfReach is returned by PointToAngles when p cannot be solved
// under the triangle law of cosines (point beyond the leg's reach).
var ErrOutOfReach = errors.New("geometry: point out of reach")

// AnglesToPoint computes the Cartesian foot position from joint angles
// using a planar triangle solve: the hip angle rotates about Z, thigh and
// knee position the foot within the leg's vertical plane via the law of
// cosines on TriangleA/TriangleB.
func (g LegGeometry) AnglesToPoint(hip, thigh, knee float64) r3.Vector {
	hipG, thighG, kneeG := g[Hip], g[Thigh], g[Knee]
	// radial reach in the leg's vertical plane, accumulated from the two
	// triangle sides via the thigh/knee angles (knee measured relative to
	// thigh, matching firmware's joint convention).
	thighAngle := thigh - thighG.ZeroAngle
	kneeAngle := knee - kneeG.ZeroAngle
	r := hipG.Length +
		thighG.TriangleA*math.Cos(thighAngle) +
		kneeG.TriangleB*math.Cos(thighAngle+kneeAngle)
	z := thighG.TriangleA*math.Sin(thighAngle) +
		kneeG.TriangleB*math.Sin(thighAngle+kneeAngle)
	hipAngle := hip - hipG.ZeroAngle
	return r3.Vector{
		X: r * math.Cos(hipAngle),
		Y: r * math.Sin(hipAngle),
		Z: z,
	}
}

// PointToAngles is the inverse of AnglesToPoint: given a target foot
// position, solve for hip/thigh/knee angles via the law of cosines.
func (g LegGeometry) PointToAngles(p r3.Vector) (hip, thigh, knee float64, err error) {
	hipG, thighG, kneeG := g[Hip], g[Thigh], g[Knee]
	hipAngle := math.Atan2(p.Y, p.X) + hipG.ZeroAngle
	r := math.Hypot(p.X, p.Y) - hipG.Length
	reach := math.Hypot(r, p.Z)

	a, b := thighG.TriangleA, kneeG.TriangleB
	if reach > a+b || reach < math.Abs(a-b) {
		return 0, 0, 0, ErrOutOfReach
	}

	// law of cosines for the knee included angle; the knee folds under
	// the thigh, so its joint angle is negative, 0 at full extension
	cosKnee := (a*a + b*b - reach*reach) / (2 * a * b)
	cosKnee = clampUnit(cosKnee)
	kneeInternal := math.Acos(cosKnee)
	kneeAngle := kneeInternal - math.Pi

	// angle between the thigh link and the line to the target
	cosAlpha := (a*a + reach*reach - b*b) / (2 * a * reach)
	cosAlpha = clampUnit(cosAlpha)
	alpha := math.Acos(cosAlpha)
	beta := math.Atan2(p.Z, r)
	thighAngle := beta + alpha

	thigh = thighAngle + thighG.ZeroAngle
	knee = kneeAngle + kneeG.ZeroAngle
	return hipAngle, thigh, knee, nil
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// BodyToLeg rotates/translates a body-frame vector into legNumber's local
// frame. The rotation is a fixed per-leg yaw determined by position
// around the hexagonal body, matching the six evenly-spaced mount
// points; no translation offset is modeled here since foot-center
// offsets are applied separately by the gait coordinator.
func BodyToLeg(legNumber int, v r3.Vector) r3.Vector {
	theta := -legMountYaw(legNumber)
	return rotateZ(v, theta)
}

// LegToBody is the inverse of BodyToLeg.
func LegToBody(legNumber int, v r3.Vector) r3.Vector {
	theta := legMountYaw(legNumber)
	return rotateZ(v, theta)
}

// legMountYaw returns the body-frame yaw, in radians, of the leg's mount
// point around the hexagon, legs 1..6 spaced 60 degrees apart starting at
// front-left.
func legMountYaw(legNumber int) float64 {
	return float64(legNumber-1) * (math.Pi / 3)
}

func rotateZ(v r3.Vector, theta float64) r3.Vector {
	c, s := math.Cos(theta), math.Sin(theta)
	return r3.Vector{
		X: v.X*c - v.Y*s,
		Y: v.X*s + v.Y*c,
		Z: v.Z,
	}
}
