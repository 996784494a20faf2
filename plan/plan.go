// Package plan defines the immutable motion-command value sent to a leg
// controller, and its wire packing.
package plan

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viamrobotics/hexctl/kinematics/geometry"
)

// Mode identifies which variant of Plan is populated.
type Mode uint8

const (
	Stop Mode = iota
	Velocity
	Arc
	Target
	Matrix
)

// Frame identifies the reference frame a Plan's vector/matrix fields are
// expressed in.
type Frame uint8

const (
	Sensor Frame = iota
	Joint
	Leg
	Body
)

// Matrix44 is a 3x4 row-major affine transform (the fourth row, always
// [0 0 0 1], is implicit and not transmitted).
type Matrix44 [3][4]float64

// Plan is an immutable, tagged motion command. Construct one with the
// New* functions; there is no exported way to mutate a Plan after
// construction.
type Plan struct {
	mode    Mode
	frame   Frame
	linear  r3.Vector
	angular r3.Vector
	matrix  Matrix44
	speed   float64
}

// Mode, Frame, Linear, Angular, MatrixValue and Speed return the Plan's
// fields; unused fields for a given Mode read as their zero value.
func (p Plan) Mode() Mode          { return p.mode }
func (p Plan) Frame() Frame        { return p.frame }
func (p Plan) Linear() r3.Vector   { return p.linear }
func (p Plan) Angular() r3.Vector  { return p.angular }
func (p Plan) MatrixValue() Matrix44 { return p.matrix }
func (p Plan) Speed() float64      { return p.speed }

// NewStop constructs a Stop plan.
func NewStop(frame Frame, speed float64) Plan {
	return Plan{mode: Stop, frame: frame, speed: speed}
}

// NewVelocity constructs a Velocity plan.
func NewVelocity(frame Frame, linear r3.Vector, speed float64) Plan {
	return Plan{mode: Velocity, frame: frame, linear: linear, speed: speed}
}

// NewArc constructs an Arc plan.
func NewArc(frame Frame, linear, angular r3.Vector, speed float64) Plan {
	return Plan{mode: Arc, frame: frame, linear: linear, angular: angular, speed: speed}
}

// NewTarget constructs a Target plan.
func NewTarget(frame Frame, linear r3.Vector, speed float64) Plan {
	return Plan{mode: Target, frame: frame, linear: linear, speed: speed}
}

// NewMatrix constructs a Matrix plan.
func NewMatrix(frame Frame, m Matrix44, speed float64) Plan {
	return Plan{mode: Matrix, frame: frame, matrix: m, speed: speed}
}

// ErrShortPayload is returned by Unpack when given fewer scalars than its
// mode tag requires.
var ErrShortPayload = errors.New("plan: payload too short for its mode")

// ToLegFrame returns p rewritten into legNumber's local frame if p.frame
// is Body, translating/rotating its linear, angular, and matrix
// components; otherwise it returns p unchanged. This is applied
// unconditionally by Pack, so no body-frame plan ever reaches the wire.
func (p Plan) ToLegFrame(legNumber int) Plan {
	if p.frame != Body {
		return p
	}
	out := p
	out.frame = Leg
	out.linear = geometry.BodyToLeg(legNumber, p.linear)
	out.angular = geometry.BodyToLeg(legNumber, p.angular)
	if p.mode == Matrix {
		m := p.matrix
		apply := func(v r3.Vector) r3.Vector {
			return r3.Vector{
				X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
				Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
				Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
			}
		}
		// the 3x3 block is conjugated by the mount rotation, column by
		// column; the translation column is rotated like any vector
		var rotated Matrix44
		for c, e := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
			col := geometry.BodyToLeg(legNumber, apply(geometry.LegToBody(legNumber, e)))
			rotated[0][c], rotated[1][c], rotated[2][c] = col.X, col.Y, col.Z
		}
		translation := geometry.BodyToLeg(legNumber, r3.Vector{X: m[0][3], Y: m[1][3], Z: m[2][3]})
		rotated[0][3], rotated[1][3], rotated[2][3] = translation.X, translation.Y, translation.Z
		out.matrix = rotated
	}
	return out
}

// Pack serializes p, addressed to legNumber, into the flat scalar list
// the wire codec transmits for the plan(3) command, rewriting a Body
// frame into legNumber's local frame first.
func (p Plan) Pack(legNumber int) []float64 {
	leg := p.ToLegFrame(legNumber)
	switch leg.mode {
	case Stop:
		return []float64{float64(leg.mode), float64(leg.frame), leg.speed}
	case Velocity, Target:
		return []float64{
			float64(leg.mode), float64(leg.frame),
			leg.linear.X, leg.linear.Y, leg.linear.Z,
			leg.speed,
		}
	case Arc:
		return []float64{
			float64(leg.mode), float64(leg.frame),
			leg.linear.X, leg.linear.Y, leg.linear.Z,
			leg.angular.X, leg.angular.Y, leg.angular.Z,
			leg.speed,
		}
	case Matrix:
		out := make([]float64, 0, 14)
		out = append(out, float64(leg.mode), float64(leg.frame))
		for _, row := range leg.matrix {
			out = append(out, row[:]...)
		}
		out = append(out, leg.speed)
		return out
	default:
		return nil
	}
}

// Unpack is the inverse of Pack: it reconstructs a Plan from a flat
// scalar list whose first element is a Mode. Round-tripping a Body-frame
// plan through Pack then Unpack yields a Leg-frame plan, since Pack
// always rewrites Body away before transmission.
func Unpack(data []float64) (Plan, error) {
	if len(data) < 2 {
		return Plan{}, ErrShortPayload
	}
	mode := Mode(data[0])
	frame := Frame(data[1])
	rest := data[2:]
	switch mode {
	case Stop:
		if len(rest) < 1 {
			return Plan{}, ErrShortPayload
		}
		return NewStop(frame, rest[0]), nil
	case Velocity, Target:
		if len(rest) < 4 {
			return Plan{}, ErrShortPayload
		}
		linear := r3.Vector{X: rest[0], Y: rest[1], Z: rest[2]}
		speed := rest[3]
		if mode == Velocity {
			return NewVelocity(frame, linear, speed), nil
		}
		return NewTarget(frame, linear, speed), nil
	case Arc:
		if len(rest) < 7 {
			return Plan{}, ErrShortPayload
		}
		linear := r3.Vector{X: rest[0], Y: rest[1], Z: rest[2]}
		angular := r3.Vector{X: rest[3], Y: rest[4], Z: rest[5]}
		return NewArc(frame, linear, angular, rest[6]), nil
	case Matrix:
		if len(rest) < 13 {
			return Plan{}, ErrShortPayload
		}
		var m Matrix44
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				m[r][c] = rest[r*4+c]
			}
		}
		return NewMatrix(frame, m, rest[12]), nil
	default:
		return Plan{}, errors.Errorf("plan: unknown mode %d", mode)
	}
}
