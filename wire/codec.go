package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrArgCount is returned when the number of float64 values handed to
// Encode does not match the number of ArgType entries in the signature.
var ErrArgCount = errors.New("wire: argument count mismatch")

// Encode serializes values according to types, in order, with fixed
// little-endian widths (u8/bool as 1 byte, i32/u32/f32 as 4 bytes).
// Every value is carried as a float64 at the API boundary and narrowed
// to its wire type here, so callers (plan packing, PID config) don't
// need a parallel untyped-argument type.
func Encode(types []ArgType, values []float64) ([]byte, error) {
	if len(types) != len(values) {
		return nil, errors.Wrapf(ErrArgCount, "want %d got %d", len(types), len(values))
	}
	buf := make([]byte, 0, sumSizes(types))
	for i, t := range types {
		buf = appendScalar(buf, t, values[i])
	}
	return buf, nil
}

func sumSizes(types []ArgType) int {
	n := 0
	for _, t := range types {
		n += t.Size()
	}
	return n
}

func appendScalar(buf []byte, t ArgType, v float64) []byte {
	switch t {
	case ArgU8:
		return append(buf, byte(uint8(v)))
	case ArgBool:
		if v != 0 {
			return append(buf, 1)
		}
		return append(buf, 0)
	case ArgI32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(int32(v)))
		return append(buf, tmp[:]...)
	case ArgU32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		return append(buf, tmp[:]...)
	case ArgF32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(float32(v)))
		return append(buf, tmp[:]...)
	default:
		return buf
	}
}

// ErrShortBuffer is returned by Decode when payload is shorter than
// types requires.
var ErrShortBuffer = errors.New("wire: payload shorter than signature")

// Decode is the inverse of Encode: it reads len(types) scalars from
// payload in order, returning each widened to float64.
func Decode(types []ArgType, payload []byte) ([]float64, error) {
	out := make([]float64, len(types))
	off := 0
	for i, t := range types {
		if off+t.Size() > len(payload) {
			return nil, ErrShortBuffer
		}
		switch t {
		case ArgU8:
			out[i] = float64(payload[off])
		case ArgBool:
			out[i] = boolToFloat(payload[off] != 0)
		case ArgI32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(payload[off : off+4])))
		case ArgU32:
			out[i] = float64(binary.LittleEndian.Uint32(payload[off : off+4]))
		case ArgF32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[off : off+4])))
		}
		off += t.Size()
	}
	return out, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
