package tensor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Encode serializes the elements as a little-endian byte sequence with no
// header; dtype and shape are stored alongside by the caller.
func (a *Array) Encode() []byte {
	size := a.DType.Size()
	b := make([]byte, a.Len()*size)
	switch a.DType {
	case Float32:
		for i, v := range a.f32 {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
		}
	case Float16:
		for i, v := range a.f16 {
			binary.LittleEndian.PutUint16(b[i*2:], v.Bits())
		}
	case Float64:
		for i, v := range a.f64 {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
		}
	case Int64:
		for i, v := range a.i64 {
			binary.LittleEndian.PutUint64(b[i*8:], uint64(v))
		}
	}
	return b
}

// Decode rebuilds an array produced by Encode.
func Decode(dtype DType, shape []int, b []byte) (*Array, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("tensor: unknown dtype %q", dtype)
	}
	n := numel(shape)
	if len(b) != n*size {
		return nil, fmt.Errorf("tensor: blob length %d does not match %s%v", len(b), dtype, shape)
	}
	switch dtype {
	case Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return FromFloat32(out, shape...), nil
	case Float16:
		out := make([]float16.Float16, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*2:]))
		}
		return FromFloat16(out, shape...), nil
	case Float64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
		return FromFloat64(out, shape...), nil
	default:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
		}
		return FromInt64(out, shape...), nil
	}
}

// EncodeShape renders a shape as a JSON list.
func EncodeShape(shape []int) string {
	b, _ := json.Marshal(shape)
	return string(b)
}

// DecodeShape parses a shape produced by EncodeShape.
func DecodeShape(s string) ([]int, error) {
	var shape []int
	if err := json.Unmarshal([]byte(s), &shape); err != nil {
		return nil, fmt.Errorf("tensor: invalid shape %q: %w", s, err)
	}
	return shape, nil
}
