// Package tensor holds the dtype-tagged numeric arrays exchanged between
// models, the extraction loop and the feature store.
package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// DType names the element type of an Array.
type DType string

const (
	Float32 DType = "float32"
	Float16 DType = "float16"
	Float64 DType = "float64"
	Int64   DType = "int64"
)

// Size returns the width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

// Array is a dense row-major N-d array. Exactly one of the backing slices
// is populated, selected by DType.
type Array struct {
	DType DType
	Shape []int

	f32 []float32
	f16 []float16.Float16
	f64 []float64
	i64 []int64
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func checkShape(n int, shape []int) []int {
	if len(shape) == 0 {
		return []int{n}
	}
	if numel(shape) != n {
		panic(fmt.Sprintf("tensor: %d elements do not fit shape %v", n, shape))
	}
	return append([]int(nil), shape...)
}

// FromFloat32 wraps data without copying. An empty shape means 1-D.
func FromFloat32(data []float32, shape ...int) *Array {
	return &Array{DType: Float32, Shape: checkShape(len(data), shape), f32: data}
}

// FromFloat64 wraps data without copying.
func FromFloat64(data []float64, shape ...int) *Array {
	return &Array{DType: Float64, Shape: checkShape(len(data), shape), f64: data}
}

// FromInt64 wraps data without copying.
func FromInt64(data []int64, shape ...int) *Array {
	return &Array{DType: Int64, Shape: checkShape(len(data), shape), i64: data}
}

// FromFloat16 wraps data without copying.
func FromFloat16(data []float16.Float16, shape ...int) *Array {
	return &Array{DType: Float16, Shape: checkShape(len(data), shape), f16: data}
}

// Zeros allocates a float32 array of the given shape.
func Zeros(shape ...int) *Array {
	return FromFloat32(make([]float32, numel(shape)), shape...)
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return numel(a.Shape)
}

// NDim returns the number of dimensions.
func (a *Array) NDim() int {
	return len(a.Shape)
}

// Rows returns the size of the leading dimension, 0 for a scalar.
func (a *Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// IsFloat reports whether the array holds floating point values.
func (a *Array) IsFloat() bool {
	return a.DType == Float16 || a.DType == Float32 || a.DType == Float64
}

// Float32s returns the elements as float32. For float32 arrays the backing
// slice is returned as is; other dtypes are converted into a new slice.
func (a *Array) Float32s() []float32 {
	switch a.DType {
	case Float32:
		return a.f32
	case Float16:
		out := make([]float32, len(a.f16))
		for i, v := range a.f16 {
			out[i] = v.Float32()
		}
		return out
	case Float64:
		out := make([]float32, len(a.f64))
		for i, v := range a.f64 {
			out[i] = float32(v)
		}
		return out
	case Int64:
		out := make([]float32, len(a.i64))
		for i, v := range a.i64 {
			out[i] = float32(v)
		}
		return out
	}
	return nil
}

// Float64s returns the elements converted to float64 in a new slice, or the
// backing slice for float64 arrays.
func (a *Array) Float64s() []float64 {
	switch a.DType {
	case Float64:
		return a.f64
	case Int64:
		out := make([]float64, len(a.i64))
		for i, v := range a.i64 {
			out[i] = float64(v)
		}
		return out
	}
	f := a.Float32s()
	out := make([]float64, len(f))
	for i, v := range f {
		out[i] = float64(v)
	}
	return out
}

// Int64s returns the backing slice of an int64 array, nil otherwise.
func (a *Array) Int64s() []int64 {
	return a.i64
}

// Float16s returns the backing slice of a float16 array, nil otherwise.
func (a *Array) Float16s() []float16.Float16 {
	return a.f16
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	out := &Array{DType: a.DType, Shape: append([]int(nil), a.Shape...)}
	switch a.DType {
	case Float32:
		out.f32 = append([]float32(nil), a.f32...)
	case Float16:
		out.f16 = append([]float16.Float16(nil), a.f16...)
	case Float64:
		out.f64 = append([]float64(nil), a.f64...)
	case Int64:
		out.i64 = append([]int64(nil), a.i64...)
	}
	return out
}

// Squeeze drops a leading dimension of size 1. The data is shared.
func (a *Array) Squeeze() (*Array, error) {
	if len(a.Shape) == 0 || a.Shape[0] != 1 {
		return nil, fmt.Errorf("tensor: cannot squeeze leading dimension of shape %v", a.Shape)
	}
	out := *a
	out.Shape = append([]int(nil), a.Shape[1:]...)
	return &out, nil
}

// Reshape returns a view with a new shape holding the same number of elements.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	if numel(shape) != a.Len() {
		return nil, fmt.Errorf("tensor: cannot reshape %v into %v", a.Shape, shape)
	}
	out := *a
	out.Shape = append([]int(nil), shape...)
	return &out, nil
}

// Downcast converts float32 arrays to float16. Every other dtype is
// returned unchanged.
func (a *Array) Downcast() *Array {
	if a.DType != Float32 {
		return a
	}
	half := make([]float16.Float16, len(a.f32))
	for i, v := range a.f32 {
		half[i] = float16.Fromfloat32(v)
	}
	return FromFloat16(half, a.Shape...)
}

// String implements fmt.Stringer for logging.
func (a *Array) String() string {
	return fmt.Sprintf("%s%v", a.DType, a.Shape)
}
