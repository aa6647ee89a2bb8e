package tensor

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestEncodeDecode_AllDTypes(t *testing.T) {
	arrays := []*Array{
		FromFloat32([]float32{1.5, -2, 0, 3.25, 1e-7, 42}, 2, 3),
		FromFloat64([]float64{0.1, -0.2, 1e300}, 3),
		FromInt64([]int64{-1, 0, 1 << 40, 7}, 2, 2),
		FromFloat32([]float32{0.5, 0.25, -4}, 3).Downcast(),
	}
	for _, a := range arrays {
		t.Run(string(a.DType), func(t *testing.T) {
			b := a.Encode()
			assert.Len(t, b, a.Len()*a.DType.Size())

			shape, err := DecodeShape(EncodeShape(a.Shape))
			require.NoError(t, err)
			got, err := Decode(a.DType, shape, b)
			require.NoError(t, err)
			assert.Equal(t, a, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("complex64", []int{1}, make([]byte, 8))
	assert.Error(t, err)

	_, err = Decode(Float32, []int{2, 2}, make([]byte, 12))
	assert.Error(t, err)

	_, err = DecodeShape("2x3")
	assert.Error(t, err)
}

func TestEncodeShape(t *testing.T) {
	assert.Equal(t, "[2,3]", EncodeShape([]int{2, 3}))
	assert.Equal(t, "[]", EncodeShape([]int{}))
}

func TestDowncast(t *testing.T) {
	a := FromFloat32([]float32{0.1, 1, 65504, 1e-3}, 2, 2)
	h := a.Downcast()
	assert.Equal(t, Float16, h.DType)
	assert.Equal(t, []int{2, 2}, h.Shape)
	assert.Equal(t, float16.Fromfloat32(0.1), h.Float16s()[0])
	assert.InDeltaSlice(t, []float32{0.1, 1, 65504, 1e-3}, h.Float32s(), 1e-3)

	ints := FromInt64([]int64{640, 480}, 2)
	assert.Same(t, ints, ints.Downcast())
	f64 := FromFloat64([]float64{1}, 1)
	assert.Same(t, f64, f64.Downcast())
}

func TestConversions(t *testing.T) {
	i := FromInt64([]int64{3, -4}, 2)
	assert.Equal(t, []float32{3, -4}, i.Float32s())
	assert.Equal(t, []float64{3, -4}, i.Float64s())
	assert.Nil(t, i.Float16s())
	assert.False(t, i.IsFloat())
	assert.True(t, FromFloat64(nil, 0).IsFloat())
}

func TestSqueezeReshape(t *testing.T) {
	a := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	sq, err := a.Squeeze()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, sq.Shape)
	assert.Equal(t, 2, sq.Rows())

	_, err = sq.Squeeze()
	assert.Error(t, err)

	r, err := sq.Reshape(3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, r.Shape)
	_, err = sq.Reshape(4, 2)
	assert.Error(t, err)
}

func TestClone_IsDeep(t *testing.T) {
	a := FromFloat32([]float32{1, 2}, 2)
	c := a.Clone()
	c.Float32s()[0] = 9
	c.Shape[0] = 7
	assert.Equal(t, []float32{1, 2}, a.Float32s())
	assert.Equal(t, []int{2}, a.Shape)
}

func TestShapeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { FromFloat32([]float32{1, 2, 3}, 2, 2) })
}

func TestImageRoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.Set(x, y, color.NRGBA{uint8(40 * x), uint8(100 * y), 200, 255})
		}
	}

	a := FromImage(img, false)
	assert.Equal(t, []int{1, 3, 2, 3}, a.Shape)
	w, h, err := ImageSize(a)
	require.NoError(t, err)
	assert.Equal(t, [2]int{3, 2}, [2]int{w, h})

	back, err := ToImage(a)
	require.NoError(t, err)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, img.NRGBAAt(x, y), back.(*image.NRGBA).NRGBAAt(x, y))
		}
	}

	gray := FromImage(img, true)
	assert.Equal(t, []int{1, 1, 2, 3}, gray.Shape)
	g, err := ToImage(gray)
	require.NoError(t, err)
	assert.IsType(t, &image.Gray{}, g)
}

func TestImageErrors(t *testing.T) {
	_, _, err := ImageSize(FromFloat32([]float32{1, 2}, 2))
	assert.Error(t, err)

	_, err = ToImage(FromFloat32(make([]float32, 8), 1, 2, 2, 2))
	assert.Error(t, err, "two channels")
}

func TestInterpolate_Identity(t *testing.T) {
	a := FromFloat32([]float32{0, 0.1, 0.2, 0.3, 0.4, 0.5}, 1, 1, 2, 3)
	out, err := Interpolate(a, 1)
	require.NoError(t, err)
	assert.Equal(t, a.Shape, out.Shape)
	assert.InDeltaSlice(t, a.Float32s(), out.Float32s(), 1e-7)
}

func TestInterpolate_HalfAveragesBlocks(t *testing.T) {
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i)
	}
	out, err := Interpolate(FromFloat32(data, 1, 1, 4, 4), 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape)
	// mean of {0,1,4,5}, {2,3,6,7}, ...
	assert.InDeltaSlice(t, []float32{2.5, 4.5, 10.5, 12.5}, out.Float32s(), 1e-6)
}

func TestInterpolate_UpsampleClampsEdges(t *testing.T) {
	out, err := Interpolate(FromFloat32([]float32{0, 1}, 1, 1, 1, 2), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 4}, out.Shape)
	assert.InDeltaSlice(t, []float32{0, 0.25, 0.75, 1, 0, 0.25, 0.75, 1}, out.Float32s(), 1e-6)
}

func TestInterpolate_Errors(t *testing.T) {
	_, err := Interpolate(FromFloat32([]float32{1}, 1, 1, 1), 1)
	assert.Error(t, err)
	_, err = Interpolate(FromFloat32([]float32{1}, 1, 1, 1, 1), 0)
	assert.Error(t, err)
	_, err = Interpolate(FromFloat32([]float32{1, 2}, 1, 1, 1, 2), 0.4)
	assert.Error(t, err)
}
