package whitening

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// corpus returns n deterministic rows of dimension 4 with full rank scatter.
func corpus(n int) *mat.Dense {
	data := make([]float64, 0, n*4)
	for i := 0; i < n; i++ {
		f := float64(i)
		data = append(data, f, f*f/4, math.Sin(f), math.Cos(2*f))
	}
	return mat.NewDense(n, 4, data)
}

func row32(m mat.Matrix, i int) []float32 {
	_, c := m.Dims()
	out := make([]float32, c)
	for j := range out {
		out[j] = float32(m.At(i, j))
	}
	return out
}

func norm32(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestFit_WhitensTrainingScatter(t *testing.T) {
	x := corpus(8)
	p := New(0)
	require.NoError(t, p.Fit(x))
	assert.Equal(t, 4, p.InputDim())
	assert.Equal(t, 4, p.OutputDim())

	// The unnormalized projections of the centered corpus have identity scatter.
	n, d := x.Dims()
	scatter := mat.NewDense(d, d, nil)
	for i := 0; i < n; i++ {
		c := make([]float64, d)
		for j := range c {
			c[j] = x.At(i, j) - p.mean[j]
		}
		var y mat.VecDense
		y.MulVec(p.dvt, mat.NewVecDense(d, c))
		var outer mat.Dense
		outer.Outer(1, &y, &y)
		scatter.Add(scatter, &outer)
	}
	assert.True(t, mat.EqualApprox(scatter, eye(d), 1e-6), "scatter:\n%v", mat.Formatted(scatter))
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func TestFit_EigenvaluesDescending(t *testing.T) {
	p := New(0)
	require.NoError(t, p.Fit(corpus(8)))

	// Rows of dvt are scaled by 1/sqrt(d), so their norms ascend when the
	// eigenvalues descend.
	r, _ := p.dvt.Dims()
	prev := 0.0
	for i := 0; i < r; i++ {
		n := mat.Norm(p.dvt.RowView(i), 2)
		assert.GreaterOrEqual(t, n, prev-1e-12)
		prev = n
	}
}

func TestTransform_UnitRows(t *testing.T) {
	x := corpus(8)
	p := New(2)
	require.NoError(t, p.Fit(x))
	assert.Equal(t, 2, p.OutputDim())

	rows := [][]float32{row32(x, 0), row32(x, 5)}
	out, err := p.Transform(rows)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, r := range out {
		assert.Len(t, r, 2)
		assert.InDelta(t, 1, norm32(r), 1e-5)
	}
}

func TestTransform_ZeroProjectionIsNaN(t *testing.T) {
	// the mean [1 1] is exact in float32, so the centered row is zero
	p := New(0)
	require.NoError(t, p.Fit(mat.NewDense(4, 2, []float64{0, 0, 2, 0, 0, 2, 2, 2})))

	out, err := p.TransformRow([]float32{1, 1})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, v := range out {
		assert.True(t, math.IsNaN(float64(v)))
	}
}

func TestTransform_Errors(t *testing.T) {
	_, err := New(0).TransformRow([]float32{1, 2})
	assert.Error(t, err, "unfitted")

	p := New(0)
	require.NoError(t, p.Fit(corpus(8)))
	_, err = p.TransformRow([]float32{1, 2})
	assert.Error(t, err, "dimension mismatch")
}

func TestFit_RankDeficientStaysFinite(t *testing.T) {
	// Every row lies on one line, so all but one eigenvalue is ~0.
	data := make([]float64, 0, 18)
	for i := 0; i < 6; i++ {
		f := float64(i)
		data = append(data, f, 2*f, -f)
	}
	x := mat.NewDense(6, 3, data)
	p := New(0)
	require.NoError(t, p.Fit(x))

	out, err := p.TransformRow(row32(x, 4))
	require.NoError(t, err)
	for _, v := range out {
		assert.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
	}
	maxD := 0.0
	for _, d := range p.d {
		maxD = math.Max(maxD, d)
	}
	for _, d := range p.d {
		assert.GreaterOrEqual(t, d, maxD*DefaultEpsilon)
	}
}

func TestFit_Degenerate(t *testing.T) {
	assert.Error(t, New(0).Fit(mat.NewDense(3, 2, []float64{1, 1, 1, 1, 1, 1})))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	x := corpus(10)
	p := New(3)
	require.NoError(t, p.Fit(x))

	path := filepath.Join(t.TempDir(), "white.npz")
	require.NoError(t, p.Save(path))

	loaded, err := Load(path, 3)
	require.NoError(t, err)
	assert.Equal(t, p.OutputDim(), loaded.OutputDim())

	for i := 0; i < 10; i++ {
		want, err := p.TransformRow(row32(x, i))
		require.NoError(t, err)
		got, err := loaded.TransformRow(row32(x, i))
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-6)
	}
}

func TestSave_Unfitted(t *testing.T) {
	assert.Error(t, New(0).Save(filepath.Join(t.TempDir(), "w.npz")))
}
