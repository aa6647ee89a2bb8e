// Package whitening fits and applies a PCA whitening projection to global
// descriptors.
package whitening

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sbinet/npyio/npz"
	"github.com/viant/vec/search"
	"gonum.org/v1/gonum/mat"
)

// DefaultEpsilon is the relative eigenvalue floor.
const DefaultEpsilon = 1e-5

// Archive entry names of a saved model.
const (
	keyMean = "mean.npy"
	keyD    = "d.npy"
	keyV    = "V.npy"
)

// PCA is a whitening projection. The zero value is unfitted.
type PCA struct {
	// Components is the number of retained dimensions, 0 for all.
	Components int
	Epsilon    float64

	mean []float64
	// d are the eigenvalues after flooring, V the eigenvectors as columns,
	// both in solver order.
	d []float64
	v *mat.Dense
	// dvt is diag(1/sqrt(d)) · V^T restricted to the retained components.
	dvt *mat.Dense
}

// New returns an unfitted PCA keeping components dimensions (0 keeps all).
func New(components int) *PCA {
	return &PCA{Components: components, Epsilon: DefaultEpsilon}
}

// Fitted reports whether the model holds parameters.
func (p *PCA) Fitted() bool {
	return p.dvt != nil
}

// InputDim is the descriptor length the model was fitted on.
func (p *PCA) InputDim() int {
	return len(p.mean)
}

// OutputDim is the length of transformed rows.
func (p *PCA) OutputDim() int {
	if p.dvt == nil {
		return 0
	}
	r, _ := p.dvt.Dims()
	return r
}

// Fit estimates the mean and eigen decomposition of the scatter matrix of
// the rows of x.
func (p *PCA) Fit(x mat.Matrix) error {
	n, dim := x.Dims()
	if n == 0 || dim == 0 {
		return errors.New("whitening: empty corpus")
	}

	mean := make([]float64, dim)
	for i := 0; i < n; i++ {
		for j := 0; j < dim; j++ {
			mean[j] += x.At(i, j)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	xc := mat.NewDense(n, dim, nil)
	xc.Apply(func(i, j int, v float64) float64 { return v - mean[j] }, x)

	var scatter mat.SymDense
	scatter.SymOuterK(1, xc.T())

	var eig mat.EigenSym
	if ok := eig.Factorize(&scatter, true); !ok {
		return errors.New("whitening: eigen decomposition did not converge")
	}
	d := eig.Values(nil)
	var v mat.Dense
	eig.VectorsTo(&v)

	return p.setParams(mean, d, &v)
}

// setParams floors the eigenvalues, orders the eigenpairs by decreasing
// eigenvalue and derives the whitening matrix.
func (p *PCA) setParams(mean, d []float64, v *mat.Dense) error {
	dim := len(mean)
	if len(d) != dim {
		return fmt.Errorf("whitening: %d eigenvalues for %d dimensions", len(d), dim)
	}
	if r, c := v.Dims(); r != dim || c != dim {
		return fmt.Errorf("whitening: eigenvectors are %dx%d, want %dx%d", r, c, dim, dim)
	}
	if p.Epsilon <= 0 {
		p.Epsilon = DefaultEpsilon
	}

	maxD := math.Inf(-1)
	for _, e := range d {
		maxD = math.Max(maxD, e)
	}
	if !(maxD > 0) {
		return errors.New("whitening: corpus has no variance")
	}
	floor := maxD * p.Epsilon
	d = append([]float64(nil), d...)
	for i, e := range d {
		if e < floor {
			d[i] = floor
		}
	}

	idx := make([]int, dim)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return d[idx[a]] > d[idx[b]] })
	k := dim
	if p.Components > 0 && p.Components < dim {
		k = p.Components
	}

	dvt := mat.NewDense(k, dim, nil)
	for r := 0; r < k; r++ {
		col := idx[r]
		s := 1 / math.Sqrt(d[col])
		for c := 0; c < dim; c++ {
			dvt.Set(r, c, v.At(c, col)*s)
		}
	}

	p.mean = append([]float64(nil), mean...)
	p.d = d
	p.v = mat.DenseCopyOf(v)
	p.dvt = dvt
	return nil
}

// TransformRow projects one descriptor and normalizes it to unit length.
// A row whose projection is zero yields NaN values.
func (p *PCA) TransformRow(x []float32) ([]float32, error) {
	if !p.Fitted() {
		return nil, errors.New("whitening: model is not fitted")
	}
	if len(x) != len(p.mean) {
		return nil, fmt.Errorf("whitening: row has %d values, model expects %d", len(x), len(p.mean))
	}
	centered := make([]float64, len(x))
	for i, v := range x {
		centered[i] = float64(v) - p.mean[i]
	}
	var proj mat.VecDense
	proj.MulVec(p.dvt, mat.NewVecDense(len(centered), centered))

	out := make([]float32, proj.Len())
	for i := range out {
		out[i] = float32(proj.AtVec(i))
	}
	norm := search.Float32s(out).Magnitude()
	for i := range out {
		out[i] /= norm
	}
	return out, nil
}

// Transform applies TransformRow to every row of x.
func (p *PCA) Transform(x [][]float32) ([][]float32, error) {
	out := make([][]float32, len(x))
	for i, row := range x {
		t, err := p.TransformRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

// Save writes mean, d and V to an npz archive. The whitening matrix is not
// stored; Load derives it again.
func (p *PCA) Save(path string) error {
	if !p.Fitted() {
		return errors.New("whitening: model is not fitted")
	}
	w, err := npz.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := w.Write(keyMean, p.mean); err != nil {
		w.Close()
		return fmt.Errorf("failed to write mean: %w", err)
	}
	if err := w.Write(keyD, p.d); err != nil {
		w.Close()
		return fmt.Errorf("failed to write eigenvalues: %w", err)
	}
	if err := w.Write(keyV, p.v); err != nil {
		w.Close()
		return fmt.Errorf("failed to write eigenvectors: %w", err)
	}
	return w.Close()
}

// Load reads a model written by Save, keeping the receiver's Components
// and Epsilon.
func (p *PCA) Load(path string) error {
	r, err := npz.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close()

	var mean, d []float64
	var v mat.Dense
	if err := r.Read(keyMean, &mean); err != nil {
		return fmt.Errorf("failed to read mean: %w", err)
	}
	if err := r.Read(keyD, &d); err != nil {
		return fmt.Errorf("failed to read eigenvalues: %w", err)
	}
	if err := r.Read(keyV, &v); err != nil {
		return fmt.Errorf("failed to read eigenvectors: %w", err)
	}
	return p.setParams(mean, d, &v)
}

// Load reads a saved model.
func Load(path string, components int) (*PCA, error) {
	p := New(components)
	if err := p.Load(path); err != nil {
		return nil, err
	}
	return p, nil
}
