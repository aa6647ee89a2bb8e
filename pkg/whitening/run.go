package whitening

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/menta2k/image-features/internal/utils"
	"github.com/menta2k/image-features/pkg/store"
	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/types"
)

// Suffix is appended to the input file stem to name the whitened store.
const Suffix = "_white"

// Options configures a whitening pass over a feature store.
type Options struct {
	Components int
	Epsilon    float64
	// Partition is the top-level group whose descriptors fit the model.
	Partition string
	// Key is the dataset kind used for fitting.
	Key string
	// SavePath, when set, receives the fitted parameters as .npz.
	SavePath string
	// OutputPath overrides <stem>_white<ext>.
	OutputPath string

	Driver string
	Logger zerolog.Logger
}

// DefaultOptions fits on db/*/global_descriptor and keeps every dimension.
func DefaultOptions() Options {
	return Options{
		Epsilon:   DefaultEpsilon,
		Partition: "db",
		Key:       types.KindGlobalDescriptor,
		Logger:    zerolog.Nop(),
	}
}

// Result summarizes a whitening pass.
type Result struct {
	Path        string
	FitRows     int
	Dim         int
	Transformed int
	Copied      int
}

// Run fits a PCA on the descriptors under the partition and writes every
// group of the input store to a new store, projecting datasets whose
// leading dimension exceeds 2 and copying the rest.
func Run(ctx context.Context, featurePath string, opts Options) (*Result, error) {
	def := DefaultOptions()
	if opts.Partition == "" {
		opts.Partition = def.Partition
	}
	if opts.Key == "" {
		opts.Key = def.Key
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = def.Epsilon
	}
	if opts.Components < 0 {
		return nil, fmt.Errorf("%w: components must not be negative", types.ErrConfig)
	}
	log := opts.Logger.With().Str("component", "whitening").Logger()

	if !utils.FileExists(featurePath) {
		return nil, fmt.Errorf("feature store %s does not exist", featurePath)
	}
	in, err := store.OpenWithConfig(featurePath, store.Config{Driver: opts.Driver, Logger: log})
	if err != nil {
		return nil, err
	}
	defer in.Close()

	corpus, err := loadCorpus(ctx, in, opts.Partition, opts.Key)
	if err != nil {
		return nil, err
	}
	n, dim := corpus.Dims()
	log.Info().Int("rows", n).Int("dim", dim).Str("partition", opts.Partition).Msg("fitting whitening")

	pca := New(opts.Components)
	pca.Epsilon = opts.Epsilon
	if err := pca.Fit(corpus); err != nil {
		return nil, err
	}
	if opts.SavePath != "" {
		if err := pca.Save(opts.SavePath); err != nil {
			return nil, err
		}
		log.Info().Str("path", opts.SavePath).Msg("saved whitening parameters")
	}

	outPath := opts.OutputPath
	if outPath == "" {
		outPath = utils.DerivedPath(featurePath, Suffix)
	}
	if err := removeStore(outPath); err != nil {
		return nil, err
	}
	out, err := store.OpenWithConfig(outPath, store.Config{Driver: opts.Driver, Logger: log})
	if err != nil {
		return nil, err
	}
	defer out.Close()

	res := &Result{Path: outPath, FitRows: n, Dim: pca.OutputDim()}
	var cur *store.Group
	flush := func() error {
		if cur == nil {
			return nil
		}
		g := *cur
		cur = nil
		return out.WriteGroup(ctx, g)
	}

	for e, err := range in.Visit(ctx) {
		if err != nil {
			return res, err
		}
		if !e.Stored {
			continue
		}
		if !e.IsDataset() {
			if err := flush(); err != nil {
				return res, err
			}
			cur = &store.Group{Name: e.Group, Datasets: map[string]*tensor.Array{}}
			continue
		}

		a := e.Array
		if a.Rows() > 2 {
			if a, err = apply(pca, a); err != nil {
				return res, fmt.Errorf("%s: %w", e.Path, err)
			}
			res.Transformed++
		} else {
			res.Copied++
		}
		cur.Datasets[e.Kind] = a
		if e.Attrs != nil {
			if cur.Attrs == nil {
				cur.Attrs = map[string]map[string]float64{}
			}
			cur.Attrs[e.Kind] = e.Attrs
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	log.Info().
		Str("path", outPath).
		Int("transformed", res.Transformed).
		Int("copied", res.Copied).
		Str("size", utils.FormatFileSize(out.Size())).
		Msg("finished whitening")
	return res, nil
}

// loadCorpus stacks the key dataset of every group under partition into
// an N×D matrix. A 1-D dataset is one row; a 2-D dataset contributes all
// of its rows.
func loadCorpus(ctx context.Context, s *store.Store, partition, key string) (*mat.Dense, error) {
	names, err := s.KeysWithPrefix(ctx, partition+"/")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no groups under %q", types.ErrValidation, partition)
	}

	var data []float64
	dim := 0
	for _, name := range names {
		g, err := s.Read(ctx, name)
		if err != nil {
			return nil, err
		}
		a, ok := g.Datasets[key]
		if !ok {
			return nil, fmt.Errorf("%w: group %s has no %s", types.ErrValidation, name, key)
		}
		if a.NDim() == 0 || a.NDim() > 2 {
			return nil, fmt.Errorf("%w: %s/%s has shape %v", types.ErrValidation, name, key, a.Shape)
		}
		d := a.Shape[a.NDim()-1]
		if dim == 0 {
			dim = d
		}
		if d != dim {
			return nil, fmt.Errorf("%w: %s/%s has %d values, expected %d", types.ErrValidation, name, key, d, dim)
		}
		data = append(data, a.Float64s()...)
	}
	return mat.NewDense(len(data)/dim, dim, data), nil
}

// apply whitens a 1-D descriptor or each row of a 2-D array. float16
// inputs stay float16; everything else becomes float32.
func apply(p *PCA, a *tensor.Array) (*tensor.Array, error) {
	var rows [][]float32
	flat := a.Float32s()
	switch a.NDim() {
	case 1:
		rows = [][]float32{flat}
	case 2:
		cols := a.Shape[1]
		for i := 0; i < a.Shape[0]; i++ {
			rows = append(rows, flat[i*cols:(i+1)*cols])
		}
	default:
		return nil, fmt.Errorf("cannot whiten array of shape %v", a.Shape)
	}

	w, err := p.Transform(rows)
	if err != nil {
		return nil, err
	}
	k := p.OutputDim()
	out := make([]float32, 0, len(w)*k)
	for _, r := range w {
		out = append(out, r...)
	}

	var res *tensor.Array
	if a.NDim() == 1 {
		res = tensor.FromFloat32(out, k)
	} else {
		res = tensor.FromFloat32(out, len(w), k)
	}
	if a.DType == tensor.Float16 {
		res = res.Downcast()
	}
	return res, nil
}

// removeStore deletes a previous output and its WAL side files.
func removeStore(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
