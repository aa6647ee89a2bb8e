// Package extract drives a descriptor model over an image catalog and
// persists the results in a resumable feature store.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/menta2k/image-features/internal/utils"
	"github.com/menta2k/image-features/pkg/catalog"
	"github.com/menta2k/image-features/pkg/client"
	"github.com/menta2k/image-features/pkg/models"
	"github.com/menta2k/image-features/pkg/presets"
	"github.com/menta2k/image-features/pkg/processing"
	"github.com/menta2k/image-features/pkg/store"
	"github.com/menta2k/image-features/pkg/translate"
	"github.com/menta2k/image-features/pkg/types"
)

// ExhaustionHint is logged when the feature store runs out of space.
const ExhaustionHint = "Out of disk space: storing features on disk can take " +
	"significant space, did you enable the as_half flag?"

// Options configures one extraction run.
type Options struct {
	// Preset is recorded in the run history; Conf carries the settings.
	Preset string
	Conf   presets.Conf

	ImageDir  string
	ExportDir string
	// FeaturePath overrides the path derived from ExportDir and Conf.Output.
	FeaturePath string
	AsHalf      bool
	// ImageList is a manifest file; Names an in-memory list. Both empty
	// means the image directory is scanned.
	ImageList string
	Names     []string
	Overwrite bool

	// Translator, when set, rewrites matching images before inference.
	Translator translate.Translator
	// Model replaces the one built from Conf.Model.
	Model client.Model

	Driver string
	Logger zerolog.Logger
}

// Result summarizes a run.
type Result struct {
	Path      string
	RunID     string
	Extracted int
	Skipped   int
}

// OutputPath returns <export>/<output><ext>.db where ext marks multiscale
// and translated extractions.
func OutputPath(exportDir string, conf presets.Conf, tr translate.Translator) string {
	ext := ""
	if conf.Preprocessing.Multiscale() {
		ext += "_multiscale"
	}
	if tr != nil {
		ext += "_" + tr.Name()
	}
	return filepath.Join(exportDir, conf.Output+ext+".db")
}

// Run extracts features for every catalog entry not already in the store.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := opts.Logger.With().Str("component", "extract").Logger()
	pre := opts.Conf.Preprocessing.WithDefaults()
	if err := processing.ValidateInterpolation(pre.Interpolation); err != nil {
		return nil, err
	}
	for _, s := range pre.Scales {
		if s <= 0 {
			return nil, fmt.Errorf("%w: scale %v must be positive", types.ErrConfig, s)
		}
	}

	cat, err := buildCatalog(opts, pre)
	if err != nil {
		return nil, err
	}

	path := opts.FeaturePath
	if path == "" {
		if opts.ExportDir == "" {
			return nil, fmt.Errorf("%w: either an export directory or a feature path is required", types.ErrConfig)
		}
		path = OutputPath(opts.ExportDir, opts.Conf, opts.Translator)
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	log.Info().
		Str("output", opts.Conf.Output).
		Str("model", opts.Conf.Model.Name).
		Interface("preprocessing", pre).
		Str("path", path).
		Int("images", cat.Len()).
		Msg("extracting features")

	existed := utils.FileExists(path)
	st, err := store.OpenWithConfig(path, store.Config{Driver: opts.Driver, Logger: log})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	skip := map[string]struct{}{}
	if existed && !opts.Overwrite {
		if skip, err = st.KeySet(ctx); err != nil {
			return nil, err
		}
	}
	res := &Result{Path: path}
	if allSkipped(cat.Names, skip) {
		log.Info().Msg("skipping the extraction")
		res.Skipped = cat.Len()
		return res, nil
	}

	model := opts.Model
	if model == nil {
		if model, err = models.New(opts.Conf.Model); err != nil {
			return nil, err
		}
	}
	if err := checkModel(model, pre); err != nil {
		return nil, err
	}

	e := &extractor{
		model:      model,
		processor:  processing.NewProcessor(pre),
		translator: opts.Translator,
		asHalf:     opts.AsHalf,
	}

	res.RunID, err = st.BeginRun(ctx, opts.Preset)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Record progress even when the run is cancelled or fails.
		if ferr := st.FinishRun(context.WithoutCancel(ctx), res.RunID, res.Extracted, res.Skipped); ferr != nil {
			log.Warn().Err(ferr).Msg("failed to record run")
		}
	}()

	start := time.Now()
	for i, name := range cat.Names {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("extracted", res.Extracted).Msg("extraction interrupted")
			return res, err
		}
		if _, ok := skip[name]; ok {
			res.Skipped++
			continue
		}

		pred, err := e.extract(ctx, cat.Root, name)
		if err != nil {
			return res, err
		}
		if err := st.Write(ctx, name, pred); err != nil {
			if errors.Is(err, types.ErrStorageExhausted) {
				log.Error().Err(err).Msg(ExhaustionHint)
			}
			return res, err
		}
		res.Extracted++
		log.Debug().Str("name", name).Int("index", i+1).Int("total", cat.Len()).Msg("extracted")
	}

	log.Info().
		Int("extracted", res.Extracted).
		Int("skipped", res.Skipped).
		Dur("elapsed", time.Since(start)).
		Str("size", utils.FormatFileSize(st.Size())).
		Msg("finished exporting features")
	return res, nil
}

func buildCatalog(opts Options, pre types.PreprocessingConfig) (*catalog.Catalog, error) {
	switch {
	case opts.ImageList != "":
		return catalog.FromManifest(opts.ImageDir, opts.ImageList)
	case opts.Names != nil:
		return catalog.FromNames(opts.ImageDir, opts.Names)
	default:
		return catalog.Scan(opts.ImageDir, pre.Globs)
	}
}

func allSkipped(names []string, skip map[string]struct{}) bool {
	for _, n := range names {
		if _, ok := skip[n]; !ok {
			return false
		}
	}
	return true
}

// checkModel rejects models this loop cannot feed, and local models under
// multiscale aggregation which only defines a global descriptor.
func checkModel(m client.Model, pre types.PreprocessingConfig) error {
	for _, in := range m.RequiredInputs() {
		if in != client.InputImage {
			return fmt.Errorf("%w: model requires unsupported input %q", types.ErrConfig, in)
		}
	}
	if pre.Multiscale() && m.Kind() != client.Global {
		return fmt.Errorf("%w: multiscale extraction %v requires a global model, got a %s model",
			types.ErrConfig, pre.Scales, m.Kind())
	}
	return nil
}
