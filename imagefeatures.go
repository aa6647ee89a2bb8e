// Package imagefeatures extracts local and global image descriptors for
// visual localization and caches them in a resumable feature store.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		imagefeatures "github.com/menta2k/image-features"
//	)
//
//	func main() {
//		fx, err := imagefeatures.New("saliency_aachen")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		// Extract every image under ./images into ./outputs. Images that are
//		// already in the feature file are skipped.
//		res, err := fx.ExtractDirectory(context.Background(), "./images", "./outputs")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		// Whiten the global descriptors of a retrieval feature file.
//		if _, err := imagefeatures.Whiten(context.Background(), res.Path, 256); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of these main components:
//
// 1. Presets (pkg/presets): named model and preprocessing configurations
// 2. Extract (pkg/extract): the resumable extraction loop
// 3. Store (pkg/store): the SQLite feature store
// 4. Whitening (pkg/whitening): PCA whitening of global descriptors
//
// Models are plugged in through the client.Model capability interface; the
// bundled ones are a saliency keypoint detector, a Haar wavelet global
// descriptor and a caption embedding model backed by a vision LLM.
package imagefeatures

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"github.com/menta2k/image-features/pkg/client"
	"github.com/menta2k/image-features/pkg/extract"
	"github.com/menta2k/image-features/pkg/models"
	"github.com/menta2k/image-features/pkg/presets"
	"github.com/menta2k/image-features/pkg/types"
	"github.com/menta2k/image-features/pkg/whitening"
)

// Version of the image features library
const Version = "1.0.0"

// Extractor provides a high-level interface over one preset
type Extractor struct {
	preset string
	conf   presets.Conf
	model  client.Model

	// AsHalf stores float arrays as float16.
	AsHalf bool
	// Driver selects the SQLite driver, empty for the default.
	Driver string
	Logger zerolog.Logger
}

// New creates an Extractor for a named preset
func New(preset string) (*Extractor, error) {
	conf, err := presets.Get(preset)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(preset, conf)
}

// NewWithConfig creates an Extractor from an explicit configuration. The
// model is built once and reused by every call.
func NewWithConfig(name string, conf presets.Conf) (*Extractor, error) {
	model, err := models.New(conf.Model)
	if err != nil {
		return nil, err
	}
	return NewWithModel(name, conf, model), nil
}

// NewWithModel creates an Extractor around a caller supplied model
func NewWithModel(name string, conf presets.Conf, model client.Model) *Extractor {
	return &Extractor{
		preset: name,
		conf:   conf,
		model:  model,
		Logger: zerolog.Nop(),
	}
}

// Config returns the configuration in use
func (x *Extractor) Config() presets.Conf {
	return x.conf
}

// ExtractDirectory extracts every image under imageDir into the preset's
// feature file in exportDir
func (x *Extractor) ExtractDirectory(ctx context.Context, imageDir, exportDir string) (*extract.Result, error) {
	return x.run(ctx, extract.Options{ImageDir: imageDir, ExportDir: exportDir})
}

// ExtractNames extracts the listed images into featurePath
func (x *Extractor) ExtractNames(ctx context.Context, imageDir string, names []string, featurePath string) (*extract.Result, error) {
	if names == nil {
		names = []string{}
	}
	return x.run(ctx, extract.Options{ImageDir: imageDir, Names: names, FeaturePath: featurePath})
}

func (x *Extractor) run(ctx context.Context, opts extract.Options) (*extract.Result, error) {
	opts.Preset = x.preset
	opts.Conf = x.conf
	opts.Model = x.model
	opts.AsHalf = x.AsHalf
	opts.Driver = x.Driver
	opts.Logger = x.Logger
	return extract.Run(ctx, opts)
}

// ExtractImage extracts features from a decoded image without storing them
func (x *Extractor) ExtractImage(ctx context.Context, img image.Image) (*types.Prediction, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", types.ErrValidation)
	}
	return extract.Predict(ctx, x.model, x.conf.Preprocessing, img, x.AsHalf)
}

// Whiten fits a PCA whitening on the db partition of featurePath and writes
// <stem>_white.db next to it. components 0 keeps every dimension.
func Whiten(ctx context.Context, featurePath string, components int) (*whitening.Result, error) {
	opts := whitening.DefaultOptions()
	opts.Components = components
	return whitening.Run(ctx, featurePath, opts)
}

// Presets lists the available preset names
func Presets() []string {
	return presets.Names()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
