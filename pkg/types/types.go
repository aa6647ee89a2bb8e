package types

import (
	"image"

	"github.com/menta2k/image-features/pkg/tensor"
)

// Output kinds produced by models and stored per image.
const (
	KindKeypoints        = "keypoints"
	KindDescriptors      = "descriptors"
	KindScores           = "scores"
	KindGlobalDescriptor = "global_descriptor"
	KindImageSize        = "image_size"

	// AttrUncertainty is attached to the keypoints dataset.
	AttrUncertainty = "uncertainty"
)

// DefaultGlobs are matched recursively when a catalog is built from a directory scan.
var DefaultGlobs = []string{"*.jpg", "*.png", "*.jpeg", "*.JPG", "*.PNG"}

// DefaultInterpolation is the resize strategy used when none is configured.
const DefaultInterpolation = "cv2_area"

// PreprocessingConfig describes how images read from disk are normalized
// before they are handed to a model.
type PreprocessingConfig struct {
	Grayscale     bool      `json:"grayscale" yaml:"grayscale"`
	ResizeMax     int       `json:"resize_max,omitempty" yaml:"resize_max,omitempty"`
	ResizeMin     int       `json:"resize_min,omitempty" yaml:"resize_min,omitempty"`
	ResizeForce   bool      `json:"resize_force,omitempty" yaml:"resize_force,omitempty"`
	Interpolation string    `json:"interpolation,omitempty" yaml:"interpolation,omitempty"`
	Scales        []float64 `json:"scales,omitempty" yaml:"scales,omitempty"`
	Globs         []string  `json:"globs,omitempty" yaml:"globs,omitempty"`
}

// WithDefaults returns a copy with empty fields filled in.
func (p PreprocessingConfig) WithDefaults() PreprocessingConfig {
	if p.Interpolation == "" {
		p.Interpolation = DefaultInterpolation
	}
	if len(p.Scales) == 0 {
		p.Scales = []float64{1}
	}
	if len(p.Globs) == 0 {
		p.Globs = append([]string(nil), DefaultGlobs...)
	}
	return p
}

// Multiscale reports whether more than the unit scale is requested.
func (p PreprocessingConfig) Multiscale() bool {
	if len(p.Scales) == 0 {
		return false
	}
	return !(len(p.Scales) == 1 && p.Scales[0] == 1)
}

// MaxScale returns the largest configured scale, 1 when none is set.
func (p PreprocessingConfig) MaxScale() float64 {
	m := 0.0
	for _, s := range p.Scales {
		if s > m {
			m = s
		}
	}
	if m == 0 {
		return 1
	}
	return m
}

// ModelConfig selects a model from the registry. Options are model specific.
type ModelConfig struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Size is an image size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ImageRecord is a decoded catalog entry. It is never persisted.
type ImageRecord struct {
	Name         string
	Image        image.Image
	OriginalSize Size
}

// Prediction is the per-image output of the extraction loop.
type Prediction struct {
	Arrays map[string]*tensor.Array
	// Uncertainty is only meaningful when Arrays holds keypoints.
	Uncertainty    float64
	HasUncertainty bool
}

// Has reports whether the prediction carries the given output kind.
func (p *Prediction) Has(kind string) bool {
	_, ok := p.Arrays[kind]
	return ok
}
