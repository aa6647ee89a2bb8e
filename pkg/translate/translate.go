// Package translate holds domain-translation pre-steps applied to selected
// images before inference, such as lifting night-time imagery towards day.
package translate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/types"
)

// DefaultMatch is the name substring selecting images for translation.
const DefaultMatch = "night"

// Translator rewrites an image tensor. The output keeps the input's
// channel count and spatial size.
type Translator interface {
	// Name is used as the output file suffix.
	Name() string
	// Applies reports whether the image with the given catalog name is
	// translated.
	Applies(name string) bool
	Translate(ctx context.Context, img *tensor.Array) (*tensor.Array, error)
}

// ToneMap brightens dark imagery with a gamma lift followed by a contrast
// boost.
type ToneMap struct {
	Match    string
	Gamma    float64
	Contrast float64
}

// NewToneMap returns a tone mapper for names containing match.
func NewToneMap(match string) *ToneMap {
	if match == "" {
		match = DefaultMatch
	}
	return &ToneMap{Match: match, Gamma: 1.8, Contrast: 15}
}

func (t *ToneMap) Name() string { return "tonemap" }

func (t *ToneMap) Applies(name string) bool {
	return strings.Contains(name, t.Match)
}

func (t *ToneMap) Translate(ctx context.Context, in *tensor.Array) (*tensor.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := tensor.ToImage(in)
	if err != nil {
		return nil, fmt.Errorf("failed to translate image: %w", err)
	}
	out := imaging.AdjustGamma(img, t.Gamma)
	out = imaging.AdjustContrast(out, t.Contrast)
	return tensor.FromImage(out, in.Shape[1] == 1), nil
}

var registry = map[string]func(match string) Translator{
	"tonemap": func(match string) Translator { return NewToneMap(match) },
}

// Get returns the named translator selecting names that contain match.
func Get(name, match string) (Translator, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown translator %q (available: %s)",
			types.ErrConfig, name, strings.Join(Names(), ", "))
	}
	return f(match), nil
}

// Names lists the registered translators.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
