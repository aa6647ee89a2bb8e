// Package presets is the table of named extraction configurations that can
// be selected by name from the command line.
package presets

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/menta2k/image-features/pkg/types"
)

// Conf is one named configuration.
type Conf struct {
	// Output is the base name of the generated feature file.
	Output        string                    `json:"output" yaml:"output"`
	Model         types.ModelConfig         `json:"model" yaml:"model"`
	Preprocessing types.PreprocessingConfig `json:"preprocessing" yaml:"preprocessing"`
}

// Default is the preset used when none is given.
const Default = "saliency_aachen"

var confs = map[string]Conf{
	"saliency_aachen": {
		Output: "feats-saliency-n4096-r1024",
		Model: types.ModelConfig{Name: "saliency", Options: map[string]any{
			"nms_radius":    3,
			"max_keypoints": 4096,
		}},
		Preprocessing: types.PreprocessingConfig{Grayscale: true, ResizeMax: 1024},
	},
	// Resize to 1600px even when the original is smaller; helps keypoint
	// localization on good quality images.
	"saliency_max": {
		Output: "feats-saliency-n4096-rmax1600",
		Model: types.ModelConfig{Name: "saliency", Options: map[string]any{
			"nms_radius":    3,
			"max_keypoints": 4096,
		}},
		Preprocessing: types.PreprocessingConfig{Grayscale: true, ResizeMax: 1600, ResizeForce: true},
	},
	"saliency_inloc": {
		Output: "feats-saliency-n4096-r1600",
		Model: types.ModelConfig{Name: "saliency", Options: map[string]any{
			"nms_radius":    4,
			"max_keypoints": 4096,
		}},
		Preprocessing: types.PreprocessingConfig{Grayscale: true, ResizeMax: 1600},
	},
	"haar": {
		Output:        "global-feats-haar",
		Model:         types.ModelConfig{Name: "haar", Options: map[string]any{"coefs": 8}},
		Preprocessing: types.PreprocessingConfig{ResizeMax: 1024},
	},
	"haar_multiscale": {
		Output:        "global-feats-haar",
		Model:         types.ModelConfig{Name: "haar", Options: map[string]any{"coefs": 8}},
		Preprocessing: types.PreprocessingConfig{ResizeMax: 1024, Scales: []float64{1, 0.7071, 0.5}},
	},
	"caption": {
		Output: "global-feats-caption",
		Model: types.ModelConfig{Name: "caption", Options: map[string]any{
			"backend":      "ollama",
			"vision_model": "minicpm-v",
			"embed_model":  "nomic-embed-text",
		}},
		Preprocessing: types.PreprocessingConfig{ResizeMin: 448, Interpolation: "pil_bicubic"},
	},
	"caption_llamacpp": {
		Output: "global-feats-caption-llamacpp",
		Model: types.ModelConfig{Name: "caption", Options: map[string]any{
			"backend": "llamacpp",
		}},
		Preprocessing: types.PreprocessingConfig{ResizeMin: 448, Interpolation: "pil_bicubic"},
	},
}

// Get returns a deep copy of the named preset.
func Get(name string) (Conf, error) {
	c, ok := confs[name]
	if !ok {
		return Conf{}, fmt.Errorf("%w: unknown preset %q (available: %s)",
			types.ErrConfig, name, strings.Join(Names(), ", "))
	}
	return c.clone(), nil
}

// Names lists the presets in lexicographic order.
func Names() []string {
	return slices.Sorted(maps.Keys(confs))
}

func (c Conf) clone() Conf {
	out := c
	out.Model.Options = maps.Clone(c.Model.Options)
	out.Preprocessing.Scales = slices.Clone(c.Preprocessing.Scales)
	out.Preprocessing.Globs = slices.Clone(c.Preprocessing.Globs)
	return out
}

// WriteTable writes one line per preset with its model and output name.
func WriteTable(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%-18s %-10s %s\n", "NAME", "MODEL", "OUTPUT"); err != nil {
		return err
	}
	for _, name := range Names() {
		c := confs[name]
		output := c.Output
		if c.Preprocessing.Multiscale() {
			output += " (multiscale)"
		}
		if _, err := fmt.Fprintf(w, "%-18s %-10s %s\n", name, c.Model.Name, output); err != nil {
			return err
		}
	}
	return nil
}
