// Package models builds descriptor models from configuration.
package models

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/menta2k/image-features/pkg/client"
	"github.com/menta2k/image-features/pkg/detection"
	"github.com/menta2k/image-features/pkg/llamacpp"
	"github.com/menta2k/image-features/pkg/ollama"
	"github.com/menta2k/image-features/pkg/types"
	"github.com/menta2k/image-features/pkg/vision"
)

// Options are the model specific settings of a ModelConfig.
type Options map[string]any

// Factory builds a model from its options.
type Factory func(opts Options) (client.Model, error)

var registry = map[string]Factory{
	"saliency": newSaliency,
	"haar":     newHaar,
	"caption":  newCaption,
}

// New builds the model named by cfg.
func New(cfg types.ModelConfig) (client.Model, error) {
	f, ok := registry[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q (available: %s)",
			types.ErrConfig, cfg.Name, strings.Join(Names(), ", "))
	}
	m, err := f(Options(cfg.Options))
	if err != nil {
		return nil, fmt.Errorf("failed to build model %s: %w", cfg.Name, err)
	}
	return m, nil
}

// Names lists the registered model names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func newSaliency(opts Options) (client.Model, error) {
	cfg := vision.DefaultConfig()
	var err error
	if cfg.MaxKeypoints, err = opts.Int("max_keypoints", cfg.MaxKeypoints); err != nil {
		return nil, err
	}
	if cfg.NMSRadius, err = opts.Int("nms_radius", cfg.NMSRadius); err != nil {
		return nil, err
	}
	if cfg.Threshold, err = opts.Float("keypoint_threshold", cfg.Threshold); err != nil {
		return nil, err
	}
	if cfg.BorderMargin, err = opts.Int("remove_borders", cfg.BorderMargin); err != nil {
		return nil, err
	}
	if cfg.DescriptorRadius, err = opts.Int("descriptor_radius", cfg.DescriptorRadius); err != nil {
		return nil, err
	}
	if cfg.DetectionNoise, err = opts.Float("detection_noise", cfg.DetectionNoise); err != nil {
		return nil, err
	}
	return vision.NewWithConfig(cfg), nil
}

func newHaar(opts Options) (client.Model, error) {
	coefs, err := opts.Int("coefs", 8)
	if err != nil {
		return nil, err
	}
	return vision.NewHaar(coefs), nil
}

func newCaption(opts Options) (client.Model, error) {
	backend, err := opts.String("backend", "ollama")
	if err != nil {
		return nil, err
	}
	url, err := opts.String("url", "")
	if err != nil {
		return nil, err
	}

	var vc client.VisionClient
	switch backend {
	case "ollama":
		vc, err = ollama.NewClient(url)
	case "llamacpp":
		vc, err = llamacpp.NewClient(url)
	default:
		return nil, fmt.Errorf("%w: unknown caption backend %q", types.ErrConfig, backend)
	}
	if err != nil {
		return nil, err
	}

	cfg := detection.DefaultConfig()
	if cfg.VisionModel, err = opts.String("vision_model", cfg.VisionModel); err != nil {
		return nil, err
	}
	if cfg.EmbedModel, err = opts.String("embed_model", cfg.EmbedModel); err != nil {
		return nil, err
	}
	if cfg.Prompt, err = opts.String("prompt", cfg.Prompt); err != nil {
		return nil, err
	}
	if cfg.MaxDim, err = opts.Int("max_dim", cfg.MaxDim); err != nil {
		return nil, err
	}
	return detection.NewCaptionerWithConfig(vc, cfg), nil
}

// Int reads an integral option. JSON and YAML decoding may hand back
// float64 or int, both are accepted.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: option %s must be an integer, got %v", types.ErrConfig, key, n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: option %s must be an integer, got %T", types.ErrConfig, key, v)
}

// Float reads a numeric option.
func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: option %s must be a number, got %T", types.ErrConfig, key, v)
}

// String reads a string option.
func (o Options) String(key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: option %s must be a string, got %T", types.ErrConfig, key, v)
	}
	return s, nil
}
