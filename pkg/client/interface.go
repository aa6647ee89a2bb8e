package client

import (
	"context"

	"github.com/menta2k/image-features/pkg/tensor"
)

// InputImage is the input name under which the preprocessed 1×C×H×W image
// tensor is passed to a model.
const InputImage = "image"

// ModelKind separates point-feature models from whole-image models.
type ModelKind string

const (
	// Local models produce keypoints, descriptors and scores.
	Local ModelKind = "local"
	// Global models produce a single global_descriptor.
	Global ModelKind = "global"
)

// Model is the descriptor-producing capability driven by the extraction
// loop. Every output array carries a leading batch dimension of 1.
type Model interface {
	Kind() ModelKind
	RequiredInputs() []string
	Infer(ctx context.Context, inputs map[string]*tensor.Array) (map[string]*tensor.Array, error)
}

// NoiseReporter is implemented by local models that know their keypoint
// detection noise in pixels. Models without it default to 1.
type NoiseReporter interface {
	DetectionNoise() float64
}

// VisionClient is a remote vision LLM backend able to caption an image and
// embed text.
type VisionClient interface {
	Describe(ctx context.Context, model, prompt, imgB64 string) (string, error)
	Embed(ctx context.Context, model, text string) ([]float32, error)
}
