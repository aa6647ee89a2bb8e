package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/viterin/vek/vek32"

	"github.com/menta2k/image-features/pkg/client"
	"github.com/menta2k/image-features/pkg/processing"
	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/types"
)

// DefaultPrompt asks for a caption that is stable across viewpoints and
// lighting, which is what makes its embedding usable for retrieval.
const DefaultPrompt = `Describe the place shown in this image in one or two short sentences.

RULES
- Name the kind of place, notable buildings, structures and landmarks.
- Ignore people, vehicles, weather and time of day.
- Plain text only. No markdown, no lists, no speculation about the exact location.`

// Config holds the backend models and image encoding used by the captioner
type Config struct {
	VisionModel string
	EmbedModel  string
	Prompt      string
	MaxDim      int
	Quality     int
}

// DefaultConfig returns the captioner defaults
func DefaultConfig() Config {
	return Config{
		VisionModel: "minicpm-v",
		EmbedModel:  "nomic-embed-text",
		Prompt:      DefaultPrompt,
		MaxDim:      768,
		Quality:     90,
	}
}

// Captioner is a global model: it captions the image with a vision LLM and
// embeds the caption, producing a unit-norm global descriptor
type Captioner struct {
	client client.VisionClient
	config Config
}

// NewCaptioner creates a captioner over a vision client with default settings
func NewCaptioner(c client.VisionClient) *Captioner {
	return NewCaptionerWithConfig(c, DefaultConfig())
}

// NewCaptionerWithConfig creates a captioner with custom configuration
func NewCaptionerWithConfig(c client.VisionClient, config Config) *Captioner {
	def := DefaultConfig()
	if config.VisionModel == "" {
		config.VisionModel = def.VisionModel
	}
	if config.EmbedModel == "" {
		config.EmbedModel = def.EmbedModel
	}
	if config.Prompt == "" {
		config.Prompt = def.Prompt
	}
	if config.Quality <= 0 {
		config.Quality = def.Quality
	}
	return &Captioner{client: c, config: config}
}

func (d *Captioner) Kind() client.ModelKind { return client.Global }

func (d *Captioner) RequiredInputs() []string { return []string{client.InputImage} }

// Infer returns {"global_descriptor": 1×D}
func (d *Captioner) Infer(ctx context.Context, inputs map[string]*tensor.Array) (map[string]*tensor.Array, error) {
	img, ok := inputs[client.InputImage]
	if !ok {
		return nil, fmt.Errorf("missing input %q", client.InputImage)
	}
	caption, err := d.Caption(ctx, img)
	if err != nil {
		return nil, err
	}

	emb, err := d.client.Embed(ctx, d.config.EmbedModel, caption)
	if err != nil {
		return nil, fmt.Errorf("failed to embed caption: %w", err)
	}
	desc := append([]float32(nil), emb...)
	if norm := vek32.Norm(desc); norm > 0 {
		vek32.DivNumber_Inplace(desc, norm)
	}
	return map[string]*tensor.Array{
		types.KindGlobalDescriptor: tensor.FromFloat32(desc, 1, len(desc)),
	}, nil
}

// Caption returns the normalized caption for an image tensor
func (d *Captioner) Caption(ctx context.Context, img *tensor.Array) (string, error) {
	b64, err := processing.PrepareImageForModel(img, "jpg", d.config.MaxDim, d.config.Quality)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	raw, err := d.client.Describe(ctx, d.config.VisionModel, d.config.Prompt, b64)
	if err != nil {
		return "", err
	}
	caption := normalizeCaption(raw)
	if caption == "" {
		return "", fmt.Errorf("vision model returned an empty caption")
	}
	return caption, nil
}

// normalizeCaption strips markdown fences and collapses whitespace so that
// equivalent captions embed identically
func normalizeCaption(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(raw, "`\"' \n\t")
	return strings.Join(strings.Fields(raw), " ")
}
