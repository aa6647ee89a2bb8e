package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-features/internal/utils"
	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/types"
)

// Processor loads catalog images and turns them into model input tensors
type Processor struct {
	config types.PreprocessingConfig
}

// NewProcessor creates a processor for the given preprocessing configuration
func NewProcessor(config types.PreprocessingConfig) *Processor {
	return &Processor{config: config.WithDefaults()}
}

// Config returns the effective preprocessing configuration
func (p *Processor) Config() types.PreprocessingConfig {
	return p.config
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	if p.config.Grayscale {
		img = toGray(img)
	}
	return img, nil
}

func decodeFile(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if utils.GetFileExtension(path) == "webp" {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Load reads a catalog entry from disk and records its original size
func (p *Processor) Load(root, name string) (*types.ImageRecord, error) {
	img, err := p.LoadImage(joinName(root, name))
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", name, err)
	}
	b := img.Bounds()
	return &types.ImageRecord{
		Name:         name,
		Image:        img,
		OriginalSize: types.Size{Width: b.Dx(), Height: b.Dy()},
	}, nil
}

// Preprocess applies the sizing policy and converts the record to a
// 1×C×H×W tensor with values in [0, 1]
func (p *Processor) Preprocess(rec *types.ImageRecord) (*tensor.Array, error) {
	img := rec.Image
	if size, ok := TargetSize(rec.OriginalSize, p.config); ok {
		resized, err := Resize(img, size, p.config.Interpolation)
		if err != nil {
			return nil, err
		}
		img = resized
	}
	return tensor.FromImage(img, p.config.Grayscale), nil
}

// PrepareImageForModel converts a tensor to base64 for sending to vision models
func PrepareImageForModel(t *tensor.Array, format string, maxDim int, quality int) (string, error) {
	img, err := tensor.ToImage(t)
	if err != nil {
		return "", err
	}
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func joinName(root, name string) string {
	return filepath.Join(root, filepath.FromSlash(name))
}
