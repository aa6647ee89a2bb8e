package processing

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/menta2k/image-features/pkg/types"
)

// Interpolation identifiers come in two families: "cv2_*" for the
// area/linear family and "pil_*" for filtered resampling.
const (
	cv2Prefix = "cv2_"
	pilPrefix = "pil_"
)

var pilFilters = map[string]imaging.ResampleFilter{
	"nearest":  imaging.NearestNeighbor,
	"box":      imaging.Box,
	"linear":   imaging.Linear,
	"bilinear": imaging.Linear,
	"bicubic":  imaging.CatmullRom,
	"hamming":  imaging.Hamming,
	"lanczos":  imaging.Lanczos,
}

var cv2Kinds = map[string]bool{
	"area":     true,
	"linear":   true,
	"cubic":    true,
	"nearest":  true,
	"lanczos4": true,
}

// ValidateInterpolation reports a ConfigError for unknown identifiers.
func ValidateInterpolation(interp string) error {
	switch {
	case strings.HasPrefix(interp, cv2Prefix):
		if cv2Kinds[strings.TrimPrefix(interp, cv2Prefix)] {
			return nil
		}
	case strings.HasPrefix(interp, pilPrefix):
		if _, ok := pilFilters[strings.TrimPrefix(interp, pilPrefix)]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown interpolation %q", types.ErrConfig, interp)
}

// Resize resamples img to size. Area resampling is only defined for
// downsampling, so cv2_area upsampling on either axis uses cv2_linear.
func Resize(img image.Image, size image.Point, interp string) (image.Image, error) {
	if err := ValidateInterpolation(interp); err != nil {
		return nil, err
	}
	if size.X < 1 || size.Y < 1 {
		return nil, fmt.Errorf("%w: invalid target size %dx%d", types.ErrConfig, size.X, size.Y)
	}

	if strings.HasPrefix(interp, pilPrefix) {
		filter := pilFilters[strings.TrimPrefix(interp, pilPrefix)]
		return imaging.Resize(img, size.X, size.Y, filter), nil
	}

	kind := strings.TrimPrefix(interp, cv2Prefix)
	b := img.Bounds()
	if kind == "area" && (b.Dx() < size.X || b.Dy() < size.Y) {
		kind = "linear"
	}
	switch kind {
	case "area":
		return imaging.Resize(img, size.X, size.Y, imaging.Box), nil
	case "lanczos4":
		return imaging.Resize(img, size.X, size.Y, imaging.Lanczos), nil
	case "linear":
		return scale(img, size, draw.BiLinear), nil
	case "cubic":
		return scale(img, size, draw.CatmullRom), nil
	default:
		return scale(img, size, draw.NearestNeighbor), nil
	}
}

func scale(img image.Image, size image.Point, s draw.Scaler) image.Image {
	rect := image.Rect(0, 0, size.X, size.Y)
	if _, ok := img.(*image.Gray); ok {
		dst := image.NewGray(rect)
		s.Scale(dst, rect, img, img.Bounds(), draw.Src, nil)
		return dst
	}
	dst := image.NewNRGBA(rect)
	s.Scale(dst, rect, img, img.Bounds(), draw.Src, nil)
	return dst
}

// TargetSize applies the sizing policy to an image of the given size. The
// boolean is false when the image passes through unresized.
//
// resize_max takes precedence over resize_min. With multiscale extraction the
// target is enlarged by the largest scale so the stored image supports it.
func TargetSize(size types.Size, cfg types.PreprocessingConfig) (image.Point, bool) {
	w, h := float64(size.Width), float64(size.Height)
	longest, shortest := math.Max(w, h), math.Min(w, h)
	maxScale := 1.0
	if cfg.Multiscale() {
		maxScale = cfg.MaxScale()
	}

	var factor float64
	switch {
	case cfg.ResizeMax > 0 && (cfg.ResizeForce || longest > float64(cfg.ResizeMax)):
		factor = float64(cfg.ResizeMax) * maxScale / longest
	case cfg.ResizeMin > 0 && (cfg.ResizeForce || shortest > float64(cfg.ResizeMin)):
		factor = float64(cfg.ResizeMin) * maxScale / shortest
	default:
		return image.Point{X: size.Width, Y: size.Height}, false
	}
	return image.Point{
		X: int(math.Round(w * factor)),
		Y: int(math.Round(h * factor)),
	}, true
}
