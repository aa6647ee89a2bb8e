package vision

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/viterin/vek/vek32"

	"github.com/menta2k/image-features/pkg/client"
	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/types"
)

// SaliencyDetector is a local model: keypoints are local maxima of a
// neighbour-contrast saliency map and descriptors are normalized intensity
// patches around them
type SaliencyDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for keypoint detection
type DetectionConfig struct {
	MaxKeypoints int
	NMSRadius    int
	// Threshold is relative to the strongest response in the image.
	Threshold        float64
	BorderMargin     int
	DescriptorRadius int
	DescriptorStride int
	// DetectionNoise is the keypoint localization noise in pixels.
	DetectionNoise float64
}

// DefaultConfig returns the detector defaults
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		MaxKeypoints:     1024,
		NMSRadius:        4,
		Threshold:        0.05,
		BorderMargin:     4,
		DescriptorRadius: 3,
		DescriptorStride: 2,
		DetectionNoise:   1,
	}
}

// New creates a new SaliencyDetector with default configuration
func New() *SaliencyDetector {
	return &SaliencyDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new SaliencyDetector with custom configuration.
// Zero fields take their defaults.
func NewWithConfig(config DetectionConfig) *SaliencyDetector {
	def := DefaultConfig()
	if config.MaxKeypoints <= 0 {
		config.MaxKeypoints = def.MaxKeypoints
	}
	if config.NMSRadius <= 0 {
		config.NMSRadius = def.NMSRadius
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BorderMargin < 0 {
		config.BorderMargin = 0
	}
	if config.DescriptorRadius <= 0 {
		config.DescriptorRadius = def.DescriptorRadius
	}
	if config.DescriptorStride <= 0 {
		config.DescriptorStride = def.DescriptorStride
	}
	if config.DetectionNoise <= 0 {
		config.DetectionNoise = def.DetectionNoise
	}
	return &SaliencyDetector{config: config}
}

// Config returns the effective configuration
func (d *SaliencyDetector) Config() DetectionConfig {
	return d.config
}

// Keypoint is a detected point in pixel coordinates
type Keypoint struct {
	X     int
	Y     int
	Score float64
}

func (d *SaliencyDetector) Kind() client.ModelKind { return client.Local }

func (d *SaliencyDetector) RequiredInputs() []string { return []string{client.InputImage} }

func (d *SaliencyDetector) DetectionNoise() float64 { return d.config.DetectionNoise }

// DescriptorDim returns the length of each descriptor
func (d *SaliencyDetector) DescriptorDim() int {
	side := 2*d.config.DescriptorRadius + 1
	return side * side
}

// Infer returns keypoints (1×N×2, x then y), scores (1×N) and
// descriptors (1×D×N)
func (d *SaliencyDetector) Infer(ctx context.Context, inputs map[string]*tensor.Array) (map[string]*tensor.Array, error) {
	img, ok := inputs[client.InputImage]
	if !ok {
		return nil, fmt.Errorf("missing input %q", client.InputImage)
	}
	plane, w, h, err := luma(img)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kps := d.DetectKeypoints(plane, w, h)
	n := len(kps)

	points := make([]float32, 0, 2*n)
	scores := make([]float32, 0, n)
	for _, kp := range kps {
		points = append(points, float32(kp.X), float32(kp.Y))
		scores = append(scores, float32(kp.Score))
	}
	dim := d.DescriptorDim()

	return map[string]*tensor.Array{
		types.KindKeypoints:   tensor.FromFloat32(points, 1, n, 2),
		types.KindScores:      tensor.FromFloat32(scores, 1, n),
		types.KindDescriptors: tensor.FromFloat32(d.describe(plane, w, h, kps), 1, dim, n),
	}, nil
}

// luma reduces a 1×C×H×W tensor to a single H×W plane
func luma(img *tensor.Array) ([]float32, int, int, error) {
	if len(img.Shape) != 4 || img.Shape[0] != 1 {
		return nil, 0, 0, fmt.Errorf("expected a 1×C×H×W image, got %v", img.Shape)
	}
	c, h, w := img.Shape[1], img.Shape[2], img.Shape[3]
	data := img.Float32s()
	plane := h * w
	switch c {
	case 1:
		return data[:plane], w, h, nil
	case 3:
		out := make([]float32, plane)
		for i := range out {
			out[i] = 0.299*data[i] + 0.587*data[plane+i] + 0.114*data[2*plane+i]
		}
		return out, w, h, nil
	}
	return nil, 0, 0, fmt.Errorf("unsupported channel count %d", c)
}

// DetectKeypoints finds up to MaxKeypoints saliency maxima, strongest first
func (d *SaliencyDetector) DetectKeypoints(plane []float32, width, height int) []Keypoint {
	saliencyMap := d.calculateSaliencyMap(plane, width, height)

	maxScore := float32(0)
	for _, s := range saliencyMap {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore == 0 {
		return nil
	}
	threshold := float32(d.config.Threshold) * maxScore

	var kps []Keypoint
	m := d.config.BorderMargin
	for y := m; y < height-m; y++ {
		for x := m; x < width-m; x++ {
			s := saliencyMap[y*width+x]
			if s < threshold || s == 0 {
				continue
			}
			if d.isLocalMax(saliencyMap, width, height, x, y) {
				kps = append(kps, Keypoint{X: x, Y: y, Score: float64(s / maxScore)})
			}
		}
	}

	// Stable so that equal scores keep raster order
	sort.SliceStable(kps, func(i, j int) bool {
		return kps[i].Score > kps[j].Score
	})
	if len(kps) > d.config.MaxKeypoints {
		kps = kps[:d.config.MaxKeypoints]
	}
	return kps
}

// calculateSaliencyMap scores each pixel by its mean absolute difference
// to the 8 neighbours
func (d *SaliencyDetector) calculateSaliencyMap(plane []float32, width, height int) []float32 {
	saliencyMap := make([]float32, width*height)
	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			current := plane[y*width+x]
			var edgeStrength float32
			for _, off := range neighbors {
				diff := current - plane[(y+off[1])*width+x+off[0]]
				if diff < 0 {
					diff = -diff
				}
				edgeStrength += diff
			}
			saliencyMap[y*width+x] = edgeStrength / 8
		}
	}
	return saliencyMap
}

// isLocalMax reports whether (x, y) dominates its NMS window. Ties go to
// the pixel that comes first in raster order.
func (d *SaliencyDetector) isLocalMax(saliencyMap []float32, width, height, x, y int) bool {
	r := d.config.NMSRadius
	idx := y*width + x
	s := saliencyMap[idx]
	for ny := max(0, y-r); ny <= min(height-1, y+r); ny++ {
		for nx := max(0, x-r); nx <= min(width-1, x+r); nx++ {
			nIdx := ny*width + nx
			if nIdx == idx {
				continue
			}
			ns := saliencyMap[nIdx]
			if ns > s || (ns == s && nIdx < idx) {
				return false
			}
		}
	}
	return true
}

// describe samples a zero-mean, unit-norm patch around each keypoint. The
// result is laid out D×N.
func (d *SaliencyDetector) describe(plane []float32, width, height int, kps []Keypoint) []float32 {
	dim := d.DescriptorDim()
	n := len(kps)
	out := make([]float32, dim*n)
	r, stride := d.config.DescriptorRadius, d.config.DescriptorStride
	patch := make([]float32, dim)

	for k, kp := range kps {
		i := 0
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				px := clampInt(kp.X+dx*stride, 0, width-1)
				py := clampInt(kp.Y+dy*stride, 0, height-1)
				patch[i] = plane[py*width+px]
				i++
			}
		}
		mean := vek32.Mean(patch)
		vek32.SubNumber_Inplace(patch, mean)
		if norm := vek32.Norm(patch); norm > 1e-12 {
			vek32.DivNumber_Inplace(patch, norm)
		} else {
			clear(patch)
		}
		for j, v := range patch {
			out[j*n+k] = v
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return int(math.Max(float64(lo), math.Min(float64(hi), float64(v))))
}
