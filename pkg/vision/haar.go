package vision

import (
	"context"
	"fmt"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rivo/duplo/haar"
	"github.com/viterin/vek/vek32"

	"github.com/menta2k/image-features/pkg/client"
	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/types"
)

// haarSide is the power-of-two working resolution of the wavelet transform.
const haarSide = 64

// HaarDescriptor is a global model: the low-frequency block of a 2D Haar
// wavelet decomposition in YIQ space, L2 normalized
type HaarDescriptor struct {
	coefs int
}

// NewHaar creates a Haar descriptor keeping the top-left coefs×coefs block
// of each colour channel. coefs is clamped to [1, 64].
func NewHaar(coefs int) *HaarDescriptor {
	if coefs <= 0 {
		coefs = 8
	}
	if coefs > haarSide {
		coefs = haarSide
	}
	return &HaarDescriptor{coefs: coefs}
}

func (h *HaarDescriptor) Kind() client.ModelKind { return client.Global }

func (h *HaarDescriptor) RequiredInputs() []string { return []string{client.InputImage} }

// Dim returns the descriptor length
func (h *HaarDescriptor) Dim() int {
	return h.coefs * h.coefs * haar.ColourChannels
}

// Infer returns {"global_descriptor": 1×D}
func (h *HaarDescriptor) Infer(ctx context.Context, inputs map[string]*tensor.Array) (map[string]*tensor.Array, error) {
	in, ok := inputs[client.InputImage]
	if !ok {
		return nil, fmt.Errorf("missing input %q", client.InputImage)
	}
	img, err := tensor.ToImage(in)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scaled := imaging.Resize(img, haarSide, haarSide, imaging.Box)
	matrix := haar.Transform(scaled)

	desc := make([]float32, 0, h.Dim())
	for y := 0; y < h.coefs; y++ {
		for x := 0; x < h.coefs; x++ {
			coef := matrix.Coefs[y*int(matrix.Width)+x]
			for c := 0; c < haar.ColourChannels; c++ {
				v := coef[c]
				if math.IsNaN(v) || math.IsInf(v, 0) {
					v = 0
				}
				desc = append(desc, float32(v))
			}
		}
	}
	if norm := vek32.Norm(desc); norm > 0 {
		vek32.DivNumber_Inplace(desc, norm)
	}

	return map[string]*tensor.Array{
		types.KindGlobalDescriptor: tensor.FromFloat32(desc, 1, len(desc)),
	}, nil
}
