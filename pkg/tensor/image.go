package tensor

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// FromImage converts an image into a 1×C×H×W float32 tensor with values in
// [0, 1]. Grayscale images produce a single channel taken from the luma.
func FromImage(img image.Image, grayscale bool) *Array {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	c := 3
	if grayscale {
		c = 1
	}
	data := make([]float32, c*h*w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			px := img.At(b.Min.X+x, b.Min.Y+y)
			if grayscale {
				g := color.GrayModel.Convert(px).(color.Gray)
				data[i] = float32(g.Y) / 255
				continue
			}
			n := color.NRGBAModel.Convert(px).(color.NRGBA)
			data[i] = float32(n.R) / 255
			data[plane+i] = float32(n.G) / 255
			data[2*plane+i] = float32(n.B) / 255
		}
	}
	return FromFloat32(data, 1, c, h, w)
}

// ImageSize returns the spatial size (width, height) of a N×C×H×W or C×H×W tensor.
func ImageSize(a *Array) (int, int, error) {
	switch len(a.Shape) {
	case 3:
		return a.Shape[2], a.Shape[1], nil
	case 4:
		return a.Shape[3], a.Shape[2], nil
	}
	return 0, 0, fmt.Errorf("tensor: expected an image tensor, got shape %v", a.Shape)
}

// ToImage converts a 1×C×H×W tensor with values in [0, 1] back into an image.
func ToImage(a *Array) (image.Image, error) {
	if len(a.Shape) != 4 || a.Shape[0] != 1 {
		return nil, fmt.Errorf("tensor: expected a 1×C×H×W tensor, got shape %v", a.Shape)
	}
	c, h, w := a.Shape[1], a.Shape[2], a.Shape[3]
	data := a.Float32s()
	plane := h * w
	to8 := func(v float32) uint8 {
		return uint8(math.Round(float64(clamp01(v)) * 255))
	}
	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			img.Pix[i] = to8(data[i])
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			img.Pix[i*4+0] = to8(data[i])
			img.Pix[i*4+1] = to8(data[plane+i])
			img.Pix[i*4+2] = to8(data[2*plane+i])
			img.Pix[i*4+3] = 255
		}
		return img, nil
	}
	return nil, fmt.Errorf("tensor: unsupported channel count %d", c)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Interpolate resamples a 1×C×H×W tensor by a scale factor with bilinear
// weights and half-pixel centers (corners not aligned). The output size is
// floor(H*scale) × floor(W*scale).
func Interpolate(a *Array, scale float64) (*Array, error) {
	if len(a.Shape) != 4 {
		return nil, fmt.Errorf("tensor: expected a N×C×H×W tensor, got shape %v", a.Shape)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("tensor: invalid scale factor %v", scale)
	}
	n, c, h, w := a.Shape[0], a.Shape[1], a.Shape[2], a.Shape[3]
	oh := int(math.Floor(float64(h) * scale))
	ow := int(math.Floor(float64(w) * scale))
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("tensor: scale %v collapses %dx%d", scale, w, h)
	}
	src := a.Float32s()
	dst := make([]float32, n*c*oh*ow)

	ys := bilinearTaps(oh, h, scale)
	xs := bilinearTaps(ow, w, scale)
	for p := 0; p < n*c; p++ {
		in := src[p*h*w : (p+1)*h*w]
		out := dst[p*oh*ow : (p+1)*oh*ow]
		for oy, ty := range ys {
			r0 := in[ty.i0*w : ty.i0*w+w]
			r1 := in[ty.i1*w : ty.i1*w+w]
			for ox, tx := range xs {
				top := r0[tx.i0]*(1-tx.f) + r0[tx.i1]*tx.f
				bot := r1[tx.i0]*(1-tx.f) + r1[tx.i1]*tx.f
				out[oy*ow+ox] = top*(1-ty.f) + bot*ty.f
			}
		}
	}
	return FromFloat32(dst, n, c, oh, ow), nil
}

type tap struct {
	i0, i1 int
	f      float32
}

func bilinearTaps(outLen, inLen int, scale float64) []tap {
	taps := make([]tap, outLen)
	for o := range taps {
		src := (float64(o)+0.5)/scale - 0.5
		if src < 0 {
			src = 0
		}
		i0 := int(math.Floor(src))
		if i0 > inLen-1 {
			i0 = inLen - 1
		}
		i1 := i0 + 1
		if i1 > inLen-1 {
			i1 = inLen - 1
		}
		taps[o] = tap{i0: i0, i1: i1, f: float32(src - float64(i0))}
	}
	return taps
}
