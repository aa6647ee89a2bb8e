package extract

import (
	"context"
	"fmt"
	"image"

	"github.com/viterin/vek/vek32"

	"github.com/menta2k/image-features/pkg/client"
	"github.com/menta2k/image-features/pkg/processing"
	"github.com/menta2k/image-features/pkg/tensor"
	"github.com/menta2k/image-features/pkg/translate"
	"github.com/menta2k/image-features/pkg/types"
)

// Predict extracts features from one in-memory image without touching a
// store. Keypoints are returned in the frame of img.
func Predict(ctx context.Context, model client.Model, pre types.PreprocessingConfig, img image.Image, asHalf bool) (*types.Prediction, error) {
	pre = pre.WithDefaults()
	if err := processing.ValidateInterpolation(pre.Interpolation); err != nil {
		return nil, err
	}
	if err := checkModel(model, pre); err != nil {
		return nil, err
	}
	e := &extractor{model: model, processor: processing.NewProcessor(pre), asHalf: asHalf}
	b := img.Bounds()
	return e.process(ctx, &types.ImageRecord{
		Name:         "image",
		Image:        img,
		OriginalSize: types.Size{Width: b.Dx(), Height: b.Dy()},
	})
}

type extractor struct {
	model      client.Model
	processor  *processing.Processor
	translator translate.Translator
	asHalf     bool
}

// extract runs one catalog entry from load to a prediction ready to commit.
func (e *extractor) extract(ctx context.Context, root, name string) (*types.Prediction, error) {
	rec, err := e.processor.Load(root, name)
	if err != nil {
		return nil, err
	}
	return e.process(ctx, rec)
}

// process runs a decoded record from preprocessing to a prediction.
func (e *extractor) process(ctx context.Context, rec *types.ImageRecord) (*types.Prediction, error) {
	name := rec.Name
	img, err := e.processor.Preprocess(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess %s: %w", name, err)
	}

	if e.translator != nil && e.translator.Applies(name) {
		if img, err = e.translator.Translate(ctx, img); err != nil {
			return nil, fmt.Errorf("failed to translate %s: %w", name, err)
		}
	}

	var arrays map[string]*tensor.Array
	if cfg := e.processor.Config(); cfg.Multiscale() {
		arrays, err = e.inferMultiscale(ctx, img, cfg.Scales)
	} else {
		arrays, err = e.inferSingle(ctx, img)
	}
	if err != nil {
		return nil, fmt.Errorf("inference failed for %s: %w", name, err)
	}

	pred := &types.Prediction{Arrays: arrays}
	orig := rec.OriginalSize
	pred.Arrays[types.KindImageSize] = tensor.FromInt64([]int64{int64(orig.Width), int64(orig.Height)}, 2)

	if kp, ok := pred.Arrays[types.KindKeypoints]; ok {
		w, h, err := tensor.ImageSize(img)
		if err != nil {
			return nil, err
		}
		sx := float32(orig.Width) / float32(w)
		sy := float32(orig.Height) / float32(h)
		rescaled, err := RescaleKeypoints(kp, sx, sy)
		if err != nil {
			return nil, fmt.Errorf("failed to rescale keypoints for %s: %w", name, err)
		}
		pred.Arrays[types.KindKeypoints] = rescaled
		pred.Uncertainty = detectionNoise(e.model) * float64((sx+sy)/2)
		pred.HasUncertainty = true
	}

	if e.asHalf {
		for kind, a := range pred.Arrays {
			pred.Arrays[kind] = a.Downcast()
		}
	}
	return pred, nil
}

// inferSingle runs the model once and drops the batch dimension.
func (e *extractor) inferSingle(ctx context.Context, img *tensor.Array) (map[string]*tensor.Array, error) {
	out, err := e.model.Infer(ctx, map[string]*tensor.Array{client.InputImage: img})
	if err != nil {
		return nil, err
	}
	arrays := make(map[string]*tensor.Array, len(out)+1)
	for kind, a := range out {
		sq, err := a.Squeeze()
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", kind, err)
		}
		arrays[kind] = sq
	}
	return arrays, nil
}

// inferMultiscale averages the global descriptor over rescaled copies of
// img and renormalizes the mean to unit length.
func (e *extractor) inferMultiscale(ctx context.Context, img *tensor.Array, scales []float64) (map[string]*tensor.Array, error) {
	var sum []float32
	for _, s := range scales {
		scaled, err := tensor.Interpolate(img, s)
		if err != nil {
			return nil, err
		}
		out, err := e.model.Infer(ctx, map[string]*tensor.Array{client.InputImage: scaled})
		if err != nil {
			return nil, err
		}
		desc, ok := out[types.KindGlobalDescriptor]
		if !ok {
			return nil, fmt.Errorf("model returned no %s at scale %v", types.KindGlobalDescriptor, s)
		}
		v := desc.Float32s()
		if sum == nil {
			sum = make([]float32, len(v))
		}
		if len(v) != len(sum) {
			return nil, fmt.Errorf("descriptor length %d at scale %v differs from %d", len(v), s, len(sum))
		}
		vek32.Add_Inplace(sum, v)
	}

	vek32.DivNumber_Inplace(sum, float32(len(scales)))
	norm := vek32.Norm(sum)
	if norm < 1e-12 {
		norm = 1e-12
	}
	vek32.DivNumber_Inplace(sum, norm)
	return map[string]*tensor.Array{
		types.KindGlobalDescriptor: tensor.FromFloat32(sum, len(sum)),
	}, nil
}

// RescaleKeypoints maps N×2 keypoints from a resized image back to the
// original frame with pixel-center alignment: (kp+0.5)*scale-0.5.
func RescaleKeypoints(kp *tensor.Array, sx, sy float32) (*tensor.Array, error) {
	if kp.NDim() != 2 || kp.Shape[1] != 2 {
		return nil, fmt.Errorf("keypoints must be N×2, got %v", kp.Shape)
	}
	src := kp.Float32s()
	out := make([]float32, len(src))
	for i := 0; i < len(src); i += 2 {
		out[i] = (src[i]+0.5)*sx - 0.5
		out[i+1] = (src[i+1]+0.5)*sy - 0.5
	}
	return tensor.FromFloat32(out, kp.Shape...), nil
}

func detectionNoise(m client.Model) float64 {
	if nr, ok := m.(client.NoiseReporter); ok {
		return nr.DetectionNoise()
	}
	return 1
}
