// Package pipeline turns raw uploaded image bytes into a ranked disease
// prediction: decode, resize to the model's input size, flatten into a
// tensor, run the classifier, rank the probabilities.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/krishimitra/pdr-api/internal/model"
)

// ImageSize is the side length the reference checkpoint was trained at.
const ImageSize = 128

// ErrDecode marks malformed or unsupported image uploads. It is the only
// pipeline failure surfaced to callers; everything downstream degrades to a
// safe default instead.
var ErrDecode = errors.New("invalid image")

// NormalizationMode selects the pixel value domain fed to the model. The mode
// must match how the deployed checkpoint was trained; a mismatch corrupts
// confidences silently, so it is fixed once per deployment via configuration.
type NormalizationMode int

const (
	// NormalizationScaled divides pixel values by 255 into [0,1]. The
	// reference checkpoint carries its own rescaling layer trained against
	// this domain, so scaled is the default.
	NormalizationScaled NormalizationMode = iota
	// NormalizationRaw leaves pixel values in [0,255].
	NormalizationRaw
)

func (m NormalizationMode) String() string {
	if m == NormalizationRaw {
		return "raw"
	}
	return "scaled"
}

// ParseNormalizationMode maps the configuration value to a mode.
func ParseNormalizationMode(s string) (NormalizationMode, error) {
	switch s {
	case "scaled", "scaled_0_1", "":
		return NormalizationScaled, nil
	case "raw", "raw_0_255":
		return NormalizationRaw, nil
	}
	return NormalizationScaled, fmt.Errorf("unknown normalization mode %q", s)
}

// Prediction is one ranked entry of the classifier output.
type Prediction struct {
	Index      int     `json:"index"`
	Confidence float32 `json:"confidence"`
}

type Pipeline struct {
	classifier model.Classifier
	mode       NormalizationMode
	logger     *zap.Logger
}

func New(classifier model.Classifier, mode NormalizationMode, logger *zap.Logger) *Pipeline {
	return &Pipeline{classifier: classifier, mode: mode, logger: logger}
}

// Mode reports the normalization convention the pipeline was built with.
func (p *Pipeline) Mode() NormalizationMode { return p.mode }

// DecodeAndResize decodes JPEG/PNG/BMP/WEBP/GIF bytes and resizes the image
// to ImageSize x ImageSize with Lanczos3 resampling. Malformed input returns
// an error wrapping ErrDecode.
func DecodeAndResize(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrDecode)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return resize.Resize(ImageSize, ImageSize, img, resize.Lanczos3), nil
}

// ToTensor flattens a decoded image into the NHWC layout the checkpoint
// expects (1 x height x width x 3), applying the normalization mode. The raw
// and scaled outputs of the same image differ element-wise by exactly 255.
func ToTensor(img image.Image, mode NormalizationMode) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := make([]float32, height*width*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// RGBA returns 16-bit channels; shift down to 8-bit.
			out[i] = float32(r >> 8)
			out[i+1] = float32(g >> 8)
			out[i+2] = float32(b >> 8)
			i += 3
		}
	}
	if mode == NormalizationScaled {
		for j := range out {
			out[j] /= 255
		}
	}
	return out
}

// Predict runs the classifier over a tensor. Any classifier failure or
// malformed output degrades to the uniform distribution so callers never
// observe a model error; the failure is only logged.
func (p *Pipeline) Predict(ctx context.Context, tensor []float32) []float32 {
	n := p.classifier.Classes()
	probs, err := p.classifier.Predict(tensor)
	if err == nil && len(probs) != n {
		err = fmt.Errorf("expected %d outputs, got %d", n, len(probs))
	}
	if err != nil {
		p.logger.Warn("classifier failed, returning uniform distribution", zap.Error(err))
		probs = make([]float32, n)
		for i := range probs {
			probs[i] = 1 / float32(n)
		}
	}
	return probs
}

// Rank orders a probability vector by confidence descending, ties broken by
// ascending class index, truncated to topK. topK below 1 yields the single
// best class; topK above the vector length is clamped.
func Rank(probs []float32, topK int) []Prediction {
	ranked := make([]Prediction, len(probs))
	for i, p := range probs {
		ranked[i] = Prediction{Index: i, Confidence: p}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Confidence != ranked[b].Confidence {
			return ranked[a].Confidence > ranked[b].Confidence
		}
		return ranked[a].Index < ranked[b].Index
	})
	if topK < 1 {
		topK = 1
	}
	if topK > len(ranked) {
		topK = len(ranked)
	}
	return ranked[:topK]
}

// Classify is the full pipeline: decode, normalize, predict, rank. Only
// decode failures surface as errors.
func (p *Pipeline) Classify(ctx context.Context, data []byte, topK int) ([]Prediction, error) {
	img, err := DecodeAndResize(data)
	if err != nil {
		return nil, err
	}
	tensor := ToTensor(img, p.mode)
	probs := p.Predict(ctx, tensor)
	return Rank(probs, topK), nil
}
