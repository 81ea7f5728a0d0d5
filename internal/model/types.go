// Package model provides the classifier collaborator: an opaque function from
// a flattened image tensor to a probability vector. Two implementations exist,
// a real ONNX-backed one and a deterministic stub selected by configuration
// when no checkpoint is available.
package model

import "errors"

// Metadata describes a trained checkpoint: tensor shapes, the image size the
// model expects, and the class table it predicts over. It is stored as a JSON
// file next to the .onnx artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// ErrBadInputSize is returned when the tensor length does not match the
// checkpoint's input shape.
var ErrBadInputSize = errors.New("input tensor size mismatch")

// Classifier turns a flattened image tensor into a probability vector of
// length equal to the model's class count. Implementations must be safe for
// use from a single goroutine at a time; the pipeline serializes calls.
type Classifier interface {
	Predict(input []float32) ([]float32, error)
	Classes() int
	Close()
}
