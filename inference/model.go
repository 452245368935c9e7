// Package inference runs trained models on batches produced by the
// transform pipelines.
//
// Two runtimes are available: Sequential, a small gob-persisted layer stack
// evaluated with gonum, and ONNXSession, backed by the ONNX Runtime shared
// library.
package inference

import (
	"context"

	"github.com/YuminosukeSato/fastinference/core/tensor"
)

// Model is a loaded model ready for inference.
type Model interface {
	// Predict runs a forward pass. Models with several inputs take them in
	// declaration order, e.g. (categorical, continuous) for tabular models.
	Predict(ctx context.Context, inputs ...*tensor.Tensor) (*tensor.Tensor, error)

	// Device is where the model's computation runs.
	Device() tensor.Device

	// Close releases runtime resources.
	Close() error
}
