package inference

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer kinds understood by Sequential.
const (
	KindLinear  = "linear"
	KindReLU    = "relu"
	KindSigmoid = "sigmoid"
	KindSoftmax = "softmax"
	KindFlatten = "flatten"
)

// Layer is one step of a Sequential model. Weight is stored row-major with
// shape (Out, In).
type Layer struct {
	Kind   string
	In     int
	Out    int
	Weight []float64
	Bias   []float64
}

// Linear returns a fully connected layer computing x*Wᵀ + b.
func Linear(in, out int, weight, bias []float64) Layer {
	return Layer{Kind: KindLinear, In: in, Out: out, Weight: weight, Bias: bias}
}

// ReLU returns a rectifier layer.
func ReLU() Layer { return Layer{Kind: KindReLU} }

// Sigmoid returns a logistic layer.
func Sigmoid() Layer { return Layer{Kind: KindSigmoid} }

// Softmax returns a row-wise softmax layer.
func Softmax() Layer { return Layer{Kind: KindSoftmax} }

// Flatten returns a layer that reshapes (B, ...) to (B, -1).
func Flatten() Layer { return Layer{Kind: KindFlatten} }

func (l Layer) validate() error {
	switch l.Kind {
	case KindLinear:
		if l.In <= 0 || l.Out <= 0 {
			return errors.NewValidationError("linear", "in and out must be positive", [2]int{l.In, l.Out})
		}
		if len(l.Weight) != l.In*l.Out {
			return errors.NewDimensionError("linear", l.In*l.Out, len(l.Weight), 0)
		}
		if l.Bias != nil && len(l.Bias) != l.Out {
			return errors.NewDimensionError("linear", l.Out, len(l.Bias), 0)
		}
	case KindReLU, KindSigmoid, KindSoftmax, KindFlatten:
	default:
		return errors.NewValidationError("kind", "unknown layer kind", l.Kind)
	}
	return nil
}

// Sequential is a feed-forward stack of layers evaluated on the host with
// gonum. Inputs are flattened to (batch, features) and several inputs are
// concatenated along the feature axis.
type Sequential struct {
	Layers []Layer

	device tensor.Device
}

// NewSequential validates layers and returns a CPU model.
func NewSequential(layers ...Layer) (*Sequential, error) {
	s := &Sequential{Layers: layers, device: tensor.CPU}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sequential) validate() error {
	if len(s.Layers) == 0 {
		return errors.NewValidationError("layers", "at least one layer is required", nil)
	}
	for i, l := range s.Layers {
		if err := l.validate(); err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
	}
	return nil
}

// SaveSequential writes s to w with gob.
func SaveSequential(w io.Writer, s *Sequential) error {
	return SaveModelToWriter(s, w)
}

// LoadSequential reads a gob-encoded Sequential and places it on device.
func LoadSequential(r io.Reader, device tensor.Device) (*Sequential, error) {
	var s Sequential
	if err := LoadModelFromReader(&s, r); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, errors.NewModelError("LoadSequential", "invalid model", err)
	}
	s.device = device
	if s.device == "" {
		s.device = tensor.CPU
	}
	return &s, nil
}

// Device returns the device the model was loaded for.
func (s *Sequential) Device() tensor.Device { return s.device }

// Close is a no-op.
func (s *Sequential) Close() error { return nil }

// Predict runs the layers on the concatenated inputs and returns a float32
// tensor of shape (batch, outputs) on the model's device.
func (s *Sequential) Predict(ctx context.Context, inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, err := concatFeatures(inputs)
	if err != nil {
		return nil, err
	}

	var m mat.Matrix = x
	for i, l := range s.Layers {
		m, err = l.forward(m)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d (%s)", i, l.Kind)
		}
	}
	return tensor.FromMatrix(m).Float().To(s.device), nil
}

// concatFeatures flattens each input to (batch, -1) and joins them column-wise.
func concatFeatures(inputs []*tensor.Tensor) (*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "predict")
	}
	batch := -1
	parts := make([]*mat.Dense, 0, len(inputs))
	cols := 0
	for _, in := range inputs {
		if in == nil || in.Dims() == 0 {
			return nil, errors.NewValueError("Predict", "inputs must have a batch dimension")
		}
		b := in.Shape()[0]
		if batch >= 0 && b != batch {
			return nil, errors.NewInputShapeError("forward", []int{batch}, []int{b})
		}
		batch = b
		flat, err := in.Reshape(b, -1)
		if err != nil {
			return nil, err
		}
		if flat.Numel() == 0 {
			continue
		}
		d, err := flat.Matrix()
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
		cols += flat.Shape()[1]
	}
	if cols == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "predict")
	}

	x := mat.NewDense(batch, cols, nil)
	off := 0
	for _, p := range parts {
		_, c := p.Dims()
		x.Slice(0, batch, off, off+c).(*mat.Dense).Copy(p)
		off += c
	}
	return x, nil
}

func (l Layer) forward(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	switch l.Kind {
	case KindLinear:
		if c != l.In {
			return nil, errors.NewDimensionError("linear", l.In, c, 1)
		}
		w := mat.NewDense(l.Out, l.In, l.Weight)
		out := mat.NewDense(r, l.Out, nil)
		out.Mul(x, w.T())
		if l.Bias != nil {
			for i := 0; i < r; i++ {
				floats.Add(out.RawRowView(i), l.Bias)
			}
		}
		return out, nil
	case KindReLU:
		out := mat.NewDense(r, c, nil)
		out.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, x)
		return out, nil
	case KindSigmoid:
		out := mat.NewDense(r, c, nil)
		out.Apply(func(_, _ int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, x)
		return out, nil
	case KindSoftmax:
		out := mat.DenseCopyOf(x)
		for i := 0; i < r; i++ {
			row := out.RawRowView(i)
			hi := floats.Max(row)
			for j, v := range row {
				row[j] = math.Exp(v - hi)
			}
			floats.Scale(1/floats.Sum(row), row)
		}
		return out, nil
	case KindFlatten:
		return x, nil
	}
	return nil, errors.NewValueError("forward", fmt.Sprintf("unknown layer kind %q", l.Kind))
}
