package transforms

import (
	"fmt"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Normalize は平均と標準偏差で標準化します。
//
// Mean/Std が与えられた場合は画像テンソルのチャネルごとに、
// Means/Stds が与えられた場合は表形式レコードの列ごとに適用します。
type Normalize struct {
	base
	Mean  []float64
	Std   []float64
	Means map[string]float64
	Stds  map[string]float64
}

func newNormalize(args Args) (Transform, error) {
	order, err := args.order(99)
	if err != nil {
		return nil, err
	}
	var opts struct {
		Mean  []float64          `arg:"mean"`
		Std   []float64          `arg:"std"`
		Axes  []int              `arg:"axes"`
		Means map[string]float64 `arg:"means"`
		Stds  map[string]float64 `arg:"stds"`
	}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if len(opts.Mean) != len(opts.Std) {
		return nil, errors.NewValidationError("std", "mean and std must have the same length",
			fmt.Sprintf("%d != %d", len(opts.Mean), len(opts.Std)))
	}
	for _, s := range opts.Std {
		if s == 0 {
			return nil, errors.NewValidationError("std", "must not contain zero", opts.Std)
		}
	}
	for col := range opts.Means {
		if s, ok := opts.Stds[col]; !ok || s == 0 {
			return nil, errors.NewValidationError("stds", "missing or zero std for column "+col, opts.Stds)
		}
	}
	return &Normalize{
		base:  base{order},
		Mean:  opts.Mean,
		Std:   opts.Std,
		Means: opts.Means,
		Stds:  opts.Stds,
	}, nil
}

func (n *Normalize) Call(x any) (any, error) {
	switch v := x.(type) {
	case *tensor.TensorImage:
		if len(n.Mean) == 0 {
			return x, nil
		}
		return n.channelwise(v.Tensor, func(p, m, s float64) float64 { return (p - m) / s })
	case Record:
		if len(n.Means) == 0 {
			return x, nil
		}
		return n.columnwise(v, func(p, m, s float64) float64 { return (p - m) / s })
	}
	return x, nil
}

// Decode は標準化を元に戻します。
func (n *Normalize) Decode(x any) (any, error) {
	switch v := x.(type) {
	case *tensor.TensorImage:
		if len(n.Mean) == 0 {
			return x, nil
		}
		return n.channelwise(v.Tensor, func(p, m, s float64) float64 { return p*s + m })
	case Record:
		if len(n.Means) == 0 {
			return x, nil
		}
		return n.columnwise(v, func(p, m, s float64) float64 { return p*s + m })
	}
	return x, nil
}

// channelwise は (C, H, W) または (B, C, H, W) のチャネル軸に沿って fn を適用します。
func (n *Normalize) channelwise(t *tensor.Tensor, fn func(p, m, s float64) float64) (*tensor.Tensor, error) {
	shape := t.Shape()
	if len(shape) < 3 {
		return nil, errors.NewDimensionError("Normalize", 3, len(shape), 0)
	}
	axis := len(shape) - 3
	channels := shape[axis]
	if len(n.Mean) != 1 && len(n.Mean) != channels {
		return nil, errors.NewDimensionError("Normalize", len(n.Mean), channels, axis)
	}
	plane := shape[axis+1] * shape[axis+2]

	data := t.Data()
	for i, p := range data {
		c := 0
		if len(n.Mean) > 1 {
			c = (i / plane) % channels
		}
		data[i] = fn(p, n.Mean[c], n.Std[c])
	}
	return tensor.New(data, shape, tensor.Float32)
}

func (n *Normalize) columnwise(r Record, fn func(p, m, s float64) float64) (Record, error) {
	out := r.Clone()
	for col, m := range n.Means {
		v, ok := r[col]
		if !ok {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, errors.WrapValueError("Normalize", "column "+col, err)
		}
		out[col] = fn(f, m, n.Stds[col])
	}
	return out, nil
}
