// Package tensor is the canonical numeric representation that flows through
// transform pipelines and into models.
//
// Elements are held as float64 and rounded to the tensor's DType on every
// write, so a Float32 tensor only ever holds float32-representable values.
// Device is a placement tag: the storage itself always lives in host memory.
package tensor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is an n-dimensional array of numbers with a DType and a Device.
type Tensor struct {
	shape        []int
	dtype        DType
	data         []float64
	device       Device
	requiresGrad bool
}

// New creates a tensor from row-major data. len(data) must equal the product
// of shape; an empty shape makes a scalar.
func New(data []float64, shape []int, dtype DType) (*Tensor, error) {
	if n := numel(shape); n != len(data) {
		return nil, errors.NewInputShapeError("new", shape, []int{len(data)})
	}
	t := &Tensor{
		shape:  slices.Clone(shape),
		dtype:  dtype,
		data:   make([]float64, len(data)),
		device: CPU,
	}
	for i, v := range data {
		t.data[i] = dtype.round(v)
	}
	return t, nil
}

// Zeros returns a zero-filled tensor.
func Zeros(dtype DType, shape ...int) *Tensor {
	return &Tensor{
		shape:  slices.Clone(shape),
		dtype:  dtype,
		data:   make([]float64, numel(shape)),
		device: CPU,
	}
}

// Scalar returns a 0-d tensor.
func Scalar(v float64, dtype DType) *Tensor {
	return &Tensor{dtype: dtype, data: []float64{dtype.round(v)}, device: CPU}
}

// FromMatrix copies a gonum matrix into a 2-d Float64 tensor.
func FromMatrix(m mat.Matrix) *Tensor {
	r, c := m.Dims()
	t := Zeros(Float64, r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.data[i*c+j] = m.At(i, j)
		}
	}
	return t
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Dims returns the number of dimensions.
func (t *Tensor) Dims() int { return len(t.shape) }

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.data) }

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Device returns the placement of the tensor.
func (t *Tensor) Device() Device { return t.device }

// RequiresGrad reports whether the tensor is attached to a computation graph.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// Data returns a copy of the elements in row-major order.
func (t *Tensor) Data() []float64 { return slices.Clone(t.data) }

// At returns the element at the given index.
func (t *Tensor) At(idx ...int) float64 {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: At with %d indices on %d-d tensor", len(idx), len(t.shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d with size %d", x, i, t.shape[i]))
		}
		off = off*t.shape[i] + x
	}
	return t.data[off]
}

// Item returns the single element of a one-element tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.data) != 1 {
		return 0, errors.NewValueError("Item", fmt.Sprintf("tensor with %d elements cannot be converted to a scalar", len(t.data)))
	}
	return t.data[0], nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape:        slices.Clone(t.shape),
		dtype:        t.dtype,
		data:         slices.Clone(t.data),
		device:       t.device,
		requiresGrad: t.requiresGrad,
	}
}

// Cast returns the tensor converted to dtype, or t itself when it already has it.
func (t *Tensor) Cast(dtype DType) *Tensor {
	if t.dtype == dtype {
		return t
	}
	out := t.Clone()
	out.dtype = dtype
	for i, v := range out.data {
		out.data[i] = dtype.round(v)
	}
	return out
}

// Float is Cast(Float32).
func (t *Tensor) Float() *Tensor { return t.Cast(Float32) }

// Reshape returns a tensor sharing no storage with t in the given shape.
// One dimension may be -1 and is inferred.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, s := range shape {
		if s == -1 {
			if infer >= 0 {
				return nil, errors.NewValueError("Reshape", "only one dimension can be inferred")
			}
			infer = i
			continue
		}
		known *= s
	}
	if infer >= 0 && known > 0 {
		shape[infer] = len(t.data) / known
	}
	if numel(shape) != len(t.data) {
		return nil, errors.NewInputShapeError("reshape", t.shape, shape)
	}
	out := t.Clone()
	out.shape = shape
	return out, nil
}

// Map returns a new tensor with fn applied to every element, rounded to the
// tensor's dtype.
func (t *Tensor) Map(fn func(float64) float64) *Tensor {
	out := t.Clone()
	for i, v := range out.data {
		out.data[i] = out.dtype.round(fn(v))
	}
	return out
}

// Scale returns t*s as a Float32 tensor.
func (t *Tensor) Scale(s float64) *Tensor {
	out := t.Float().Clone()
	floats.Scale(s, out.data)
	for i, v := range out.data {
		out.data[i] = out.dtype.round(v)
	}
	return out
}

// To returns the tensor placed on device, copying it when the device changes.
func (t *Tensor) To(device Device) *Tensor {
	if device == "" {
		device = CPU
	}
	if t.device == device {
		return t
	}
	out := t.Clone()
	out.device = device
	return out
}

// Detach returns a copy that is not attached to a computation graph.
func (t *Tensor) Detach() *Tensor {
	if !t.requiresGrad {
		return t
	}
	out := t.Clone()
	out.requiresGrad = false
	return out
}

// SetRequiresGrad marks the tensor as part of a computation graph.
func (t *Tensor) SetRequiresGrad(v bool) *Tensor {
	t.requiresGrad = v
	return t
}

// Matrix returns a gonum view copy of a 2-d tensor. A 1-d tensor becomes a
// single row.
func (t *Tensor) Matrix() (*mat.Dense, error) {
	switch len(t.shape) {
	case 1:
		return mat.NewDense(1, t.shape[0], slices.Clone(t.data)), nil
	case 2:
		return mat.NewDense(t.shape[0], t.shape[1], slices.Clone(t.data)), nil
	}
	return nil, errors.NewDimensionError("Matrix", 2, len(t.shape), 0)
}

// Equal reports whether two tensors have the same shape, dtype and elements.
func (t *Tensor) Equal(o *Tensor) bool {
	return t.dtype == o.dtype && slices.Equal(t.shape, o.shape) && slices.Equal(t.data, o.data)
}

func (t *Tensor) String() string {
	var b strings.Builder
	b.WriteString("tensor(")
	const limit = 8
	b.WriteByte('[')
	for i, v := range t.data {
		if i == limit {
			b.WriteString(", ...")
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%g", v)
	}
	fmt.Fprintf(&b, "], shape=%v, dtype=%s", t.shape, t.dtype)
	if !t.device.IsCPU() {
		fmt.Fprintf(&b, ", device=%s", t.device)
	}
	b.WriteByte(')')
	return b.String()
}

// Base returns the plain tensor underlying v: v itself when it is a *Tensor,
// or the tensor a domain subtype embeds. Nil subtypes report false.
func Base(v any) (*Tensor, bool) {
	for v != nil {
		switch x := v.(type) {
		case *Tensor:
			return x, x != nil
		case nested.Embedder:
			if nested.IsNil(x) {
				return nil, false
			}
			v = x.Embedded()
		default:
			return nil, false
		}
	}
	return nil, false
}

// Stack joins tensors of equal shape and dtype along a new leading axis.
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "stack")
	}
	first := ts[0]
	shape := append([]int{len(ts)}, first.shape...)
	data := make([]float64, 0, len(ts)*len(first.data))
	for _, t := range ts {
		if !slices.Equal(t.shape, first.shape) {
			return nil, errors.NewInputShapeError("collate", first.shape, t.shape)
		}
		if t.dtype != first.dtype {
			return nil, errors.NewValueError("Stack", fmt.Sprintf("expected dtype %s, got %s", first.dtype, t.dtype))
		}
		data = append(data, t.data...)
	}
	return &Tensor{shape: shape, dtype: first.dtype, data: data, device: first.device}, nil
}
