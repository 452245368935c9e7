package tensor

import (
	"iter"
	"reflect"

	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type convertOptions struct {
	dtype  *DType
	device Device
}

// Option configures tensor construction in Convert.
type Option func(*convertOptions)

// WithDType sets the element type of tensors built from lists or generic
// array-like values.
func WithDType(d DType) Option {
	return func(o *convertOptions) { o.dtype = &d }
}

// WithDevice places tensors built from lists or generic array-like values on
// device.
func WithDevice(d Device) Option {
	return func(o *convertOptions) { o.device = d }
}

// From converts x into a tensor. Extra values are bundled with x into a
// single tuple first, so From(a, b, c) builds a tensor from (a, b, c).
func From(x any, rest ...any) (*Tensor, error) {
	if len(rest) > 0 {
		x = append(nested.Tuple{x}, rest...)
	}
	return Convert(x)
}

// Convert turns x into a Tensor. Rules are tried in order:
//
//  1. a Tensor, or a subtype embedding one, is returned as is
//  2. lists, tuples and Go slices or arrays are built element-wise with the
//     shape and element type inferred from their contents
//  3. an *Array or Bufferer is converted through its buffer; uint16 buffers
//     are widened to float32 first
//  4. an ArrayConverter, iter.Seq[any] or gonum mat.Matrix goes through the
//     generic array path
//  5. booleans and numbers become a 0-d array, then a tensor
//
// A float64 result is narrowed to float32. Anything else is an
// UnsupportedInputError.
func Convert(x any, opts ...Option) (*Tensor, error) {
	var o convertOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, err := convert(x, &o)
	if err != nil {
		return nil, err
	}
	if res.dtype == Float64 {
		res = res.Float()
	}
	return res, nil
}

func convert(x any, o *convertOptions) (*Tensor, error) {
	if t, ok := Base(x); ok {
		return t, nil
	}
	if isListLike(x) {
		t, err := fromList(x)
		if err != nil {
			return nil, err
		}
		return o.apply(t), nil
	}
	if b, ok := x.(Bufferer); ok {
		return fromArray(b.Buffer())
	}

	if f, ok := x.(func(func(any) bool)); ok {
		x = iter.Seq[any](f)
	}
	switch v := x.(type) {
	case ArrayConverter:
		a, err := v.ToArray()
		if err != nil {
			return nil, errors.Wrap(err, "convert array-like value")
		}
		t, err := fromArray(a)
		if err != nil {
			return nil, err
		}
		return o.apply(t), nil
	case iter.Seq[any]:
		var items nested.List
		for item := range v {
			items = append(items, item)
		}
		t, err := fromList(items)
		if err != nil {
			return nil, err
		}
		return o.apply(t), nil
	case mat.Matrix:
		return o.apply(FromMatrix(v)), nil
	}

	a, ok := scalarArray(x)
	if !ok {
		return nil, errors.NewUnsupportedInputError("tensor", x)
	}
	return fromArray(a)
}

func (o *convertOptions) apply(t *Tensor) *Tensor {
	if o.dtype != nil {
		t = t.Cast(*o.dtype)
	}
	if o.device != "" {
		t = t.To(o.device)
	}
	return t
}

func isListLike(x any) bool {
	if nested.KindOf(x) == nested.Sequence {
		return true
	}
	if x == nil {
		return false
	}
	k := reflect.TypeOf(x).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func fromArray(a *Array) (*Tensor, error) {
	if a == nil {
		return nil, errors.NewUnsupportedInputError("tensor", a)
	}
	if a.dtype == Uint16 {
		errors.Warn(errors.NewDataConversionWarning("uint16", "float32",
			"uint16 tensors are not supported"))
		a = a.Astype(Float32)
	}
	return New(a.Float64s(), a.shape, a.dtype)
}

// scalarArray wraps a boolean or numeric scalar in a 0-d Array.
func scalarArray(x any) (*Array, bool) {
	if x == nil {
		return nil, false
	}
	rv := reflect.ValueOf(x)
	var (
		v     float64
		dtype DType
	)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			v = 1
		}
		dtype = Bool
	case reflect.Int, reflect.Int64:
		v, dtype = float64(rv.Int()), Int64
	case reflect.Int8:
		v, dtype = float64(rv.Int()), Int8
	case reflect.Int16:
		v, dtype = float64(rv.Int()), Int16
	case reflect.Int32:
		v, dtype = float64(rv.Int()), Int32
	case reflect.Uint8:
		v, dtype = float64(rv.Uint()), Uint8
	case reflect.Uint16:
		v, dtype = float64(rv.Uint()), Uint16
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		v, dtype = float64(rv.Uint()), Int64
	case reflect.Float32:
		v, dtype = rv.Float(), Float32
	case reflect.Float64:
		v, dtype = rv.Float(), Float64
	default:
		return nil, false
	}
	return arrayOf([]float64{v}, nil, dtype), true
}

// listBuilder flattens a nested list while checking that it is rectangular.
type listBuilder struct {
	shape     []int
	leafDepth int
	data      []float64
	hasBool   bool
	hasInt    bool
	hasFloat  bool
}

func fromList(x any) (*Tensor, error) {
	b := &listBuilder{leafDepth: -1}
	if err := b.walk(reflect.ValueOf(x), 0); err != nil {
		return nil, err
	}

	dtype := Float32
	switch {
	case b.hasFloat:
		dtype = Float64
	case b.hasInt:
		dtype = Int64
	case b.hasBool:
		dtype = Bool
	}
	return New(b.data, b.shape, dtype)
}

func (b *listBuilder) walk(v reflect.Value, depth int) error {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if b.leafDepth >= 0 && depth >= b.leafDepth {
			return b.ragged()
		}
		n := v.Len()
		switch {
		case depth < len(b.shape):
			if b.shape[depth] != n {
				return b.ragged()
			}
		default:
			b.shape = append(b.shape, n)
		}
		for i := 0; i < n; i++ {
			if err := b.walk(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if b.leafDepth < 0 {
		if depth != len(b.shape) {
			return b.ragged()
		}
		b.leafDepth = depth
	} else if depth != b.leafDepth {
		return b.ragged()
	}

	switch v.Kind() {
	case reflect.Bool:
		b.hasBool = true
		if v.Bool() {
			b.data = append(b.data, 1)
		} else {
			b.data = append(b.data, 0)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.hasInt = true
		b.data = append(b.data, float64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.hasInt = true
		b.data = append(b.data, float64(v.Uint()))
	case reflect.Float32, reflect.Float64:
		b.hasFloat = true
		b.data = append(b.data, v.Float())
	default:
		if !v.IsValid() {
			return errors.NewUnsupportedInputError("tensor", nil)
		}
		return errors.NewUnsupportedInputError("tensor", v.Interface())
	}
	return nil
}

func (b *listBuilder) ragged() error {
	return errors.Wrap(errors.NewInputShapeError("tensor", b.shape, nil),
		"nested lists must be rectangular")
}
