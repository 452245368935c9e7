package tensor

import (
	"slices"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Element is the set of Go types an Array can hold.
type Element interface {
	bool | uint8 | int8 | int16 | uint16 | int32 | int64 | float32 | float64
}

// Array is a host-memory buffer of fixed-width elements, the interchange
// format for callers that hand raw numeric data to a pipeline or read model
// outputs back.
type Array struct {
	shape []int
	dtype DType
	data  any
}

// NewArray wraps data with the given shape. Without a shape the array is
// one-dimensional.
func NewArray[T Element](data []T, shape ...int) (*Array, error) {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	if numel(shape) != len(data) {
		return nil, errors.NewInputShapeError("array", shape, []int{len(data)})
	}
	return &Array{shape: slices.Clone(shape), dtype: dtypeOf(data), data: data}, nil
}

func dtypeOf(data any) DType {
	switch data.(type) {
	case []bool:
		return Bool
	case []uint8:
		return Uint8
	case []int8:
		return Int8
	case []int16:
		return Int16
	case []uint16:
		return Uint16
	case []int32:
		return Int32
	case []int64:
		return Int64
	case []float32:
		return Float32
	default:
		return Float64
	}
}

// Shape returns a copy of the array's shape.
func (a *Array) Shape() []int { return slices.Clone(a.shape) }

// DType returns the element type.
func (a *Array) DType() DType { return a.dtype }

// Data returns the underlying typed slice, e.g. []uint16.
func (a *Array) Data() any { return a.data }

// Len returns the number of elements.
func (a *Array) Len() int { return numel(a.shape) }

// Float64s widens every element to float64.
func (a *Array) Float64s() []float64 {
	switch d := a.data.(type) {
	case []bool:
		out := make([]float64, len(d))
		for i, v := range d {
			if v {
				out[i] = 1
			}
		}
		return out
	case []uint8:
		return widen(d)
	case []int8:
		return widen(d)
	case []int16:
		return widen(d)
	case []uint16:
		return widen(d)
	case []int32:
		return widen(d)
	case []int64:
		return widen(d)
	case []float32:
		return widen(d)
	case []float64:
		return slices.Clone(d)
	}
	return nil
}

func widen[T uint8 | int8 | int16 | uint16 | int32 | int64 | float32](d []T) []float64 {
	out := make([]float64, len(d))
	for i, v := range d {
		out[i] = float64(v)
	}
	return out
}

// Astype returns a copy of the array converted to dtype.
func (a *Array) Astype(dtype DType) *Array {
	return arrayOf(a.Float64s(), a.shape, dtype)
}

func arrayOf(values []float64, shape []int, dtype DType) *Array {
	a := &Array{shape: slices.Clone(shape), dtype: dtype}
	switch dtype {
	case Bool:
		d := make([]bool, len(values))
		for i, v := range values {
			d[i] = v != 0
		}
		a.data = d
	case Uint8:
		a.data = narrow[uint8](values, dtype)
	case Int8:
		a.data = narrow[int8](values, dtype)
	case Int16:
		a.data = narrow[int16](values, dtype)
	case Uint16:
		a.data = narrow[uint16](values, dtype)
	case Int32:
		a.data = narrow[int32](values, dtype)
	case Int64:
		a.data = narrow[int64](values, dtype)
	case Float32:
		a.data = narrow[float32](values, dtype)
	default:
		a.data = slices.Clone(values)
	}
	return a
}

func narrow[T uint8 | int8 | int16 | uint16 | int32 | int64 | float32](values []float64, dtype DType) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(dtype.round(v))
	}
	return out
}

// Bufferer is implemented by values backed by a fixed-width numeric buffer.
type Bufferer interface {
	Buffer() *Array
}

// Buffer lets *Array satisfy Bufferer.
func (a *Array) Buffer() *Array { return a }

// ArrayConverter is implemented by values that can produce an Array on demand.
type ArrayConverter interface {
	ToArray() (*Array, error)
}
