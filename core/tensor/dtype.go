package tensor

import (
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// DType is the element type of a Tensor or Array.
type DType int

const (
	Bool DType = iota
	Uint8
	Int8
	Int16
	Uint16
	Int32
	Int64
	Float32
	Float64
)

var dtypeNames = [...]string{
	Bool:    "bool",
	Uint8:   "uint8",
	Int8:    "int8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

func (d DType) String() string {
	if d < 0 || int(d) >= len(dtypeNames) {
		return "dtype(" + strconv.Itoa(int(d)) + ")"
	}
	return dtypeNames[d]
}

// IsFloat reports whether d is a floating point type.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// ParseDType converts a name such as "float32" into a DType.
func ParseDType(name string) (DType, error) {
	for i, n := range dtypeNames {
		if n == strings.ToLower(name) {
			return DType(i), nil
		}
	}
	return 0, errors.NewValidationError("dtype", "unknown dtype", name)
}

// round maps v onto the set of values representable by d.
func (d DType) round(v float64) float64 {
	switch d {
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	case Uint8:
		return float64(uint8(int64(v)))
	case Int8:
		return float64(int8(int64(v)))
	case Int16:
		return float64(int16(int64(v)))
	case Uint16:
		return float64(uint16(int64(v)))
	case Int32:
		return float64(int32(int64(v)))
	case Int64:
		return math.Trunc(v)
	case Float32:
		return float64(float32(v))
	default:
		return v
	}
}

// Device names where a tensor's storage lives, e.g. "cpu", "cuda" or "cuda:1".
type Device string

// CPU is the host device.
const CPU Device = "cpu"

// IsCPU reports whether d is the host device. The empty Device means CPU.
func (d Device) IsCPU() bool {
	return d == "" || d == CPU
}

// ParseDevice validates a device name.
func ParseDevice(name string) (Device, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch {
	case name == "" || name == "cpu":
		return CPU, nil
	case name == "cuda" || name == "mps":
		return Device(name), nil
	case strings.HasPrefix(name, "cuda:"):
		if _, err := strconv.Atoi(strings.TrimPrefix(name, "cuda:")); err != nil {
			return "", errors.NewValidationError("device", "invalid device ordinal", name)
		}
		return Device(name), nil
	}
	return "", errors.NewValidationError("device", "unknown device", name)
}
