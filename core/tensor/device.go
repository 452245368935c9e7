package tensor

import (
	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// DeviceMover is implemented by values that know how to move themselves to
// a device. ToDevice prefers it over the default tensor move.
type DeviceMover interface {
	ToDevice(device Device) (any, error)
}

// ToDevice moves every tensor leaf of the nested value b to device. Leaves
// that are neither tensors nor DeviceMovers are returned unchanged.
func ToDevice(b any, device Device) (any, error) {
	if device == "" {
		device = CPU
	}
	return nested.Apply(moveLeaf, b, device)
}

func moveLeaf(x any, args ...any) (any, error) {
	device := args[0].(Device)
	switch v := x.(type) {
	case *Tensor:
		if v == nil {
			return v, nil
		}
		return v.To(device), nil
	case DeviceMover:
		return v.ToDevice(device)
	}
	if t, ok := Base(x); ok {
		// Apply recasts the plain tensor to x's type.
		return t.To(device), nil
	}
	return x, nil
}

// Numpy returns the tensor as a host array. It fails when the tensor is not
// on the CPU or is attached to a computation graph.
func (t *Tensor) Numpy() (*Array, error) {
	if !t.device.IsCPU() {
		return nil, errors.NewValueError("Numpy",
			"can't convert "+string(t.device)+" tensor to a host array; move it to cpu first")
	}
	if t.requiresGrad {
		return nil, errors.NewValueError("Numpy",
			"can't call Numpy on a tensor that requires grad; use Detach first")
	}
	return arrayOf(t.data, t.shape, t.dtype), nil
}

// ToNumpy copies the tensor underlying x to a host array, detaching it from
// any computation graph when a plain conversion fails.
func ToNumpy(x any) (*Array, error) {
	t, ok := Base(x)
	if !ok {
		return nil, errors.NewUnsupportedInputError("ToNumpy", x)
	}
	a, err := t.To(CPU).Numpy()
	if err == nil {
		return a, nil
	}
	return t.Detach().To(CPU).Numpy()
}
