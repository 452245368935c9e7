package inference

import (
	"context"
	"strconv"
	"sync"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
	ort "github.com/yalue/onnxruntime_go"
)

var runtimeMu sync.Mutex

// InitRuntime loads the ONNX Runtime shared library once per process. lib
// overrides the library path; empty uses the loader's default search.
// Any failure is reported as a MissingDependencyError.
func InitRuntime(lib string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	err := errors.SafeExecute("onnxruntime.InitializeEnvironment", func() error {
		return ort.InitializeEnvironment()
	})
	if err != nil {
		return errors.NewMissingDependencyError("onnxruntime",
			"install the ONNX Runtime shared library (onnxruntime-gpu for CUDA) and set onnx_runtime_lib", err)
	}
	return nil
}

// ONNXOptions configures LoadONNX.
type ONNXOptions struct {
	// CPU disables the CUDA execution provider.
	CPU bool
	// RuntimeLib is the path to the onnxruntime shared library.
	RuntimeLib string
	Logger     log.Logger
}

// ONNXSession is a Model backed by an ONNX Runtime session. All inputs and
// outputs are float32.
type ONNXSession struct {
	session *ort.DynamicAdvancedSession
	inputs  []ort.InputOutputInfo
	outputs []ort.InputOutputInfo
	device  tensor.Device
}

// LoadONNX opens the model at path. Unless opts.CPU is set the CUDA provider
// is tried first, falling back to the CPU provider when it is unavailable.
func LoadONNX(path string, opts ONNXOptions) (*ONNXSession, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	if err := InitRuntime(opts.RuntimeLib); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.NewModelError("LoadONNX", "failed to read model inputs and outputs", err)
	}
	if len(outputs) == 0 {
		return nil, errors.NewModelError("LoadONNX", "model has no outputs", nil)
	}

	device := tensor.CPU
	var session *ort.DynamicAdvancedSession
	if !opts.CPU {
		session, err = newSession(path, inputs, outputs, true)
		if err != nil {
			logger.Warn("CUDA execution provider unavailable, falling back to CPU",
				log.ArtifactPathKey, path, log.ErrAttrKey, err)
		} else {
			device = "cuda"
		}
	}
	if session == nil {
		session, err = newSession(path, inputs, outputs, false)
		if err != nil {
			return nil, errors.NewModelError("LoadONNX", "failed to create session", err)
		}
	}

	logger.Info("onnx session ready",
		log.ArtifactPathKey, path,
		log.RuntimeKey, "onnx",
		log.DeviceKey, string(device),
	)
	return &ONNXSession{session: session, inputs: inputs, outputs: outputs, device: device}, nil
}

func newSession(path string, inputs, outputs []ort.InputOutputInfo, cuda bool) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	if cuda {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, err
		}
		defer cudaOpts.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, err
		}
	}
	return ort.NewDynamicAdvancedSession(path, names(inputs), names(outputs), options)
}

func names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

// Device returns "cuda" when the CUDA provider is active, "cpu" otherwise.
func (s *ONNXSession) Device() tensor.Device { return s.device }

// Close destroys the session.
func (s *ONNXSession) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

// Predict runs the session and returns its first output.
func (s *ONNXSession) Predict(ctx context.Context, inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.session == nil {
		return nil, errors.NewModelError("Predict", "session is closed", nil)
	}
	if len(inputs) != len(s.inputs) {
		return nil, errors.NewValueError("Predict",
			"model expects "+strconv.Itoa(len(s.inputs))+" inputs, got "+strconv.Itoa(len(inputs)))
	}

	values := make([]ort.Value, 0, len(inputs)+len(s.outputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()

	ins := make([]ort.Value, len(inputs))
	batch := int64(1)
	for i, in := range inputs {
		shape := make([]int64, in.Dims())
		for j, d := range in.Shape() {
			shape[j] = int64(d)
		}
		if len(shape) > 0 {
			batch = shape[0]
		}
		data := make([]float32, in.Numel())
		for j, v := range in.Data() {
			data[j] = float32(v)
		}
		t, err := ort.NewTensor(ort.NewShape(shape...), data)
		if err != nil {
			return nil, errors.NewModelError("Predict", "failed to create input tensor", err)
		}
		values = append(values, t)
		ins[i] = t
	}

	outs := make([]ort.Value, len(s.outputs))
	var first *ort.Tensor[float32]
	for i, info := range s.outputs {
		dims := make([]int64, len(info.Dimensions))
		for j, d := range info.Dimensions {
			switch {
			case d >= 0:
				dims[j] = d
			case j == 0:
				dims[j] = batch
			default:
				return nil, errors.NewModelError("Predict",
					"output "+info.Name+" has a dynamic non-batch dimension", nil)
			}
		}
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(dims...))
		if err != nil {
			return nil, errors.NewModelError("Predict", "failed to allocate output tensor", err)
		}
		values = append(values, t)
		outs[i] = t
		if i == 0 {
			first = t
		}
	}

	if err := s.session.Run(ins, outs); err != nil {
		return nil, errors.NewModelError("Predict", "onnx run failed", err)
	}

	raw := first.GetData()
	data := make([]float64, len(raw))
	for i, v := range raw {
		data[i] = float64(v)
	}
	shape := make([]int, len(first.GetShape()))
	for i, d := range first.GetShape() {
		shape[i] = int(d)
	}
	out, err := tensor.New(data, shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	return out.To(s.device), nil
}
