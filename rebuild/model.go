package rebuild

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/inference"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
)

// ModelOptions はモデルの読み込み方法を指定します。
type ModelOptions struct {
	// CPU はモデルをCPUに配置します。false なら Device（既定は "cuda"）を使います
	CPU bool
	// Device は CPU が false のときの配置先です
	Device tensor.Device
	// ONNX は ONNX Runtime のセッションとして読み込みます
	ONNX bool
	// RuntimeLib は onnxruntime 共有ライブラリのパスです
	RuntimeLib string
	Logger     log.Logger
}

func (o ModelOptions) device() tensor.Device {
	if o.CPU {
		return tensor.CPU
	}
	if o.Device == "" {
		return "cuda"
	}
	return o.Device
}

// ModelFileName は LoadModel が実際に読むファイル名を返します。
func ModelFileName(fn string, onnx bool) string {
	if onnx {
		if !strings.Contains(fn, ".onnx") {
			fn += ".onnx"
		}
		return fn
	}
	if ext := filepath.Ext(fn); ext != ".gob" && ext != ".pkl" {
		fn += ".gob"
	}
	return fn
}

// LoadModel は path/fn からモデルを読み込みます。
//
// ネイティブ形式では拡張子がなければ .gob を付け（.pkl もそのまま受け付けます）、
// ONNX 形式では .onnx を付けます。ONNX Runtime が利用できない場合は
// その旨をログに出し、nil のモデルと MissingDependencyError を返します。
func LoadModel(ctx context.Context, path, fn string, opts ModelOptions) (inference.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	logger = logger.With(log.OperationKey, log.OperationLoadModel)

	if path == "" {
		path = "."
	}

	full := filepath.Join(path, ModelFileName(fn, opts.ONNX))
	if opts.ONNX {
		if _, err := os.Stat(full); err != nil {
			return nil, errors.NewNotFoundError("artifact", full, err)
		}
		sess, err := inference.LoadONNX(full, inference.ONNXOptions{
			CPU:        opts.CPU,
			RuntimeLib: opts.RuntimeLib,
			Logger:     logger,
		})
		if err != nil {
			var missing *errors.MissingDependencyError
			if errors.As(err, &missing) {
				logger.Error("to use ONNX you must have onnxruntime installed; install the onnxruntime shared library (onnxruntime-gpu for CUDA)",
					log.ArtifactPathKey, full, log.ErrAttrKey, err)
			}
			return nil, err
		}
		return sess, nil
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NewNotFoundError("artifact", full, err)
		}
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	seq, err := inference.LoadSequential(f, opts.device())
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", full)
	}
	logger.Info("model loaded",
		log.ArtifactPathKey, full,
		log.RuntimeKey, "native",
		log.DeviceKey, string(seq.Device()),
	)
	return seq, nil
}
