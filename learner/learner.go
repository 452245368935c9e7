// Package learner は再構築したパイプラインとモデルで推論を行います。
//
// 使用例:
//
//	cfg, err := config.Load("fastinference.yml")
//	l, err := learner.Load(ctx, cfg)
//	defer l.Close()
//	pred, err := l.Predict(ctx, img1, img2)
//	fmt.Println(pred.Labels)
package learner

import (
	"context"
	"path/filepath"
	"time"

	"github.com/YuminosukeSato/fastinference/config"
	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/inference"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
	"github.com/YuminosukeSato/fastinference/pkg/metrics"
	"github.com/YuminosukeSato/fastinference/rebuild"
	"github.com/YuminosukeSato/fastinference/store"
	"github.com/YuminosukeSato/fastinference/transforms"
	"gonum.org/v1/gonum/floats"
)

// Learner はパイプラインとモデルの組です。
type Learner struct {
	Pipelines *rebuild.Pipelines
	Model     inference.Model
	Device    tensor.Device
	Logger    log.Logger
	Metrics   *metrics.Recorder
}

// Prediction は Predict の結果です。
type Prediction struct {
	// Raw はホストメモリ上のモデル出力です
	Raw *tensor.Array
	// Classes は各行の最大値の位置です。出力が2次元のときのみ設定されます
	Classes []int
	// Labels は Categorize がある場合の Classes のラベルです
	Labels []string
}

// Load は cfg に従って成果物を取得し、パイプラインとモデルを再構築します。
func Load(ctx context.Context, cfg config.Config) (*Learner, error) {
	logger := log.GetLogger()

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.NewRecorder(cfg.Metrics.Namespace)
		if cfg.Metrics.Port > 0 {
			rec.Expose(cfg.Metrics.Port)
		}
	}

	st, err := store.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := st.(interface{ Close() error }); ok {
		defer c.Close()
	}

	dataPath, err := st.Fetch(ctx, rebuild.DataFileName(cfg.DataFile))
	if err != nil {
		return nil, err
	}
	tfms, err := rebuild.LoadData(filepath.Dir(dataPath), filepath.Base(dataPath))
	if err != nil {
		return nil, err
	}
	pipes, err := rebuild.MakePipelinesWith(tfms, rebuild.BuildOptions{Logger: logger, Metrics: rec})
	if err != nil {
		return nil, err
	}

	modelPath, err := st.Fetch(ctx, rebuild.ModelFileName(cfg.ModelFile, cfg.ONNX))
	if err != nil {
		return nil, err
	}
	model, err := rebuild.LoadModel(ctx, filepath.Dir(modelPath), filepath.Base(modelPath), rebuild.ModelOptions{
		CPU:        cfg.CPU,
		Device:     cfg.TargetDevice(),
		ONNX:       cfg.ONNX,
		RuntimeLib: cfg.ONNXRuntimeLib,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Learner{
		Pipelines: pipes,
		Model:     model,
		Device:    model.Device(),
		Logger:    logger,
		Metrics:   rec,
	}, nil
}

// Close releases the model.
func (l *Learner) Close() error {
	if l.Model == nil {
		return nil
	}
	return l.Model.Close()
}

func (l *Learner) logger() log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.GetLogger()
}

func (l *Learner) observer() transforms.Observer {
	if l.Metrics == nil {
		return nil
	}
	return l.Metrics.ObserveTransform
}

// Predict は items を after_item、collate、デバイス転送、after_batch、モデルの順に
// 通し、出力をホストメモリに戻します。
func (l *Learner) Predict(ctx context.Context, items ...any) (*Prediction, error) {
	if l.Pipelines == nil || l.Model == nil {
		return nil, errors.NewValueError("Predict", "learner has no pipelines or model")
	}
	start := time.Now()
	logger := l.logger().With(log.OperationKey, log.OperationPredict)

	processed := make([]any, len(items))
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := l.Pipelines.AfterItem.RunObserved(it, l.observer())
		if err != nil {
			return nil, errors.Wrapf(err, "%s item %d", rebuild.AfterItem, i)
		}
		processed[i] = out
	}

	batch, err := Collate(processed)
	if err != nil {
		return nil, err
	}
	batch, err = tensor.ToDevice(batch, l.Device)
	if err != nil {
		return nil, err
	}
	batch, err = l.Pipelines.AfterBatch.RunObserved(batch, l.observer())
	if err != nil {
		return nil, errors.Wrap(err, rebuild.AfterBatch)
	}

	xs, err := inputs(batch)
	if err != nil {
		return nil, err
	}
	out, err := l.Model.Predict(ctx, xs...)
	if err != nil {
		return nil, err
	}
	raw, err := tensor.ToNumpy(out)
	if err != nil {
		return nil, err
	}

	pred := &Prediction{Raw: raw}
	if out.Dims() == 2 {
		pred.Classes = argmax(out)
		pred.Labels, err = l.decodeLabels(pred.Classes)
		if err != nil {
			return nil, err
		}
	}

	l.Metrics.ObservePredict(len(items))
	logger.Debug("batch predicted",
		log.BatchSizeKey, len(items),
		log.ShapeKey, out.Shape(),
		log.DeviceKey, string(l.Device),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return pred, nil
}

func argmax(out *tensor.Tensor) []int {
	shape := out.Shape()
	rows, cols := shape[0], shape[1]
	data := out.Data()
	classes := make([]int, rows)
	if cols == 0 {
		return classes
	}
	for i := range rows {
		classes[i] = floats.MaxIdx(data[i*cols : (i+1)*cols])
	}
	return classes
}

// decodeLabels はパイプライン内の Categorize でクラス番号をラベルに戻します。
func (l *Learner) decodeLabels(classes []int) ([]string, error) {
	c, ok := transforms.Find[*transforms.Categorize](l.Pipelines.AfterItem)
	if !ok {
		c, ok = transforms.Find[*transforms.Categorize](l.Pipelines.AfterBatch)
	}
	if !ok || len(classes) == 0 {
		return nil, nil
	}
	idx := make([]float64, len(classes))
	for i, v := range classes {
		idx[i] = float64(v)
	}
	t, err := tensor.New(idx, []int{len(idx)}, tensor.Int64)
	if err != nil {
		return nil, err
	}
	decoded, err := c.Decode(tensor.NewTensorCategory(t))
	if err != nil {
		return nil, err
	}
	labels, _ := decoded.([]string)
	return labels, nil
}
