package rebuild

import (
	"fmt"
	"sort"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
	"github.com/YuminosukeSato/fastinference/pkg/metrics"
	"github.com/YuminosukeSato/fastinference/transforms"
)

// Pipeline section keys of a transform description.
const (
	AfterItem  = "after_item"
	AfterBatch = "after_batch"
)

// Pipelines は after_item と after_batch のパイプラインの組です。
type Pipelines struct {
	AfterItem  transforms.Pipeline
	AfterBatch transforms.Pipeline
}

// Stage は key に対応するパイプラインを返します。
func (p *Pipelines) Stage(key string) (transforms.Pipeline, bool) {
	switch key {
	case AfterItem:
		return p.AfterItem, true
	case AfterBatch:
		return p.AfterBatch, true
	}
	return nil, false
}

// BuildOptions は MakePipelines の付随的な設定です。
type BuildOptions struct {
	Registry *transforms.Registry
	Logger   log.Logger
	Metrics  *metrics.Recorder
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.Registry == nil {
		o.Registry = transforms.Default
	}
	if o.Logger == nil {
		o.Logger = log.GetLogger()
	}
	return o
}

// GetTfm は tfms[key] の引数で key という名前の変換を生成します。
//
// 戻り値:
//   - transforms.Transform: 生成された変換
//   - error: 名前が未登録なら NotFoundError、引数が不正なら ValueError
func GetTfm(key string, tfms map[string]any) (transforms.Transform, error) {
	return getTfm(transforms.Default, key, tfms)
}

func getTfm(reg *transforms.Registry, key string, tfms map[string]any) (transforms.Transform, error) {
	args, err := toArgs(key, tfms[key])
	if err != nil {
		return nil, err
	}
	return reg.New(key, args)
}

func toArgs(key string, v any) (transforms.Args, error) {
	switch a := v.(type) {
	case nil:
		return transforms.Args{}, nil
	case map[string]any:
		return transforms.Args(a), nil
	case transforms.Args:
		return a, nil
	}
	return nil, errors.NewValueError("GetTfm", fmt.Sprintf("arguments of %s are %T, want a mapping", key, v))
}

// GeneratePipeline は tfms の各エントリから変換を生成します。
// order が true なら Order の昇順に安定ソートします。
// マップには記述順がないため、同順位の変換は名前順になります。
// ファイル上の順序を保つには LoadData が返す Section を GenerateSectionPipeline に渡します。
func GeneratePipeline(tfms map[string]any, order bool) (transforms.Pipeline, error) {
	return generatePipeline(BuildOptions{}.withDefaults(), NewSection(tfms), order)
}

// GenerateSectionPipeline は GeneratePipeline と同じですが、同順位の変換を
// Section の並び順のまま残します。
func GenerateSectionPipeline(s Section, order bool) (transforms.Pipeline, error) {
	return generatePipeline(BuildOptions{}.withDefaults(), s, order)
}

func generatePipeline(opts BuildOptions, s Section, order bool) (transforms.Pipeline, error) {
	pipe := make(transforms.Pipeline, 0, s.Len())
	for _, k := range s.Names {
		t, err := getTfm(opts.Registry, k, s.Args)
		if err != nil {
			return nil, err
		}
		opts.Logger.Debug("transform instantiated",
			log.TransformNameKey, k,
			log.TransformOrderKey, t.Order(),
		)
		pipe = append(pipe, t)
	}
	if order {
		sort.SliceStable(pipe, func(i, j int) bool { return pipe[i].Order() < pipe[j].Order() })
	}
	return pipe, nil
}

// MakePipelines は記述から after_item と after_batch のパイプラインを構築します。
//
// 欠けているセクションは空として扱います。after_item に ToTensor が含まれて
// いなければ ToTensor{KeepMeta: false} を末尾に追加します。
// セクションが Section なら同順位の変換は記述順、マップなら名前順になります。
func MakePipelines(tfms map[string]any) (*Pipelines, error) {
	return MakePipelinesWith(tfms, BuildOptions{})
}

// MakePipelinesWith は MakePipelines のレジストリ・ロガー・メトリクスを指定できる版です。
func MakePipelinesWith(tfms map[string]any, opts BuildOptions) (*Pipelines, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With(log.OperationKey, log.OperationMakePipelines)

	out := &Pipelines{}
	for _, stage := range []string{AfterItem, AfterBatch} {
		stageLogger := logger.With(log.PipelineStageKey, stage)
		section, err := sectionOf(tfms, stage)
		if err == nil {
			var pipe transforms.Pipeline
			pipe, err = generatePipeline(BuildOptions{Registry: opts.Registry, Logger: stageLogger}, section, true)
			if err == nil && stage == AfterItem {
				if _, ok := transforms.Find[*transforms.ToTensor](pipe); !ok {
					pipe = append(pipe, transforms.NewToTensor(false))
				}
			}
			if stage == AfterItem {
				out.AfterItem = pipe
			} else {
				out.AfterBatch = pipe
			}
		}
		opts.Metrics.ObserveBuild(stage, err)
		if err != nil {
			stageLogger.Error("pipeline build failed", err)
			return nil, errors.Wrapf(err, "build %s", stage)
		}
	}

	logger.Info("pipelines built",
		"after_item", out.AfterItem.Names(),
		"after_batch", out.AfterBatch.Names(),
	)
	return out, nil
}

func sectionOf(tfms map[string]any, key string) (Section, error) {
	switch s := tfms[key].(type) {
	case nil:
		return Section{}, nil
	case Section:
		return s, nil
	case *Section:
		if s == nil {
			return Section{}, nil
		}
		return *s, nil
	case map[string]any:
		return NewSection(s), nil
	default:
		return Section{}, errors.NewValueError("MakePipelines", fmt.Sprintf("%s is %T, want a mapping", key, s))
	}
}
