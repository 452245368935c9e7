// Package viz renders debug plots of tensors flowing through a pipeline.
package viz

import (
	"fmt"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveHistogram はテンソル（またはそのサブタイプ）の値のヒストグラムを path に保存します。
// 形式は拡張子（.png .svg .pdf など）から決まります。
//
// パラメータ:
//   - x: *tensor.Tensor または TensorImage などのサブタイプ
//   - path: 出力先
//   - bins: ビンの数。0 以下なら 16
//
// 戻り値:
//   - error: テンソルでない場合や空の場合、書き込みに失敗した場合
func SaveHistogram(x any, path string, bins int) error {
	t, ok := tensor.Base(x)
	if !ok {
		return errors.NewUnsupportedInputError("SaveHistogram", x)
	}
	if t.Numel() == 0 {
		return errors.Wrap(errors.ErrEmptyData, "histogram")
	}
	if bins <= 0 {
		bins = 16
	}

	values := plotter.Values(t.Data())
	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return errors.Wrap(err, "building histogram")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %v", t.DType(), t.Shape())
	p.X.Label.Text = "value"
	p.Y.Label.Text = "count"
	p.Add(h)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}
	return nil
}
