package transforms

import (
	"fmt"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Categorize はラベルを Vocab 内の位置を持つ TensorCategory に変換し、
// Decode でラベルに戻します。
type Categorize struct {
	base
	Vocab []string
	index map[string]int
}

func newCategorize(args Args) (Transform, error) {
	order, err := args.order(1)
	if err != nil {
		return nil, err
	}
	var opts struct {
		Vocab []string `arg:"vocab"`
		Sort  bool     `arg:"sort"`
		AddNA bool     `arg:"add_na"`
	}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if len(opts.Vocab) == 0 {
		return nil, errors.NewValidationError("vocab", "must not be empty", opts.Vocab)
	}
	return NewCategorize(opts.Vocab, order), nil
}

// NewCategorize は vocab から Categorize を作成します。
func NewCategorize(vocab []string, order float64) *Categorize {
	c := &Categorize{base: base{order}, Vocab: vocab, index: make(map[string]int, len(vocab))}
	for i, v := range vocab {
		c.index[v] = i
	}
	return c
}

func (c *Categorize) Call(x any) (any, error) {
	label, ok := x.(string)
	if !ok {
		return x, nil
	}
	i, ok := c.index[label]
	if !ok {
		return nil, errors.NewValueError("Categorize", fmt.Sprintf("label %q is not in the vocab", label))
	}
	return tensor.NewTensorCategory(tensor.Scalar(float64(i), tensor.Int64)), nil
}

// Decode はクラス番号のテンソルをラベルに戻します。
// 0次元なら string、1次元なら []string を返します。
func (c *Categorize) Decode(x any) (any, error) {
	tc, ok := x.(*tensor.TensorCategory)
	if !ok {
		return x, nil
	}
	labels := make([]string, 0, tc.Numel())
	for _, v := range tc.Data() {
		i := int(v)
		if i < 0 || i >= len(c.Vocab) {
			return nil, errors.NewValueError("Categorize.Decode", fmt.Sprintf("class index %d out of range", i))
		}
		labels = append(labels, c.Vocab[i])
	}
	if tc.Dims() == 0 {
		return labels[0], nil
	}
	return labels, nil
}
