package learner

import (
	"fmt"

	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Collate はアイテムの列を1つのバッチにまとめます。
//
// テンソルの葉は先頭に新しい軸を持つテンソルに積み重ね、先頭アイテムの型
// （TensorImage など）とメタデータを引き継ぎます。タプルやリストは位置ごとに、
// マップはキーごとに再帰的にまとめます。数値はテンソルに変換し、
// テンソルにできない値（文字列など）は []any のまま返します。
func Collate(items []any) (any, error) {
	if len(items) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "collate")
	}
	first := items[0]

	if _, ok := tensor.Base(first); ok {
		ts := make([]*tensor.Tensor, len(items))
		for i, it := range items {
			t, ok := tensor.Base(it)
			if !ok {
				return nil, errors.NewValueError("Collate", fmt.Sprintf("item %d is %T, want a tensor like item 0", i, it))
			}
			ts[i] = t
		}
		stacked, err := tensor.Stack(ts)
		if err != nil {
			return nil, err
		}
		return nested.RetainType(stacked, first, nil, false)
	}

	if elems, rebuild, ok := nested.Elems(first); ok {
		out := make([]any, len(elems))
		for j := range elems {
			column := make([]any, len(items))
			for i, it := range items {
				e, _, ok := nested.Elems(it)
				if !ok || len(e) != len(elems) {
					return nil, errors.NewInputShapeError("collate", []int{len(elems)}, []int{len(e)})
				}
				column[i] = e[j]
			}
			v, err := Collate(column)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", j)
			}
			out[j] = v
		}
		return rebuild(out), nil
	}

	if entries, rebuild, ok := nested.Entries(first); ok {
		out := make(map[string]any, len(entries))
		for k := range entries {
			column := make([]any, len(items))
			for i, it := range items {
				e, _, ok := nested.Entries(it)
				if !ok {
					return nil, errors.NewValueError("Collate", fmt.Sprintf("item %d is %T, want a mapping like item 0", i, it))
				}
				v, ok := e[k]
				if !ok {
					return nil, errors.NewValueError("Collate", fmt.Sprintf("item %d has no key %q", i, k))
				}
				column[i] = v
			}
			v, err := Collate(column)
			if err != nil {
				return nil, errors.Wrapf(err, "key %s", k)
			}
			out[k] = v
		}
		return rebuild(out), nil
	}

	t, err := tensor.From(items)
	if err != nil {
		var unsupported *errors.UnsupportedInputError
		if errors.As(err, &unsupported) {
			return append([]any(nil), items...), nil
		}
		return nil, err
	}
	return t, nil
}

// inputs は after_batch の結果をモデルの入力テンソルの列にします。
func inputs(batch any) ([]*tensor.Tensor, error) {
	if t, ok := tensor.Base(batch); ok {
		return []*tensor.Tensor{t}, nil
	}
	elems, _, ok := nested.Elems(batch)
	if !ok {
		return nil, errors.NewUnsupportedInputError("predict", batch)
	}
	out := make([]*tensor.Tensor, 0, len(elems))
	for _, e := range elems {
		ts, err := inputs(e)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}
