package transforms

import (
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"

	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Record は表形式データの1行です（列名 → 値）。
// nested.Map とは異なり、変換の対象となる1つの葉として扱われます。
type Record map[string]any

// Clone は浅いコピーを返します。
func (r Record) Clone() Record {
	return maps.Clone(r)
}

func toFloat(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, errors.NewUnsupportedInputError("toFloat", v)
}

func isMissing(v any) bool {
	if v == nil {
		return true
	}
	f, err := toFloat(v)
	return err == nil && math.IsNaN(f)
}

// FillMissing は欠損値（nil または NaN）を列ごとの値で埋めます。
// AddCol が true なら "<列名>_na" 列に欠損の有無を記録します。
type FillMissing struct {
	base
	FillVals map[string]float64
	AddCol   bool
}

func newFillMissing(args Args) (Transform, error) {
	order, err := args.order(1)
	if err != nil {
		return nil, err
	}
	opts := struct {
		FillStrategy string             `arg:"fill_strategy"`
		FillVals     map[string]float64 `arg:"fill_vals"`
		AddCol       bool               `arg:"add_col"`
	}{AddCol: true}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	return &FillMissing{base: base{order}, FillVals: opts.FillVals, AddCol: opts.AddCol}, nil
}

func (f *FillMissing) Call(x any) (any, error) {
	r, ok := x.(Record)
	if !ok {
		return x, nil
	}
	out := r.Clone()
	for col, val := range f.FillVals {
		missing := isMissing(r[col])
		if missing {
			out[col] = val
		}
		if f.AddCol {
			out[col+"_na"] = missing
		}
	}
	return out, nil
}

// Categorify はカテゴリ列の値を Classes 内の位置に置き換えます。
// 未知の値と欠損は 0（先頭の "#na#"）になります。
type Categorify struct {
	base
	Classes map[string][]string
	codes   map[string]map[string]int
}

func newCategorify(args Args) (Transform, error) {
	order, err := args.order(2)
	if err != nil {
		return nil, err
	}
	var opts struct {
		Classes map[string][]string `arg:"classes"`
	}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	c := &Categorify{base: base{order}, Classes: opts.Classes, codes: make(map[string]map[string]int)}
	for col, classes := range opts.Classes {
		m := make(map[string]int, len(classes))
		for i, cls := range classes {
			m[cls] = i
		}
		c.codes[col] = m
	}
	return c, nil
}

func (c *Categorify) Call(x any) (any, error) {
	r, ok := x.(Record)
	if !ok {
		return x, nil
	}
	out := r.Clone()
	for col, codes := range c.codes {
		v, present := r[col]
		if !present {
			continue
		}
		code := 0
		if v != nil {
			code = codes[fmt.Sprint(v)]
		}
		out[col] = int64(code)
	}
	return out, nil
}

// Decode はコードを元のクラス名に戻します。
func (c *Categorify) Decode(x any) (any, error) {
	r, ok := x.(Record)
	if !ok {
		return x, nil
	}
	out := r.Clone()
	for col, classes := range c.Classes {
		v, present := r[col]
		if !present {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, errors.WrapValueError("Categorify.Decode", "column "+col, err)
		}
		i := int(f)
		if i < 0 || i >= len(classes) {
			return nil, errors.NewValueError("Categorify.Decode",
				fmt.Sprintf("code %d out of range for column %s", i, col))
		}
		out[col] = classes[i]
	}
	return out, nil
}

// Tensorize はレコードを (カテゴリ列の int64 テンソル, 連続値列の float32 テンソル) の
// タプルに変換します。
type Tensorize struct {
	base
	CatNames  []string
	ContNames []string
}

func newTensorize(args Args) (Transform, error) {
	order, err := args.order(100)
	if err != nil {
		return nil, err
	}
	var opts struct {
		CatNames  []string `arg:"cat_names"`
		ContNames []string `arg:"cont_names"`
	}
	if err := args.Decode(&opts); err != nil {
		return nil, err
	}
	if len(opts.CatNames)+len(opts.ContNames) == 0 {
		return nil, errors.NewValidationError("cat_names", "at least one column is required", nil)
	}
	return &Tensorize{
		base:      base{order},
		CatNames:  slices.Clone(opts.CatNames),
		ContNames: slices.Clone(opts.ContNames),
	}, nil
}

func (t *Tensorize) Call(x any) (any, error) {
	r, ok := x.(Record)
	if !ok {
		return x, nil
	}
	cats, err := t.columns(r, t.CatNames, tensor.Int64)
	if err != nil {
		return nil, err
	}
	conts, err := t.columns(r, t.ContNames, tensor.Float32)
	if err != nil {
		return nil, err
	}
	return nested.Tuple{cats, conts}, nil
}

func (t *Tensorize) columns(r Record, names []string, dtype tensor.DType) (*tensor.Tensor, error) {
	vals := make([]float64, len(names))
	for i, col := range names {
		v, ok := r[col]
		if !ok {
			return nil, errors.NewValueError("Tensorize", "record has no column "+col)
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, errors.WrapValueError("Tensorize", "column "+col, err)
		}
		vals[i] = f
	}
	return tensor.New(vals, []int{len(names)}, dtype)
}
