package transforms

import (
	"reflect"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/go-viper/mapstructure/v2"
)

// Args は保存された変換のキーワード引数です。
type Args map[string]any

// orderKey は全ての変換で共通の順序上書き引数です。
const orderKey = "order"

// Decode は引数を out の構造体へ厳密にデコードします。
// 未知のキーはエラーになり、数値と文字列などの緩い型変換は許可されます。
// フィールド名は `arg` タグで指定します。
func (a Args) Decode(out any) error {
	in := make(map[string]any, len(a))
	for k, v := range a {
		if k != orderKey {
			in[k] = v
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(sizeHook),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "arg",
		Result:           out,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if err := dec.Decode(in); err != nil {
		return errors.WrapValueError("Args.Decode", "invalid arguments", err)
	}
	return nil
}

// order は "order" 引数があればその値を、なければ def を返します。
func (a Args) order(def float64) (float64, error) {
	v, ok := a[orderKey]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	if err := mapstructure.WeakDecode(v, &f); err != nil {
		return 0, errors.WrapValueError("Args.Decode", "invalid order", err)
	}
	return f, nil
}

// Size は (高さ, 幅) のペアです。単一の整数は正方形を表します。
type Size [2]int

// H は高さを返します。
func (s Size) H() int { return s[0] }

// W は幅を返します。
func (s Size) W() int { return s[1] }

// sizeHook はスカラーを Size{n, n} に展開します。
func sizeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Size{}) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		var n int
		if err := mapstructure.WeakDecode(data, &n); err != nil {
			return nil, err
		}
		return Size{n, n}, nil
	}
	return data, nil
}
