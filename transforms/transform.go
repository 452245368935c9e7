// Package transforms は推論パイプラインを構成する前処理・後処理の変換を提供します。
//
// 変換は名前からコンストラクタを引く Registry で生成され、Order の昇順に並べた
// Pipeline として実行されます。各変換はネストした値の葉ごとに呼び出されるため、
// (入力, ターゲット) のタプルやマップをそのまま渡すことができます。
//
// 使用例:
//
//	t, err := transforms.Default.New("Resize", transforms.Args{"size": 224})
//	p := transforms.Pipeline{t}
//	out, err := p.Run(img)
package transforms

import (
	"reflect"
)

// Transform は順序付きの変換単位です。
type Transform interface {
	// Call は1つの葉の値を変換する。対象外の型はそのまま返す
	Call(x any) (any, error)

	// Order はパイプライン内での実行順序
	Order() float64
}

// Decoder は変換を逆向きに適用できる Transform が実装します。
type Decoder interface {
	Decode(x any) (any, error)
}

// base は全ての変換に共通する order を保持します。
type base struct {
	order float64
}

func (b base) Order() float64 { return b.order }

// Namer は登録名を返す Transform が実装します。
type Namer interface {
	Name() string
}

// Name は変換の名前を返します。Namer を実装していなければ型名を使います。
func Name(t Transform) string {
	if n, ok := t.(Namer); ok {
		return n.Name()
	}
	rt := reflect.TypeOf(t)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt.Name()
}

// Noop は何もしない変換です。
type Noop struct{ base }

func (Noop) Call(x any) (any, error) { return x, nil }

func newNoop(args Args) (Transform, error) {
	order, err := args.order(0)
	if err != nil {
		return nil, err
	}
	if err := args.Decode(&struct{}{}); err != nil {
		return nil, err
	}
	return &Noop{base{order}}, nil
}
