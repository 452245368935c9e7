package transforms

import (
	"time"

	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

// Pipeline は Order 順に並んだ変換の列です。
type Pipeline []Transform

// Observer は変換1つの実行ごとに呼ばれます。
type Observer func(name string, elapsed time.Duration, err error)

// Run は各変換を x の全ての葉に順番に適用します。
func (p Pipeline) Run(x any) (any, error) {
	return p.RunObserved(x, nil)
}

// RunObserved は Run と同じですが、変換ごとに obs へ所要時間と結果を通知します。
func (p Pipeline) RunObserved(x any, obs Observer) (any, error) {
	for _, t := range p {
		start := time.Now()
		out, err := nested.Apply(callTransform, x, t)
		if obs != nil {
			obs(Name(t), time.Since(start), err)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "transform %s", Name(t))
		}
		x = out
	}
	return x, nil
}

func callTransform(x any, args ...any) (any, error) {
	return args[0].(Transform).Call(x)
}

func decodeTransform(x any, args ...any) (any, error) {
	return args[0].(Decoder).Decode(x)
}

// Decode は Decoder を実装する変換を逆順に適用します。
func (p Pipeline) Decode(x any) (any, error) {
	for i := len(p) - 1; i >= 0; i-- {
		d, ok := p[i].(Decoder)
		if !ok {
			continue
		}
		out, err := nested.Apply(decodeTransform, x, d)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", Name(p[i]))
		}
		x = out
	}
	return x, nil
}

// Names は各変換の名前を返します。
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, t := range p {
		names[i] = Name(t)
	}
	return names
}

// Find は p の中で最初に見つかった型 T の変換を返します。
func Find[T Transform](p Pipeline) (T, bool) {
	for _, t := range p {
		if v, ok := t.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
