package nested

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

type vec struct{ vals []float64 }

// labelled is a subtype of *vec carrying a label.
type labelled struct {
	*vec
	label string
}

func (l *labelled) Embedded() any { return l.vec }

func (*labelled) CastFrom(v any) (any, bool) {
	b, ok := v.(*vec)
	if !ok {
		return nil, false
	}
	return &labelled{vec: b}, true
}

func (l *labelled) SetMeta(src any, _ bool) {
	if s, ok := src.(*labelled); ok {
		l.label = s.label
	}
}

func double(x any, _ ...any) (any, error) {
	switch v := x.(type) {
	case *labelled:
		return double(v.vec)
	case *vec:
		out := make([]float64, len(v.vals))
		for i, f := range v.vals {
			out[i] = 2 * f
		}
		return &vec{vals: out}, nil
	default:
		return x, nil
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		in   any
		want Kind
	}{
		{List{1}, Sequence},
		{Tuple{1, 2}, Sequence},
		{[]any{}, Sequence},
		{Map{"a": 1}, Mapping},
		{map[string]any{}, Mapping},
		{[]float64{1, 2}, Leaf},
		{"text", Leaf},
		{nil, Leaf},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.in), func(t *testing.T) {
			if got := KindOf(tt.in); got != tt.want {
				t.Errorf("KindOf(%#v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyIdentityPreservesStructure(t *testing.T) {
	x := Tuple{
		1,
		List{2.5, "a", nil},
		map[string]any{
			"inner": Map{"deep": []any{true, int64(7)}},
		},
		[]float64{1, 2},
	}

	got, err := Apply(Noop, x)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(got, x) {
		t.Fatalf("Apply(identity) = %#v, want %#v", got, x)
	}

	tup, ok := got.(Tuple)
	if !ok {
		t.Fatalf("top level type = %T, want Tuple", got)
	}
	if _, ok := tup[1].(List); !ok {
		t.Errorf("tup[1] type = %T, want List", tup[1])
	}
	m, ok := tup[2].(map[string]any)
	if !ok {
		t.Fatalf("tup[2] type = %T, want map[string]any", tup[2])
	}
	inner, ok := m["inner"].(Map)
	if !ok {
		t.Fatalf("inner type = %T, want Map", m["inner"])
	}
	if _, ok := inner["deep"].([]any); !ok {
		t.Errorf("deep type = %T, want []any", inner["deep"])
	}
}

func TestApplyForwardsArgs(t *testing.T) {
	add := func(x any, args ...any) (any, error) {
		return x.(int) + args[0].(int), nil
	}
	got, err := Apply(add, List{1, Tuple{2, 3}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := List{11, Tuple{12, 13}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestApplyPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	f := func(x any, _ ...any) (any, error) {
		calls++
		if x == "bad" {
			return nil, boom
		}
		return x, nil
	}
	_, err := Apply(f, List{"ok", "bad", "never"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 2 {
		t.Errorf("f called %d times, want 2", calls)
	}
}

func TestApplyRetainsSubtype(t *testing.T) {
	leaf := &labelled{vec: &vec{vals: []float64{1, 2}}, label: "img"}

	got, err := Apply(double, Map{"x": leaf})
	if err != nil {
		t.Fatal(err)
	}
	res, ok := got.(Map)["x"].(*labelled)
	if !ok {
		t.Fatalf("leaf type = %T, want *labelled", got.(Map)["x"])
	}
	if res.label != "img" {
		t.Errorf("label = %q, want img", res.label)
	}
	if !reflect.DeepEqual(res.vals, []float64{2, 4}) {
		t.Errorf("vals = %v", res.vals)
	}
}

func TestApplyNilLeafSkipsRetention(t *testing.T) {
	f := func(x any, _ ...any) (any, error) { return "filled", nil }
	got, err := Apply(f, List{nil})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, List{"filled"}) {
		t.Errorf("got %#v", got)
	}
}

func TestRetainType(t *testing.T) {
	old := &labelled{vec: &vec{vals: []float64{1}}, label: "orig"}
	labelledType := reflect.TypeOf(&labelled{})

	t.Run("nil new", func(t *testing.T) {
		got, err := RetainType(nil, old, nil, false)
		if err != nil || got != nil {
			t.Errorf("got (%v, %v), want (nil, nil)", got, err)
		}
	})

	t.Run("missing reference and type", func(t *testing.T) {
		_, err := RetainType(&vec{}, nil, nil, false)
		var valErr *errors.ValueError
		if !errors.As(err, &valErr) {
			t.Fatalf("err = %v, want ValueError", err)
		}
	})

	t.Run("cast to subtype of old", func(t *testing.T) {
		got, err := RetainType(&vec{vals: []float64{5}}, old, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		l, ok := got.(*labelled)
		if !ok {
			t.Fatalf("got %T, want *labelled", got)
		}
		if l.label != "orig" {
			t.Errorf("label = %q", l.label)
		}
	})

	t.Run("unrelated types untouched", func(t *testing.T) {
		newV := &vec{}
		got, err := RetainType(newV, 3.5, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if got != newV {
			t.Errorf("got %v, want the new value unchanged", got)
		}
	})

	t.Run("explicit type", func(t *testing.T) {
		got, err := RetainType(&vec{}, nil, labelledType, false)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := got.(*labelled); !ok {
			t.Errorf("got %T, want *labelled", got)
		}
	})

	t.Run("none type", func(t *testing.T) {
		newV := &vec{}
		got, err := RetainType(newV, nil, NoneType, false)
		if err != nil {
			t.Fatal(err)
		}
		if got != newV {
			t.Errorf("got %v, want unchanged", got)
		}
	})

	t.Run("type without caster", func(t *testing.T) {
		_, err := RetainType(&vec{}, nil, reflect.TypeOf(""), false)
		var valErr *errors.ValueError
		if !errors.As(err, &valErr) {
			t.Fatalf("err = %v, want ValueError", err)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		once, err := RetainType(&vec{vals: []float64{9}}, old, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		twice, err := RetainType(once, old, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		if twice != once {
			t.Errorf("second RetainType returned a different value: %v vs %v", twice, once)
		}
	})
}

func TestIsInstance(t *testing.T) {
	l := &labelled{vec: &vec{}}
	if !IsInstance(l, reflect.TypeOf(&vec{})) {
		t.Error("labelled should be an instance of *vec through Embedded")
	}
	if IsInstance(&vec{}, reflect.TypeOf(l)) {
		t.Error("*vec should not be an instance of *labelled")
	}
	if !IsInstance(l, reflect.TypeOf((*Embedder)(nil)).Elem()) {
		t.Error("labelled implements Embedder")
	}
	if !IsInstance(nil, NoneType) {
		t.Error("nil should be an instance of NoneType")
	}
}
