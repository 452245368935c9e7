package transforms

import (
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

func TestDefaultRegistryNames(t *testing.T) {
	want := []string{
		"Categorify", "Categorize", "CropPad", "FillMissing", "IntToFloatTensor",
		"Noop", "Normalize", "RandomCrop", "RandomResizedCrop", "RatioResize",
		"Resize", "Tensorize", "ToTensor",
	}
	if got := Default.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistryLookup(t *testing.T) {
	_, err := Default.Lookup("DoesNotExist")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var nf *errors.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "transform" || nf.Name != "DoesNotExist" {
		t.Errorf("err = %#v", nf)
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("Noop", newNoop); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("Noop", newNoop); err == nil {
		t.Error("duplicate registration should fail")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustRegister with a duplicate name should panic")
		}
	}()
	r.MustRegister("Noop", newNoop)
}

func TestRegistryNew(t *testing.T) {
	tests := []struct {
		name      string
		tfm       string
		args      Args
		wantOrder float64
		wantErr   bool
	}{
		{"defaults", "ToTensor", nil, 5, false},
		{"order override", "ToTensor", Args{"order": 7}, 7, false},
		{"order as string", "Noop", Args{"order": "3.5"}, 3.5, false},
		{"scalar size", "Resize", Args{"size": 224}, 1, false},
		{"tuple size", "Resize", Args{"size": nested.Tuple{128, 256}}, 1, false},
		{"unknown kwarg", "ToTensor", Args{"colour": true}, 0, true},
		{"bad method", "Resize", Args{"size": 4, "method": "stretch"}, 0, true},
		{"missing size", "CropPad", Args{}, 0, true},
		{"empty vocab", "Categorize", Args{}, 0, true},
		{"mismatched stats", "Normalize", Args{"mean": []float64{0.5}, "std": []float64{}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Default.New(tt.tfm, tt.args)
			if tt.wantErr {
				var valErr *errors.ValueError
				if !errors.As(err, &valErr) {
					t.Fatalf("err = %v, want ValueError", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Order() != tt.wantOrder {
				t.Errorf("Order() = %v, want %v", got.Order(), tt.wantOrder)
			}
			if Name(got) != tt.tfm {
				t.Errorf("Name() = %q, want %q", Name(got), tt.tfm)
			}
		})
	}
}

func TestArgsDecodeSize(t *testing.T) {
	tests := []struct {
		in   any
		want Size
	}{
		{224, Size{224, 224}},
		{int64(32), Size{32, 32}},
		{[]any{10, 20}, Size{10, 20}},
		{nested.Tuple{int64(3), int64(4)}, Size{3, 4}},
	}
	for _, tt := range tests {
		var opts struct {
			Size Size `arg:"size"`
		}
		if err := (Args{"size": tt.in}).Decode(&opts); err != nil {
			t.Errorf("Decode(%v): %v", tt.in, err)
			continue
		}
		if opts.Size != tt.want {
			t.Errorf("Decode(%v) = %v, want %v", tt.in, opts.Size, tt.want)
		}
	}
}

type addN struct {
	base
	n int
}

func (a *addN) Call(x any) (any, error) {
	if v, ok := x.(int); ok {
		return v + a.n, nil
	}
	return x, nil
}

func (a *addN) Decode(x any) (any, error) {
	if v, ok := x.(int); ok {
		return v - a.n, nil
	}
	return x, nil
}

type double struct{ base }

func (double) Call(x any) (any, error) {
	if v, ok := x.(int); ok {
		return v * 2, nil
	}
	return x, nil
}

func TestPipelineRunAndDecode(t *testing.T) {
	p := Pipeline{&addN{n: 1}, double{}, &addN{n: 10}}
	in := nested.Tuple{1, nested.List{2, "x"}}

	var seen []string
	got, err := p.RunObserved(in, func(name string, _ time.Duration, err error) {
		if err != nil {
			t.Errorf("%s failed: %v", name, err)
		}
		seen = append(seen, name)
	})
	if err != nil {
		t.Fatal(err)
	}
	want := nested.Tuple{14, nested.List{16, "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Run = %#v, want %#v", got, want)
	}
	if !slices.Equal(seen, []string{"addN", "double", "addN"}) {
		t.Errorf("observed %v", seen)
	}

	dec, err := p.Decode(got)
	if err != nil {
		t.Fatal(err)
	}
	// double has no decoder, so only the two additions are undone.
	if !reflect.DeepEqual(dec, nested.Tuple{3, nested.List{5, "x"}}) {
		t.Errorf("Decode = %#v", dec)
	}
}

type failing struct{ base }

func (failing) Call(any) (any, error) { return nil, errors.New("boom") }

func TestPipelineRunStopsOnError(t *testing.T) {
	calls := 0
	p := Pipeline{failing{}, &addN{n: 1}}
	_, err := p.RunObserved(1, func(string, time.Duration, error) { calls++ })
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}
}

func TestFind(t *testing.T) {
	c := NewCategorize([]string{"a"}, 1)
	p := Pipeline{NewToTensor(false), c}
	got, ok := Find[*Categorize](p)
	if !ok || got != c {
		t.Errorf("Find = %v, %v", got, ok)
	}
	if _, ok := Find[*Normalize](p); ok {
		t.Error("Find should not report a missing transform")
	}
}
