package rebuild

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/YuminosukeSato/fastinference/core/nested"
	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/inference"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
	"github.com/YuminosukeSato/fastinference/pkg/metrics"
	"github.com/YuminosukeSato/fastinference/transforms"
)

// {"after_item": {"ToTensor": {}}, "after_batch": {}} pickled with protocol 2.
const minimalPickle = "\x80\x02}" +
	"X\x0a\x00\x00\x00after_item}" +
	"X\x08\x00\x00\x00ToTensor}ss" +
	"X\x0b\x00\x00\x00after_batch}s."

// {"after_batch": {"Normalize": {"mean": (0.5,), "std": (0.25,)}}} pickled with protocol 2.
const tuplePickle = "\x80\x02}" +
	"X\x0b\x00\x00\x00after_batch}" +
	"X\x09\x00\x00\x00Normalize}" +
	"X\x04\x00\x00\x00meanG\x3f\xe0\x00\x00\x00\x00\x00\x00\x85s" +
	"X\x03\x00\x00\x00stdG\x3f\xd0\x00\x00\x00\x00\x00\x00\x85s" +
	"ss."

// {"after_item": {"Resize": {"size": 4}, "RandomCrop": {"size": 2}}, "after_batch": {}}
// pickled with protocol 2. Resize and RandomCrop share order 1.
const tiedPickle = "\x80\x02}" +
	"X\x0a\x00\x00\x00after_item}" +
	"X\x06\x00\x00\x00Resize}X\x04\x00\x00\x00sizeK\x04s" + "s" +
	"X\x0a\x00\x00\x00RandomCrop}X\x04\x00\x00\x00sizeK\x02s" + "s" +
	"s" +
	"X\x0b\x00\x00\x00after_batch}s."

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDataPickle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "data.pkl", minimalPickle)

	tfms, err := LoadData(dir, "data")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"after_item":  Section{Names: []string{"ToTensor"}, Args: map[string]any{"ToTensor": map[string]any{}}},
		"after_batch": Section{Names: []string{}, Args: map[string]any{}},
	}
	if !reflect.DeepEqual(tfms, want) {
		t.Errorf("tfms = %#v, want %#v", tfms, want)
	}

	pipes, err := MakePipelines(tfms)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipes.AfterItem) != 1 || len(pipes.AfterBatch) != 0 {
		t.Errorf("after_item = %v, after_batch = %v", pipes.AfterItem.Names(), pipes.AfterBatch.Names())
	}
	if _, ok := pipes.AfterItem[0].(*transforms.ToTensor); !ok {
		t.Errorf("after_item[0] = %T, want *ToTensor", pipes.AfterItem[0])
	}
}

func TestLoadDataPickleTuples(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "export.pkl", tuplePickle)

	tfms, err := LoadData(dir, "export.pkl")
	if err != nil {
		t.Fatal(err)
	}
	norm := tfms["after_batch"].(Section).Args["Normalize"].(map[string]any)
	if !reflect.DeepEqual(norm["mean"], nested.Tuple{0.5}) {
		t.Errorf("mean = %#v, want Tuple{0.5}", norm["mean"])
	}

	pipes, err := MakePipelines(tfms)
	if err != nil {
		t.Fatal(err)
	}
	n, ok := transforms.Find[*transforms.Normalize](pipes.AfterBatch)
	if !ok {
		t.Fatalf("after_batch = %v", pipes.AfterBatch.Names())
	}
	if !slices.Equal(n.Mean, []float64{0.5}) || !slices.Equal(n.Std, []float64{0.25}) {
		t.Errorf("normalize = %v / %v", n.Mean, n.Std)
	}
}

func TestSaveDataRoundTrip(t *testing.T) {
	tfms := map[string]any{
		"after_item": map[string]any{
			"Resize":   map[string]any{"size": 8, "method": "squish"},
			"ToTensor": map[string]any{},
		},
		"after_batch": map[string]any{
			"IntToFloatTensor": map[string]any{},
			"Normalize":        map[string]any{"mean": []float64{0.5}, "std": []float64{0.5}},
		},
	}

	for _, fn := range []string{"data", "data.gob", "data.json", "data.yaml", "data.yml"} {
		t.Run(fn, func(t *testing.T) {
			dir := t.TempDir()
			if err := SaveData(dir, fn, tfms); err != nil {
				t.Fatal(err)
			}
			load := fn
			if fn == "data" {
				load = "data.gob"
			}
			got, err := LoadData(dir, load)
			if err != nil {
				t.Fatal(err)
			}
			pipes, err := MakePipelines(got)
			if err != nil {
				t.Fatal(err)
			}
			if names := pipes.AfterItem.Names(); !slices.Equal(names, []string{"Resize", "ToTensor"}) {
				t.Errorf("after_item = %v", names)
			}
			if names := pipes.AfterBatch.Names(); !slices.Equal(names, []string{"IntToFloatTensor", "Normalize"}) {
				t.Errorf("after_batch = %v", names)
			}
		})
	}
}

func TestLoadDataKeepsDescriptionOrder(t *testing.T) {
	files := []struct {
		name    string
		content string
	}{
		{"data.pkl", tiedPickle},
		{"data.json", `{"after_item": {"Resize": {"size": 4}, "RandomCrop": {"size": 2}}, "after_batch": {}}`},
		{"data.yaml", "after_item:\n  Resize:\n    size: 4\n  RandomCrop:\n    size: 2\nafter_batch: {}\n"},
	}
	want := []string{"Resize", "RandomCrop", "ToTensor"}

	for _, f := range files {
		t.Run(f.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, f.name, f.content)

			tfms, err := LoadData(dir, f.name)
			if err != nil {
				t.Fatal(err)
			}
			pipes, err := MakePipelines(tfms)
			if err != nil {
				t.Fatal(err)
			}
			if names := pipes.AfterItem.Names(); !slices.Equal(names, want) {
				t.Errorf("after_item = %v, want %v", names, want)
			}
			if len(pipes.AfterBatch) != 0 {
				t.Errorf("after_batch = %v", pipes.AfterBatch.Names())
			}
		})
	}
}

func TestSaveDataKeepsSectionOrder(t *testing.T) {
	var item Section
	item.Set("Resize", map[string]any{"size": 4})
	item.Set("RandomCrop", map[string]any{"size": 2})
	tfms := map[string]any{AfterItem: item}

	for _, fn := range []string{"data.gob", "data.json", "data.yaml"} {
		t.Run(fn, func(t *testing.T) {
			dir := t.TempDir()
			if err := SaveData(dir, fn, tfms); err != nil {
				t.Fatal(err)
			}
			got, err := LoadData(dir, fn)
			if err != nil {
				t.Fatal(err)
			}
			sec, ok := got[AfterItem].(Section)
			if !ok {
				t.Fatalf("after_item = %T, want Section", got[AfterItem])
			}
			if !slices.Equal(sec.Names, []string{"Resize", "RandomCrop"}) {
				t.Errorf("names = %v", sec.Names)
			}
		})
	}
}

func TestSection(t *testing.T) {
	var s Section
	s.Set("B", nil)
	s.Set("A", map[string]any{"x": 1})
	s.Set("B", map[string]any{"y": 2})
	if !slices.Equal(s.Names, []string{"B", "A"}) || s.Len() != 2 {
		t.Errorf("names = %v", s.Names)
	}
	if !reflect.DeepEqual(s.Args["B"], map[string]any{"y": 2}) {
		t.Errorf("B = %v", s.Args["B"])
	}

	fromMap := NewSection(map[string]any{"Resize": map[string]any{"size": 4}, "RandomCrop": map[string]any{"size": 2}})
	if !slices.Equal(fromMap.Names, []string{"RandomCrop", "Resize"}) {
		t.Errorf("NewSection names = %v", fromMap.Names)
	}

	ordered, err := GenerateSectionPipeline(Section{
		Names: []string{"Resize", "RandomCrop"},
		Args:  map[string]any{"Resize": map[string]any{"size": 4}, "RandomCrop": map[string]any{"size": 2}},
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	if names := ordered.Names(); !slices.Equal(names, []string{"Resize", "RandomCrop"}) {
		t.Errorf("section pipeline = %v", names)
	}

	var bad Section
	var valErr *errors.ValueError
	if err := bad.UnmarshalJSON([]byte(`[1]`)); !errors.As(err, &valErr) {
		t.Errorf("err = %v, want ValueError", err)
	}
}

func TestSaveDataRejectsPickle(t *testing.T) {
	err := SaveData(t.TempDir(), "data.pkl", map[string]any{})
	var valErr *errors.ValueError
	if !errors.As(err, &valErr) {
		t.Errorf("err = %v, want ValueError", err)
	}
}

func TestLoadDataErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadData(dir, "missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing file: err = %v, want ErrNotFound", err)
	}

	writeFile(t, dir, "list.json", `[1, 2]`)
	if _, err := LoadData(dir, "list.json"); err == nil {
		t.Error("a top-level list should be rejected")
	}

	writeFile(t, dir, "bad.pkl", "not a pickle")
	if _, err := LoadData(dir, "bad"); err == nil {
		t.Error("garbage pickle should fail")
	}
}

func TestGeneratePipelineOrdering(t *testing.T) {
	tfms := map[string]any{
		"Normalize":        map[string]any{"mean": []float64{0}, "std": []float64{1}},
		"ToTensor":         nil,
		"IntToFloatTensor": map[string]any{},
		"Resize":           map[string]any{"size": 4},
		"CropPad":          map[string]any{"size": 4, "order": 20},
	}

	sorted, err := GeneratePipeline(tfms, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Resize", "ToTensor", "IntToFloatTensor", "CropPad", "Normalize"}
	if names := sorted.Names(); !slices.Equal(names, want) {
		t.Errorf("sorted = %v, want %v", names, want)
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Order() > sorted[i].Order() {
			t.Errorf("order not ascending at %d", i)
		}
	}

	unsorted, err := GeneratePipeline(tfms, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(unsorted) != len(tfms) {
		t.Errorf("len = %d", len(unsorted))
	}
}

func TestGetTfm(t *testing.T) {
	tfms := map[string]any{
		"Resize":  map[string]any{"size": 4},
		"Bogus":   map[string]any{},
		"BadArgs": "size=4",
	}

	tfm, err := GetTfm("Resize", tfms)
	if err != nil {
		t.Fatal(err)
	}
	if tfm.Order() != 1 {
		t.Errorf("order = %v", tfm.Order())
	}

	if _, err := GetTfm("Bogus", tfms); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown: err = %v, want ErrNotFound", err)
	}

	var valErr *errors.ValueError
	if _, err := GetTfm("BadArgs", tfms); !errors.As(err, &valErr) {
		t.Errorf("non-mapping args: err = %v, want ValueError", err)
	}
	if _, err := GetTfm("Resize", map[string]any{"Resize": map[string]any{"size": 4, "colour": "red"}}); !errors.As(err, &valErr) {
		t.Errorf("unknown kwarg: err = %v, want ValueError", err)
	}
}

func TestMakePipelines(t *testing.T) {
	tests := []struct {
		name      string
		tfms      map[string]any
		wantItem  []string
		wantBatch []string
	}{
		{
			name:      "empty description",
			tfms:      map[string]any{},
			wantItem:  []string{"ToTensor"},
			wantBatch: []string{},
		},
		{
			name: "to tensor appended last",
			tfms: map[string]any{
				"after_item": map[string]any{"Resize": map[string]any{"size": 4}, "Noop": nil},
			},
			wantItem:  []string{"Noop", "Resize", "ToTensor"},
			wantBatch: []string{},
		},
		{
			name: "explicit to tensor kept",
			tfms: map[string]any{
				"after_item":  map[string]any{"ToTensor": map[string]any{"keep_meta": true}, "Resize": map[string]any{"size": 4}},
				"after_batch": map[string]any{"IntToFloatTensor": nil},
			},
			wantItem:  []string{"Resize", "ToTensor"},
			wantBatch: []string{"IntToFloatTensor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipes, err := MakePipelines(tt.tfms)
			if err != nil {
				t.Fatal(err)
			}
			if got := pipes.AfterItem.Names(); !slices.Equal(got, tt.wantItem) {
				t.Errorf("after_item = %v, want %v", got, tt.wantItem)
			}
			if got := pipes.AfterBatch.Names(); !slices.Equal(got, tt.wantBatch) {
				t.Errorf("after_batch = %v, want %v", got, tt.wantBatch)
			}
		})
	}

	pipes, _ := MakePipelines(map[string]any{
		"after_item": map[string]any{"ToTensor": map[string]any{"keep_meta": true}},
	})
	if tt, _ := transforms.Find[*transforms.ToTensor](pipes.AfterItem); !tt.KeepMeta {
		t.Error("explicit ToTensor should not be replaced")
	}
	if p, ok := pipes.Stage(AfterBatch); !ok || len(p) != 0 {
		t.Errorf("Stage(after_batch) = %v, %v", p, ok)
	}
}

func TestMakePipelinesErrors(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	rec := metrics.NewRecorder("rebuild_test")

	_, err := MakePipelinesWith(map[string]any{
		"after_batch": map[string]any{"Missing": nil},
	}, BuildOptions{Logger: logger, Metrics: rec})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if !logger.ContainsMessage("pipeline build failed") || !logger.ContainsField(log.PipelineStageKey, AfterBatch) {
		t.Error("failure should be logged with its stage")
	}

	_, err = MakePipelines(map[string]any{"after_item": []any{"Resize"}})
	var valErr *errors.ValueError
	if !errors.As(err, &valErr) {
		t.Errorf("err = %v, want ValueError", err)
	}
}

func TestLoadModelNative(t *testing.T) {
	dir := t.TempDir()
	seq, err := inference.NewSequential(inference.Linear(2, 1, []float64{1, 2}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := inference.SaveModel(seq, filepath.Join(dir, "model.gob")); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	model, err := LoadModel(ctx, dir, "model", ModelOptions{CPU: true})
	if err != nil {
		t.Fatal(err)
	}
	defer model.Close()
	if model.Device() != tensor.CPU {
		t.Errorf("device = %v", model.Device())
	}
	x, _ := tensor.New([]float64{1, 1}, []int{1, 2}, tensor.Float32)
	out, err := model.Predict(ctx, x)
	if err != nil {
		t.Fatal(err)
	}
	if out.At(0, 0) != 3 {
		t.Errorf("out = %v", out)
	}

	gpu, err := LoadModel(ctx, dir, "model.gob", ModelOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if gpu.Device() != "cuda" {
		t.Errorf("device = %v, want cuda", gpu.Device())
	}

	if _, err := LoadModel(ctx, dir, "other", ModelOptions{CPU: true}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadModelONNXWithoutRuntime(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.onnx", "not a model")
	logger, _ := log.NewTestLogger(log.LevelDebug)

	model, err := LoadModel(context.Background(), dir, "model", ModelOptions{
		ONNX:       true,
		RuntimeLib: filepath.Join(dir, "libonnxruntime.so"),
		Logger:     logger,
	})
	if model != nil {
		t.Errorf("model = %v, want nil", model)
	}
	var missing *errors.MissingDependencyError
	if !errors.As(err, &missing) {
		t.Skipf("onnxruntime is available in this process: %v", err)
	}
	if !logger.ContainsMessage("onnxruntime") {
		t.Error("missing runtime should be reported to the user")
	}
}
