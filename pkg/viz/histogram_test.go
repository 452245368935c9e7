package viz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/fastinference/core/tensor"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
)

func TestSaveHistogram(t *testing.T) {
	data := make([]float64, 100)
	for i := range data {
		data[i] = float64(i % 10)
	}
	x, err := tensor.New(data, []int{10, 10}, tensor.Float32)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"hist.png", "hist.svg"} {
		path := filepath.Join(t.TempDir(), name)
		if err := SaveHistogram(tensor.NewTensorImage(x, nil), path, 0); err != nil {
			t.Fatalf("SaveHistogram(%s): %v", name, err)
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func TestSaveHistogramErrors(t *testing.T) {
	dir := t.TempDir()
	var unsupported *errors.UnsupportedInputError
	if err := SaveHistogram("not a tensor", filepath.Join(dir, "a.png"), 4); !errors.As(err, &unsupported) {
		t.Errorf("err = %v, want UnsupportedInputError", err)
	}

	empty := tensor.Zeros(tensor.Float32, 0)
	if err := SaveHistogram(empty, filepath.Join(dir, "b.png"), 4); !errors.Is(err, errors.ErrEmptyData) {
		t.Errorf("err = %v, want ErrEmptyData", err)
	}
}
