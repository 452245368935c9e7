package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/YuminosukeSato/fastinference/config"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
)

func TestLocalFetch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.pkl"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := &Local{Dir: dir}

	got, err := l.Fetch(context.Background(), "data.pkl")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "data.pkl") {
		t.Errorf("path = %q", got)
	}

	if _, err := l.Fetch(context.Background(), "model.gob"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

type fakeBucket struct {
	objects map[string]string
	opened  []string
}

func (f *fakeBucket) open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	f.opened = append(f.opened, bucket+"/"+object)
	body, ok := f.objects[object]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestGCSFetch(t *testing.T) {
	cache := t.TempDir()
	bucket := &fakeBucket{objects: map[string]string{"pets/v3/model.gob": "weights"}}
	logger, _ := log.NewTestLogger(log.LevelDebug)
	g := &GCS{Bucket: "exports", Prefix: "pets/v3", CacheDir: cache, Logger: logger, open: bucket.open}
	ctx := context.Background()

	got, err := g.Fetch(ctx, "model.gob")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(got)
	if err != nil || string(raw) != "weights" {
		t.Fatalf("cached file = %q, %v", raw, err)
	}
	if !logger.ContainsMessage("downloaded artifact from GCS") {
		t.Error("download should be logged")
	}

	// second fetch is served from the cache
	if _, err := g.Fetch(ctx, "model.gob"); err != nil {
		t.Fatal(err)
	}
	if len(bucket.opened) != 1 || bucket.opened[0] != "exports/pets/v3/model.gob" {
		t.Errorf("opened = %v", bucket.opened)
	}

	entries, _ := os.ReadDir(cache)
	if len(entries) != 1 {
		t.Errorf("cache should hold only the artifact, got %d entries", len(entries))
	}

	if _, err := g.Fetch(ctx, "data.pkl"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGCSWithoutClient(t *testing.T) {
	g := &GCS{Bucket: "b", CacheDir: t.TempDir()}
	if _, err := g.Fetch(context.Background(), "model.gob"); err == nil {
		t.Error("a store without a client should fail on a cache miss")
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestNewLocal(t *testing.T) {
	cfg := config.Default()
	cfg.ArtifactDir = "/models"
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if l, ok := s.(*Local); !ok || l.Dir != "/models" {
		t.Errorf("store = %#v", s)
	}
}
