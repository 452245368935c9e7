// Package store resolves artifact names to local files, downloading them from
// Google Cloud Storage into a cache directory when the artifacts are remote.
package store

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/YuminosukeSato/fastinference/config"
	"github.com/YuminosukeSato/fastinference/pkg/errors"
	"github.com/YuminosukeSato/fastinference/pkg/log"
)

// Store makes an artifact available on the local filesystem.
type Store interface {
	// Fetch returns the local path of the artifact called name.
	Fetch(ctx context.Context, name string) (string, error)
}

// Local serves artifacts already present in Dir.
type Local struct {
	Dir string
}

var _ Store = (*Local)(nil)

// Fetch returns Dir/name when it exists.
func (l *Local) Fetch(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p := filepath.Join(l.Dir, name)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.NewNotFoundError("artifact", p, err)
		}
		return "", errors.WithStack(err)
	}
	return p, nil
}

// opener reads one object of a bucket.
type opener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// GCS downloads artifacts from gs://Bucket/Prefix/name into CacheDir.
// A file already in the cache is returned without contacting GCS.
type GCS struct {
	Bucket   string
	Prefix   string
	CacheDir string
	Logger   log.Logger

	client *storage.Client
	open   opener
}

var _ Store = (*GCS)(nil)

// NewGCS creates a GCS store with a storage client using application default
// credentials. Close releases the client.
func NewGCS(ctx context.Context, bucket, prefix, cacheDir string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS storage client")
	}
	g := &GCS{Bucket: bucket, Prefix: prefix, CacheDir: cacheDir, client: client}
	g.open = func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		return client.Bucket(bucket).Object(object).NewReader(ctx)
	}
	return g, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GCS) logger() log.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return log.GetLogger()
}

// Fetch downloads name unless it is already cached.
func (g *GCS) Fetch(ctx context.Context, name string) (string, error) {
	dest := filepath.Join(g.CacheDir, filepath.FromSlash(name))
	if _, err := os.Stat(dest); err == nil {
		g.logger().Debug("artifact cache hit", log.ArtifactPathKey, dest)
		return dest, nil
	}
	if g.open == nil {
		return "", errors.NewValueError("GCS.Fetch", "store was not created with NewGCS")
	}

	object := path.Join(g.Prefix, name)
	gcsURL := "gs://" + g.Bucket + "/" + object
	logger := g.logger().With("source", gcsURL, log.ArtifactPathKey, dest)
	logger.Info("downloading artifact from GCS")

	startedAt := time.Now()
	r, err := g.open(ctx, g.Bucket, object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", errors.NewNotFoundError("artifact", gcsURL, err)
		}
		return "", errors.Wrapf(err, "opening object %q", gcsURL)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	n, err := writeToFile(r, dest, logger)
	if err != nil {
		return "", errors.Wrapf(err, "downloading %q", gcsURL)
	}

	logger.Info("downloaded artifact from GCS",
		"bytes", n,
		log.DurationMsKey, time.Since(startedAt).Milliseconds(),
	)
	return dest, nil
}

// writeToFile copies src into a temp file next to dest and renames it into
// place once complete.
func writeToFile(src io.Reader, dest string, logger log.Logger) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(dest), "download")
	if err != nil {
		return 0, errors.Wrap(err, "creating temp file")
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				logger.Error("removing temp file", err, "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				logger.Error("closing temp file", err, "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, errors.Wrap(err, "copying from upstream source")
	}

	if err := tempFile.Close(); err != nil {
		return n, errors.Wrap(err, "closing temp file")
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), dest); err != nil {
		return n, errors.Wrap(err, "renaming temp file")
	}
	shouldDeleteTempFile = false

	return n, nil
}

// New returns a GCS store when cfg names a bucket and a Local store over
// cfg.ArtifactDir otherwise.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	if cfg.Remote.Bucket == "" {
		return &Local{Dir: cfg.ArtifactDir}, nil
	}
	return NewGCS(ctx, cfg.Remote.Bucket, cfg.Remote.Prefix, cfg.Remote.CacheDir)
}
