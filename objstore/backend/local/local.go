package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/eventstack/maestro/objstore/backend"
)

// readerWriter serves local:// buckets as directories under cfg.Path.
type readerWriter struct {
	cfg *Config
}

var (
	_ backend.RawReader = (*readerWriter)(nil)
	_ backend.RawWriter = (*readerWriter)(nil)
)

func New(cfg *Config) (backend.RawReader, backend.RawWriter, error) {
	if cfg.Path == "" {
		return nil, nil, errors.New("local backend requires a path")
	}
	rw := &readerWriter{cfg: cfg}
	return rw, rw, nil
}

func (rw *readerWriter) ListTree(_ context.Context, keypath backend.KeyPath) ([]string, error) {
	root := rw.rootedDir(keypath)

	var names []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, backend.ErrDoesNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "walking local bucket")
	}
	return names, nil
}

func (rw *readerWriter) Read(_ context.Context, name string, keypath backend.KeyPath) (io.ReadCloser, int64, error) {
	p := filepath.Join(rw.rootedDir(keypath), filepath.FromSlash(name))

	fi, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, 0, backend.ErrDoesNotExist
	}
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

func (rw *readerWriter) Write(_ context.Context, name string, keypath backend.KeyPath, data io.Reader, _ int64) error {
	p := filepath.Join(rw.rootedDir(keypath), filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}

	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, data)
	return err
}

func (rw *readerWriter) Shutdown() {}

func (rw *readerWriter) rootedDir(keypath backend.KeyPath) string {
	parts := append([]string{rw.cfg.Path}, keypath...)
	return filepath.Join(parts...)
}
