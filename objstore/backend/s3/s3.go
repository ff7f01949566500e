package s3

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/cristalhq/hedgedhttp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/eventstack/maestro/objstore/backend"
)

// readerWriter serves s3:// buckets through minio. Reads go through the
// hedged client when hedging is configured; writes never hedge.
type readerWriter struct {
	cfg          *Config
	bucket       string
	core         *minio.Client
	hedgedCore   *minio.Client
}

var (
	_ backend.RawReader = (*readerWriter)(nil)
	_ backend.RawWriter = (*readerWriter)(nil)
)

func New(cfg *Config, bucket string) (backend.RawReader, backend.RawWriter, error) {
	core, err := createClient(cfg, false)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating s3 client")
	}
	hedgedCore, err := createClient(cfg, true)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating hedged s3 client")
	}

	rw := &readerWriter{cfg: cfg, bucket: bucket, core: core, hedgedCore: hedgedCore}
	return rw, rw, nil
}

func (rw *readerWriter) ListTree(ctx context.Context, keypath backend.KeyPath) ([]string, error) {
	prefix := prefixOf(keypath)

	var names []string
	for obj := range rw.hedgedCore.ListObjects(ctx, rw.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, readError(obj.Err)
		}
		names = append(names, strings.TrimPrefix(obj.Key, prefix))
	}
	return names, nil
}

func (rw *readerWriter) Read(ctx context.Context, name string, keypath backend.KeyPath) (io.ReadCloser, int64, error) {
	objName := backend.ObjectFileName(keypath, name)

	obj, err := rw.hedgedCore.GetObject(ctx, rw.bucket, objName, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, readError(err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, readError(err)
	}
	return obj, info.Size, nil
}

func (rw *readerWriter) Write(ctx context.Context, name string, keypath backend.KeyPath, data io.Reader, size int64) error {
	objName := backend.ObjectFileName(keypath, name)

	_, err := rw.core.PutObject(ctx, rw.bucket, objName, data, size, minio.PutObjectOptions{})
	return errors.Wrapf(err, "writing object %q", objName)
}

func (rw *readerWriter) Shutdown() {}

func prefixOf(keypath backend.KeyPath) string {
	joined := strings.Join(keypath, "/")
	if joined == "" {
		return ""
	}
	return joined + "/"
}

func createClient(cfg *Config, hedge bool) (*minio.Client, error) {
	transport := http.DefaultTransport

	if hedge && cfg.HedgeRequestsAt != 0 {
		var err error
		transport, err = hedgedhttp.NewRoundTripper(cfg.HedgeRequestsAt, cfg.HedgeRequestsUpTo, transport)
		if err != nil {
			return nil, err
		}
	}

	opts := &minio.Options{
		Region:    cfg.Region,
		Secure:    !cfg.Insecure,
		Transport: transport,
	}
	if cfg.AccessKey != "" {
		opts.Creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.String(), "")
	} else {
		opts.Creds = credentials.NewIAM("")
	}

	return minio.New(cfg.Endpoint, opts)
}

func readError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return backend.ErrDoesNotExist
	}
	return err
}
