package gcs

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/cristalhq/hedgedhttp"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	google_http "google.golang.org/api/transport/http"

	"github.com/eventstack/maestro/objstore/backend"
)

type readerWriter struct {
	cfg          *Config
	bucket       *storage.BucketHandle
	hedgedBucket *storage.BucketHandle
	client       *storage.Client
}

var (
	_ backend.RawReader = (*readerWriter)(nil)
	_ backend.RawWriter = (*readerWriter)(nil)
)

func New(cfg *Config, bucketName string) (backend.RawReader, backend.RawWriter, error) {
	ctx := context.Background()

	client, bucket, err := createBucket(ctx, cfg, bucketName, false)
	if err != nil {
		return nil, nil, err
	}
	_, hedgedBucket, err := createBucket(ctx, cfg, bucketName, true)
	if err != nil {
		return nil, nil, err
	}

	rw := &readerWriter{cfg: cfg, bucket: bucket, hedgedBucket: hedgedBucket, client: client}
	return rw, rw, nil
}

func (rw *readerWriter) ListTree(ctx context.Context, keypath backend.KeyPath) ([]string, error) {
	prefix := prefixOf(keypath)

	var names []string
	iter := rw.hedgedBucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, readError(err)
		}
		names = append(names, strings.TrimPrefix(attrs.Name, prefix))
	}
	return names, nil
}

func (rw *readerWriter) Read(ctx context.Context, name string, keypath backend.KeyPath) (io.ReadCloser, int64, error) {
	r, err := rw.hedgedBucket.Object(backend.ObjectFileName(keypath, name)).NewReader(ctx)
	if err != nil {
		return nil, 0, readError(err)
	}
	return r, r.Attrs.Size, nil
}

func (rw *readerWriter) Write(ctx context.Context, name string, keypath backend.KeyPath, data io.Reader, _ int64) error {
	w := rw.bucket.Object(backend.ObjectFileName(keypath, name)).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (rw *readerWriter) Shutdown() {
	_ = rw.client.Close()
}

func prefixOf(keypath backend.KeyPath) string {
	joined := strings.Join(keypath, "/")
	if joined == "" {
		return ""
	}
	return joined + "/"
}

func createBucket(ctx context.Context, cfg *Config, bucketName string, hedge bool) (*storage.Client, *storage.BucketHandle, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	transportOpts := []option.ClientOption{}
	if cfg.Endpoint != "" {
		transportOpts = append(transportOpts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	transport, err := google_http.NewTransport(ctx, base, transportOpts...)
	if err != nil {
		return nil, nil, err
	}

	var rt http.RoundTripper = transport
	if hedge && cfg.HedgeRequestsAt != 0 {
		rt, err = hedgedhttp.NewRoundTripper(cfg.HedgeRequestsAt, cfg.HedgeRequestsUpTo, transport)
		if err != nil {
			return nil, nil, err
		}
	}

	opts := append(transportOpts, option.WithHTTPClient(&http.Client{Transport: rt}))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Bucket(bucketName), nil
}

func readError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return backend.ErrDoesNotExist
	}
	return err
}
