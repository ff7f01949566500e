package azure

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	blob "github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"

	"github.com/eventstack/maestro/objstore/backend"
)

type readerWriter struct {
	cfg          *Config
	containerURL blob.ContainerURL
}

var (
	_ backend.RawReader = (*readerWriter)(nil)
	_ backend.RawWriter = (*readerWriter)(nil)
)

func New(cfg *Config, container string) (backend.RawReader, backend.RawWriter, error) {
	c, err := getContainerURL(cfg, container)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating azure container client")
	}

	rw := &readerWriter{cfg: cfg, containerURL: c}
	return rw, rw, nil
}

func (rw *readerWriter) ListTree(ctx context.Context, keypath backend.KeyPath) ([]string, error) {
	prefix := prefixOf(keypath)

	var names []string
	for marker := (blob.Marker{}); marker.NotDone(); {
		list, err := rw.containerURL.ListBlobsFlatSegment(ctx, marker, blob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, errors.Wrap(err, "listing blobs")
		}
		marker = list.NextMarker

		for _, b := range list.Segment.BlobItems {
			names = append(names, strings.TrimPrefix(b.Name, prefix))
		}
	}
	return names, nil
}

func (rw *readerWriter) Read(ctx context.Context, name string, keypath backend.KeyPath) (io.ReadCloser, int64, error) {
	blobURL := rw.containerURL.NewBlockBlobURL(backend.ObjectFileName(keypath, name))

	resp, err := blobURL.Download(ctx, 0, blob.CountToEnd, blob.BlobAccessConditions{}, false, blob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, 0, readError(err)
	}
	return resp.Body(blob.RetryReaderOptions{}), resp.ContentLength(), nil
}

func (rw *readerWriter) Write(ctx context.Context, name string, keypath backend.KeyPath, data io.Reader, _ int64) error {
	blobURL := rw.containerURL.NewBlockBlobURL(backend.ObjectFileName(keypath, name))

	_, err := blob.UploadStreamToBlockBlob(ctx, data, blobURL, blob.UploadStreamToBlockBlobOptions{
		BufferSize: rw.cfg.BufferSize,
		MaxBuffers: rw.cfg.MaxBuffers,
	})
	return errors.Wrapf(err, "uploading blob %q", backend.ObjectFileName(keypath, name))
}

func (rw *readerWriter) Shutdown() {}

func prefixOf(keypath backend.KeyPath) string {
	joined := strings.Join(keypath, "/")
	if joined == "" {
		return ""
	}
	return joined + "/"
}

func getContainerURL(cfg *Config, container string) (blob.ContainerURL, error) {
	credential, err := blob.NewSharedKeyCredential(cfg.StorageAccountName, cfg.StorageAccountKey.String())
	if err != nil {
		return blob.ContainerURL{}, err
	}

	pipeline := blob.NewPipeline(credential, blob.PipelineOptions{
		Retry: blob.RetryOptions{MaxTries: 1},
	})

	u, err := url.Parse(fmt.Sprintf("https://%s.%s/%s", cfg.StorageAccountName, cfg.Endpoint, container))
	if err != nil {
		return blob.ContainerURL{}, err
	}
	return blob.NewContainerURL(*u, pipeline), nil
}

func readError(err error) error {
	var stgErr blob.StorageError
	if errors.As(err, &stgErr) && stgErr.ServiceCode() == blob.ServiceCodeBlobNotFound {
		return backend.ErrDoesNotExist
	}
	return err
}
