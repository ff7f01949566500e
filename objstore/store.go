// Package objstore materializes test asset trees from an object store into a
// per-test scratch filesystem and uploads evidence trees back.
package objstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/eventstack/maestro/objstore/backend"
	"github.com/eventstack/maestro/objstore/backend/azure"
	"github.com/eventstack/maestro/objstore/backend/gcs"
	"github.com/eventstack/maestro/objstore/backend/local"
	"github.com/eventstack/maestro/objstore/backend/s3"
	"github.com/eventstack/maestro/pkg/directive"
	"github.com/eventstack/maestro/pkg/fault"
)

const (
	featuresDir = "features"
	evidenceDir = "evidence"
)

// StorageDirective describes a fetched asset tree: where it was staged, where
// evidence goes, and the parsed topic directives.
type StorageDirective struct {
	AssetRoot    string
	EvidenceRoot string
	Manifest     *directive.Manifest
	Bucket       BucketRef
}

// Store fetches asset trees and uploads evidence. Provider selection follows
// the bucket URI scheme; all providers share the scratch lifecycle.
type Store struct {
	cfg    Config
	logger log.Logger
}

func NewStore(cfg Config, logger log.Logger) *Store {
	return &Store{cfg: cfg, logger: log.With(logger, "component", "objstore")}
}

// Fetch copies every object under ref into a fresh scratch directory named by
// testID, validates the tree, and parses the topic-directive document. On a
// streaming failure the scratch directory is deleted before the error
// propagates.
func (s *Store) Fetch(ctx context.Context, testID string, ref BucketRef) (*StorageDirective, error) {
	reader, _, err := s.open(ref)
	if err != nil {
		return nil, err
	}
	defer reader.Shutdown()

	scratch := s.scratchDir(testID)
	if err := os.RemoveAll(scratch); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "resetting scratch for test %s", testID)
	}
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "creating scratch for test %s", testID)
	}

	keypath := backend.KeyPath(ref.keypath())

	var names []string
	err = fault.WithStreamingRetry(ctx, s.cfg.StreamingRetry, func(ctx context.Context) error {
		var listErr error
		names, listErr = reader.ListTree(ctx, keypath)
		return listErr
	})
	if err != nil {
		s.Cleanup(testID)
		return nil, fault.Wrap(fault.KindStreamingFailure, err, "listing bucket %s", ref)
	}

	for _, name := range names {
		// evidence left over from earlier runs of the same bucket is not an asset
		if strings.HasPrefix(name, evidenceDir+"/") {
			continue
		}
		if err := s.fetchOne(ctx, reader, keypath, name, scratch); err != nil {
			s.Cleanup(testID)
			return nil, fault.Wrap(fault.KindStreamingFailure, err, "fetching %q from %s", name, ref)
		}
	}

	manifest, err := s.validateTree(scratch)
	if err != nil {
		return nil, err
	}

	evidenceRoot := filepath.Join(scratch, evidenceDir)
	if err := os.MkdirAll(evidenceRoot, 0o700); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "creating evidence dir")
	}

	level.Info(s.logger).Log("msg", "asset tree fetched", "test", testID, "bucket", ref, "objects", len(names))

	return &StorageDirective{
		AssetRoot:    scratch,
		EvidenceRoot: evidenceRoot,
		Manifest:     manifest,
		Bucket:       ref,
	}, nil
}

func (s *Store) fetchOne(ctx context.Context, reader backend.RawReader, keypath backend.KeyPath, name, scratch string) error {
	return fault.WithStreamingRetry(ctx, s.cfg.StreamingRetry, func(ctx context.Context) error {
		rc, _, err := reader.Read(ctx, name, keypath)
		if err != nil {
			return err
		}
		defer rc.Close()

		dst := filepath.Join(scratch, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
			return err
		}
		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(f, rc)
		return err
	})
}

// validateTree enforces the asset tree contract: a non-empty features
// directory and exactly one topic-directive document.
func (s *Store) validateTree(scratch string) (*directive.Manifest, error) {
	features := filepath.Join(scratch, featuresDir)
	fi, err := os.Stat(features)
	if err != nil || !fi.IsDir() {
		return nil, fault.New(fault.KindMissingFeaturesDirectory, "asset tree has no %s/ directory", featuresDir)
	}

	hasFeature := false
	_ = filepath.WalkDir(features, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(d.Name(), ".feature") {
			hasFeature = true
		}
		return nil
	})
	if !hasFeature {
		return nil, fault.New(fault.KindEmptyFeaturesDirectory, "%s/ contains no feature files", featuresDir)
	}

	directivePath := filepath.Join(scratch, s.cfg.DirectiveFile)
	raw, err := os.ReadFile(directivePath)
	if err != nil {
		return nil, fault.New(fault.KindMissingTopicDirectiveFile, "asset tree has no %s", s.cfg.DirectiveFile)
	}

	return directive.Parse(raw)
}

// Upload writes every regular file under evidenceRoot to the bucket under an
// evidence/ prefix, preserving relative paths. Upload is all-or-fail: on any
// error the scratch directory is deleted and the error surfaces.
func (s *Store) Upload(ctx context.Context, testID string, ref BucketRef, evidenceRoot string) error {
	_, writer, err := s.open(ref)
	if err != nil {
		return err
	}

	keypath := backend.KeyPathWithPrefix(backend.KeyPath{evidenceDir}, ref.Prefix)

	uploaded := 0
	err = filepath.WalkDir(evidenceRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(evidenceRoot, p)
		if err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil {
			return err
		}

		uploaded++
		return writer.Write(ctx, filepath.ToSlash(rel), keypath, f, fi.Size())
	})
	if err != nil {
		s.Cleanup(testID)
		return fault.Wrap(fault.KindStreamingFailure, err, "uploading evidence for test %s", testID)
	}

	level.Info(s.logger).Log("msg", "evidence uploaded", "test", testID, "bucket", ref, "files", uploaded)
	return nil
}

// Cleanup removes the scratch tree. Idempotent.
func (s *Store) Cleanup(testID string) {
	if err := os.RemoveAll(s.scratchDir(testID)); err != nil {
		level.Warn(s.logger).Log("msg", "scratch cleanup failed", "test", testID, "err", err)
	}
}

func (s *Store) scratchDir(testID string) string {
	return filepath.Join(s.cfg.ScratchRoot, testID)
}

func (s *Store) open(ref BucketRef) (backend.RawReader, backend.RawWriter, error) {
	switch ref.Scheme {
	case SchemeLocal:
		cfg := s.cfg.Local
		if cfg.Path == "" {
			return nil, nil, fault.New(fault.KindConfiguration, "local backend path is not configured")
		}
		// the bucket segment is the first directory under the local root
		cfg.Path = filepath.Join(cfg.Path, ref.Bucket)
		return local.New(&cfg)
	case SchemeS3:
		return s3.New(&s.cfg.S3, ref.Bucket)
	case SchemeGCS:
		return gcs.New(&s.cfg.GCS, ref.Bucket)
	case SchemeAzure:
		return azure.New(&s.cfg.Azure, ref.Bucket)
	default:
		return nil, nil, fault.New(fault.KindBucketURIParse, "unsupported bucket scheme %q", ref.Scheme)
	}
}
