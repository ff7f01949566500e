// Package backend defines the raw object-store contract shared by the
// local, s3, gcs and azure providers. Providers deal in flat object trees;
// everything directory-shaped is layered on by the store.
package backend

import (
	"context"
	"errors"
	"io"
	"path"
)

var ErrDoesNotExist = errors.New("object does not exist")

// KeyPath is an ordered set of strings that govern where an object lives.
type KeyPath []string

// ObjectFileName returns a unique identifier for an object within a keypath.
func ObjectFileName(keypath KeyPath, name string) string {
	return path.Join(path.Join(keypath...), name)
}

// KeyPathWithPrefix returns a keypath with a prefix string prepended.
func KeyPathWithPrefix(keypath KeyPath, prefix string) KeyPath {
	if prefix == "" {
		return keypath
	}
	return append(KeyPath{prefix}, keypath...)
}

// RawReader lists and streams objects from the backing store.
type RawReader interface {
	// ListTree returns the name of every object below keypath, relative to it.
	ListTree(ctx context.Context, keypath KeyPath) ([]string, error)
	// Read returns the object's stream and size.
	Read(ctx context.Context, name string, keypath KeyPath) (io.ReadCloser, int64, error)
	// Shutdown releases any resources held by the reader.
	Shutdown()
}

// RawWriter streams objects into the backing store.
type RawWriter interface {
	// Write creates or replaces the object at keypath/name.
	Write(ctx context.Context, name string, keypath KeyPath, data io.Reader, size int64) error
}
