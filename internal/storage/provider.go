// Package storage defines the blob-store abstraction behind the per-user
// document operations. Paths are container-relative (e.g.
// "users/alice/tasks.json"); namespacing happens above this layer.
package storage

import (
	"context"
	"time"
)

// Info describes a stored blob.
type Info struct {
	Path      string
	Size      int64
	UpdatedAt time.Time
}

// Provider is the interface for blob operations. Implementations surface
// apperr.KindNotFound for absent blobs and apperr.KindStorageUnavailable for
// backend failures; a Write either fully replaces prior content or fails
// leaving it intact.
type Provider interface {
	// Exists reports whether a blob is present at path.
	Exists(ctx context.Context, path string) (bool, error)
	// Read returns the raw bytes of the blob at path.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write atomically replaces the blob at path with content.
	Write(ctx context.Context, path string, content []byte) error
	// List returns metadata for every blob under prefix, ordered by path.
	List(ctx context.Context, prefix string) ([]Info, error)
	// Delete removes the blob at path.
	Delete(ctx context.Context, path string) error
	// Rename moves a blob from oldPath to newPath, overwriting any blob
	// already at newPath.
	Rename(ctx context.Context, oldPath, newPath string) error
}
