package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes an object in cold storage.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	// Put uploads data in a single request.
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart uploads data in parts of partSize bytes, for payloads too
	// large for a single request.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves and inspects objects in cold storage.
type BlobReader interface {
	// Get returns the object body. The caller closes the reader.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// List returns metadata for every object under the prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	// Exists reports whether an object is present at the path.
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes the object. Idempotent.
	Delete(ctx context.Context, path string) error
}
