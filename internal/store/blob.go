package store

import (
	"context"
	"io"
)

// BlobStore writes and reads raw objects. PutObject returns the object's URI;
// GetObject returns ErrNotFound for missing objects.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}
