package storage

import (
	"context"
	"io"
)

// Archive is the long-term object store for export bundles. It is optional;
// a nil Archive disables archival.
type Archive interface {
	// Upload stores an object under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// GetURL returns the public URL for an archived object.
	GetURL(key string) string

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object is already archived.
	Exists(ctx context.Context, key string) (bool, error)
}
