package ports

import (
	"context"
	"io"
)

// BlobStorage stores binary objects by path and hands back a retrieval URL.
// Uploading to an existing path overwrites it.
type BlobStorage interface {
	Put(ctx context.Context, path, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
}
