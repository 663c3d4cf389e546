package storage

import (
	"context"
	"io"
)

// ObjectStorage abstracts the attachment file store. Implementations exist for
// the local filesystem (development) and a MinIO/S3 bucket (hosted).
type ObjectStorage interface {
	Save(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}
