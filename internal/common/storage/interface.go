package storage

import (
	"context"
	"io"
)

// ObjectStorage is the blob store behind the source archive.
type ObjectStorage interface {
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error
	// GetObject returns a reader the caller must close.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
}
