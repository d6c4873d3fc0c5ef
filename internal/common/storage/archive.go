package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const sourceContentType = "application/zstd"

// SourceArchive stores submitted source code as zstd-compressed objects.
type SourceArchive struct {
	store  ObjectStorage
	bucket string
	prefix string
}

// NewSourceArchive creates an archive writing under bucket/prefix.
func NewSourceArchive(store ObjectStorage, bucket, prefix string) *SourceArchive {
	if prefix == "" {
		prefix = "submissions"
	}
	return &SourceArchive{store: store, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a submission's source.
func (a *SourceArchive) Key(submissionID string) string {
	return fmt.Sprintf("%s/%s/source.zst", a.prefix, submissionID)
}

// Put compresses and uploads source, returning the object key.
func (a *SourceArchive) Put(ctx context.Context, submissionID string, source []byte) (string, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("create zstd encoder failed: %w", err)
	}
	compressed := enc.EncodeAll(source, nil)
	_ = enc.Close()

	key := a.Key(submissionID)
	if err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), sourceContentType); err != nil {
		return "", err
	}
	return key, nil
}

// Get downloads and decompresses the archived source.
func (a *SourceArchive) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.store.GetObject(ctx, a.bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	dec, err := zstd.NewReader(obj)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress source failed: %w", err)
	}
	return data, nil
}
