package storage

import (
	"context"
	"io"
)

// BlobStore is the durable object storage used for raw uploads and
// encoder outputs.
type BlobStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (etag string, err error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	PutFile(ctx context.Context, key, localPath string) error
	GetFile(ctx context.Context, key, localPath string) error
	Remove(ctx context.Context, key string) error
}
