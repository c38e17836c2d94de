// Package storage keeps externalized query results (encoded arrays) in
// object storage.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/misev/asqldb/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts object storage. Implementations are the local
// filesystem and S3.
type ObjectStorage interface {
	// Put writes data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object under key. A missing object is ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// ListObjects returns all keys under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Open creates the backend selected by the configuration.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		return NewS3Storage(ctx, cfg.S3.Bucket, S3Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.Endpoint != "",
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
