// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStorage holds the files uploaded for resources. Keys are relative
// to the configured root, bucket prefix or base URL.
type ObjectStorage interface {
	// List returns the GeoJSON files in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// GetReader opens an object. A missing object yields an error wrapping
	// domain.ErrNotFound.
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
	StorageTypeLocal StorageType = "local"
)
