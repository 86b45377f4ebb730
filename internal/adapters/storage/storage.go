// Package storage provides object storage adapters for uploaded resource files.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// geoJSONExtensions are the file extensions listed as GeoJSON uploads.
var geoJSONExtensions = []string{".geojson", ".json"}

// IsGeoJSONKey reports whether key names a GeoJSON file.
func IsGeoJSONKey(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	for _, e := range geoJSONExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Config selects and configures a storage backend.
type Config struct {
	Type      output.StorageType
	LocalPath string
	S3        S3Config
	Azure     AzureConfig
	HTTP      HTTPConfig
}

// New creates the storage backend named by cfg.Type.
func New(ctx context.Context, cfg Config) (output.ObjectStorage, error) {
	switch cfg.Type {
	case output.StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath), nil
	case output.StorageTypeS3:
		s, err := NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case output.StorageTypeAzure:
		s, err := NewAzureStorage(cfg.Azure)
		if err != nil {
			return nil, err
		}
		return s, nil
	case output.StorageTypeHTTP:
		return NewHTTPStorage(cfg.HTTP), nil
	default:
		return nil, &domain.ConfigError{
			Field:   "storage.type",
			Message: fmt.Sprintf("unknown storage type %q", cfg.Type),
		}
	}
}

// trimPrefix turns a full object name into a key relative to prefix.
func trimPrefix(name, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, prefix), "/")
}

// joinPrefix turns a key into a full object name under prefix.
func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

func notFound(key string) error {
	return fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
}
