package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// LocalStorage implements ObjectStorage for a local directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all GeoJSON files below the base directory.
func (s *LocalStorage) List(_ context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsGeoJSONKey(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		key, err := s.Key(path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// GetReader opens the file stored under key.
func (s *LocalStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.FullPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //#nosec G304 -- path is confined to basePath
	if os.IsNotExist(err) {
		return nil, notFound(key)
	}
	return f, err
}

// FullPath returns the file path for a key. Keys escaping the base
// directory are rejected.
func (s *LocalStorage) FullPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &domain.ValidationError{Field: "key", Value: key, Message: "key escapes the storage root"}
	}
	return filepath.Join(s.basePath, clean), nil
}

// Key returns the storage key of a file below the base directory, with
// forward slashes.
func (s *LocalStorage) Key(path string) (string, error) {
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s: %w", path, s.basePath, domain.ErrInvalidInput)
	}
	return filepath.ToSlash(rel), nil
}

// BasePath returns the storage root.
func (s *LocalStorage) BasePath() string {
	return s.basePath
}
