package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrNotEligible  = errors.New("not eligible for georeferencing")
)

// Specific errors.
var (
	ErrResourceNotFound    = fmt.Errorf("resource: %w", ErrNotFound)
	ErrTaskNotFound        = fmt.Errorf("task: %w", ErrNotFound)
	ErrTableNotFound       = fmt.Errorf("datastore table: %w", ErrNotFound)
	ErrNoGeometryValues    = fmt.Errorf("no geometry values: %w", ErrInvalidInput)
	ErrMissingSourceFields = fmt.Errorf("missing geometry source fields: %w", ErrInvalidInput)
	ErrUnknownGeometryType = fmt.Errorf("geometry type: %w", ErrInvalidInput)
	ErrQueueUnavailable    = fmt.Errorf("job queue: %w", ErrUnavailable)
	ErrSubmissionFailed    = fmt.Errorf("job submission: %w", ErrUnavailable)
	ErrNotReady            = fmt.Errorf("service not ready: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// SpatialStoreError represents an error raised by the spatial datastore.
type SpatialStoreError struct {
	Table     string // Datastore table (resource id)
	Operation string // add_column, create_index, populate, ...
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *SpatialStoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("spatial store error during %s on %s: %v",
			e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("spatial store error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpatialStoreError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during object storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, read, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// JobError is a failure raised inside a georeference job. Its text is what
// ends up in the task's error field.
type JobError struct {
	ResourceID string
	JobID      string
	Err        error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("job %s for resource %s failed: %v", e.JobID, e.ResourceID, e.Err)
	}
	return fmt.Sprintf("job for resource %s failed: %v", e.ResourceID, e.Err)
}

// Unwrap returns the underlying error.
func (e *JobError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
