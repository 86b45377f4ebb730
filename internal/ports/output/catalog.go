package output

import (
	"context"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// MetadataStore is the host catalog holding resource metadata.
type MetadataStore interface {
	// GetResource returns a resource or domain.ErrResourceNotFound.
	GetResource(ctx context.Context, id string) (*domain.Resource, error)

	// FindResourceByURL returns the resource whose uploaded file has the
	// given storage key.
	FindResourceByURL(ctx context.Context, url string) (*domain.Resource, error)

	// PutResource creates or replaces a resource.
	PutResource(ctx context.Context, r *domain.Resource) error

	// PatchResource updates the non-nil fields of patch.
	PatchResource(ctx context.Context, id string, patch domain.ResourcePatch) error
}

// TaskStore persists task status records. Writes are full overwrites.
type TaskStore interface {
	// GetTask returns the task for the key or domain.ErrTaskNotFound.
	GetTask(ctx context.Context, entityID, taskType, key string) (*domain.Task, error)

	// UpsertTask inserts or overwrites a task, matched by id.
	UpsertTask(ctx context.Context, task *domain.Task) error
}
