// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// SubmissionService decides whether georeference jobs are queued and
// reports their status.
type SubmissionService interface {
	// Submit queues a job for the resource unless a healthy one exists.
	Submit(ctx context.Context, resourceID string) (*domain.SubmitResult, error)

	// Status returns the status of the resource's latest job.
	Status(ctx context.Context, resourceID string) (domain.StatusReport, error)
}

// StatusHook persists the state transitions reported by running jobs.
type StatusHook interface {
	HandleStatusUpdate(ctx context.Context, update domain.StatusUpdate) error
}

// JobRunner executes one dequeued georeference job.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) error
}

// EnrichmentService runs the provisioning and population steps directly.
type EnrichmentService interface {
	// CreateColumns adds both geometry columns of the given type.
	CreateColumns(ctx context.Context, resourceID string, geomType domain.GeometryType) error

	// CreateIndex adds spatial indexes on both geometry columns.
	CreateIndex(ctx context.Context, resourceID string) error

	// Populate updates source fields if requested and populates synchronously.
	Populate(ctx context.Context, req domain.PopulateRequest) error

	// LoadFile ingests the resource's GeoJSON file and populates its table.
	LoadFile(ctx context.Context, resourceID string) error
}

// ResourceService registers and reads catalog resources.
type ResourceService interface {
	GetResource(ctx context.Context, id string) (*domain.Resource, error)

	// PutResource stores r; created reports whether it was new.
	PutResource(ctx context.Context, r *domain.Resource) (created bool, err error)
}

// EventListener reacts to catalog and storage events.
type EventListener interface {
	ResourceCreated(ctx context.Context, r *domain.Resource) (*domain.SubmitResult, error)
	DatastorePushed(ctx context.Context, ev domain.DatastorePushEvent) (*domain.SubmitResult, error)
	FileChanged(ctx context.Context, key string) (*domain.SubmitResult, error)
}

// ExtentService computes query extents.
type ExtentService interface {
	QueryExtent(ctx context.Context, q domain.ExtentQuery) (*domain.ExtentResult, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy    bool              // Overall health status
	Ready      bool              // Ready to accept requests
	Components map[string]string // Component statuses
}
