package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/input"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// EventService turns catalog and storage events into submissions.
// Ignored events return a nil result and no error.
type EventService struct {
	metadata  output.MetadataStore
	submitter input.SubmissionService
	logger    *slog.Logger
	now       func() time.Time
}

// NewEventService creates a new event service.
func NewEventService(metadata output.MetadataStore, submitter input.SubmissionService, logger *slog.Logger) *EventService {
	return &EventService{
		metadata:  metadata,
		submitter: submitter,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ResourceCreated registers a resource the catalog does not know yet and
// submits it when it is GeoJSON.
func (s *EventService) ResourceCreated(ctx context.Context, r *domain.Resource) (*domain.SubmitResult, error) {
	if r.ID == "" {
		return nil, &domain.ValidationError{Field: "id", Message: "a resource id is required"}
	}
	_, err := s.metadata.GetResource(ctx, r.ID)
	if errors.Is(err, domain.ErrNotFound) {
		if err := s.metadata.PutResource(ctx, r); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if !r.IsGeoJSON() {
		return nil, nil
	}
	s.logger.Info("loading geojson resource", "resource_id", r.ID)
	return s.submitter.Submit(ctx, r.ID)
}

// DatastorePushed submits resources whose datastore load completed and
// whose geometries are out of date.
func (s *EventService) DatastorePushed(ctx context.Context, ev domain.DatastorePushEvent) (*domain.SubmitResult, error) {
	if ev.ResourceID == "" {
		return nil, &domain.ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}
	if !ev.Completed() {
		return nil, nil
	}

	s.logger.Info("resource pushed to datastore", "resource_id", ev.ResourceID)
	r, err := s.metadata.GetResource(ctx, ev.ResourceID)
	if err != nil {
		return nil, err
	}
	if !r.ShouldBeUpdated() {
		s.logger.Info("resource not being updated", "resource_id", ev.ResourceID)
		return nil, nil
	}
	return s.submitter.Submit(ctx, r.ID)
}

// FileChanged submits the GeoJSON resource whose upload has the given
// storage key, if there is one.
func (s *EventService) FileChanged(ctx context.Context, key string) (*domain.SubmitResult, error) {
	r, err := s.metadata.FindResourceByURL(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Debug("no resource for changed file", "key", key)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !r.IsGeoJSON() {
		return nil, nil
	}
	s.logger.Info("resource file changed", "resource_id", r.ID, "key", key)

	// A job already running for the old file sees the change on completion
	// and resubmits.
	now := s.now()
	if err := s.metadata.PatchResource(ctx, r.ID, domain.ResourcePatch{LastModified: &now}); err != nil {
		return nil, err
	}
	return s.submitter.Submit(ctx, r.ID)
}

// ResourceCatalog registers and reads resources, announcing new ones.
type ResourceCatalog struct {
	metadata output.MetadataStore
	events   input.EventListener
	logger   *slog.Logger
}

// NewResourceCatalog creates a new resource catalog service.
func NewResourceCatalog(metadata output.MetadataStore, events input.EventListener, logger *slog.Logger) *ResourceCatalog {
	return &ResourceCatalog{
		metadata: metadata,
		events:   events,
		logger:   logger,
	}
}

// GetResource returns a resource.
func (c *ResourceCatalog) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	return c.metadata.GetResource(ctx, id)
}

// PutResource stores r. New resources are announced to the event listener;
// a failed announcement is logged, the resource stays stored.
func (c *ResourceCatalog) PutResource(ctx context.Context, r *domain.Resource) (bool, error) {
	if r.ID == "" {
		return false, &domain.ValidationError{Field: "id", Message: "a resource id is required"}
	}

	_, err := c.metadata.GetResource(ctx, r.ID)
	created := errors.Is(err, domain.ErrNotFound)
	if err != nil && !created {
		return false, err
	}
	if err := c.metadata.PutResource(ctx, r); err != nil {
		return false, err
	}

	if created {
		if _, err := c.events.ResourceCreated(ctx, r); err != nil {
			c.logger.Error("resource created listener failed", "resource_id", r.ID, "error", err)
		}
	}
	return created, nil
}
