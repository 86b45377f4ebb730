package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// ExtentService computes query extents on the configured backend.
type ExtentService struct {
	backend output.ExtentQueryBackend
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewExtentService creates a new extent service.
func NewExtentService(backend output.ExtentQueryBackend, metrics output.MetricsCollector, logger *slog.Logger) *ExtentService {
	return &ExtentService{
		backend: backend,
		metrics: metrics,
		logger:  logger,
	}
}

// QueryExtent returns the counts and bounding box of the rows q selects.
func (s *ExtentService) QueryExtent(ctx context.Context, q domain.ExtentQuery) (*domain.ExtentResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.backend.QueryExtent(ctx, q)
	s.metrics.ObserveExtentDuration(s.backend.Name(), time.Since(start))
	s.metrics.IncExtentQueries(s.backend.Name(), err == nil)
	if err != nil {
		s.logger.Error("extent query failed", "resource_id", q.ResourceID, "backend", s.backend.Name(), "error", err)
		return nil, err
	}
	return res, nil
}
