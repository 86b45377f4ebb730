package application

import (
	"context"

	"github.com/jobrunner/dataspatial/internal/ports/input"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthService provides health check functionality.
type HealthService struct {
	checks map[string]HealthCheck
}

// NewHealthService creates a new health service.
func NewHealthService(checks map[string]HealthCheck) *HealthService {
	return &HealthService{
		checks: checks,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	return true // Basic health check
}

// IsReady returns true if every dependency answers.
func (s *HealthService) IsReady(ctx context.Context) bool {
	for _, check := range s.checks {
		if check(ctx) != nil {
			return false
		}
	}
	return true
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := make(map[string]string, len(s.checks))
	ready := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			ready = false
			continue
		}
		components[name] = "ok"
	}

	return input.HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      ready,
		Components: components,
	}
}
