package application

import (
	"context"
	"errors"
	"testing"
)

func TestHealthServiceIsHealthy(t *testing.T) {
	service := NewHealthService(nil)

	if !service.IsHealthy(context.Background()) {
		t.Error("IsHealthy should return true")
	}
}

func TestHealthServiceIsReady(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]HealthCheck
		want   bool
	}{
		{"no checks", nil, true},
		{"all ok", map[string]HealthCheck{"database": ok, "catalog": ok}, true},
		{"one down", map[string]HealthCheck{"database": down, "catalog": ok}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewHealthService(tt.checks)
			if got := service.IsReady(context.Background()); got != tt.want {
				t.Errorf("IsReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthServiceGetHealthDetails(t *testing.T) {
	service := NewHealthService(map[string]HealthCheck{
		"database": func(context.Context) error { return errors.New("connection refused") },
		"catalog":  func(context.Context) error { return nil },
	})

	details := service.GetHealthDetails(context.Background())
	if !details.Healthy {
		t.Error("expected healthy")
	}
	if details.Ready {
		t.Error("expected not ready")
	}
	if details.Components["catalog"] != "ok" {
		t.Errorf("catalog = %q", details.Components["catalog"])
	}
	if details.Components["database"] != "connection refused" {
		t.Errorf("database = %q", details.Components["database"])
	}
}
