package tls

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jobrunner/dataspatial/internal/domain"
)

func TestConfigValidate(t *testing.T) {
	dns := DNSConfig{SubscriptionID: "sub", ResourceGroupName: "rg"}
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"disabled", Config{}, ""},
		{"no domains", Config{Enabled: true, Email: "ops@example.com", DNS: dns}, "tls.domains"},
		{"no email", Config{Enabled: true, Domains: []string{"geo.example.com"}, DNS: dns}, "tls.email"},
		{"no dns zone", Config{Enabled: true, Domains: []string{"geo.example.com"}, Email: "ops@example.com"}, "tls.dns"},
		{"complete", Config{Enabled: true, Domains: []string{"geo.example.com"}, Email: "ops@example.com", DNS: dns}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Errorf("Validate() error = %v, want ConfigError for %s", err, tt.field)
			}
		})
	}
}

func TestDisabledManager(t *testing.T) {
	m, err := NewManager(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if m.Enabled() {
		t.Error("disabled manager reports enabled")
	}
	if m.TLSConfig() != nil {
		t.Error("disabled manager returned a TLS config")
	}
	if err := m.ManageCertificates(context.Background()); err != nil {
		t.Errorf("ManageCertificates() error = %v", err)
	}
}
