// Package tls provides TLS configuration using CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Use Let's Encrypt staging environment
	DNS      DNSConfig
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // User Assigned Managed Identity client ID (optional)
}

// Validate checks an enabled configuration can obtain certificates.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Domains) == 0 {
		return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
	}
	if c.Email == "" {
		return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
	}
	if c.DNS.SubscriptionID == "" || c.DNS.ResourceGroupName == "" {
		return &domain.ConfigError{Field: "tls.dns", Message: "DNS-01 needs an Azure subscription and resource group"}
	}
	return nil
}

// Manager obtains and renews certificates for the API server.
type Manager struct {
	config Config
	magic  *certmagic.Config
	logger *slog.Logger
}

// NewManager creates a certificate manager. A disabled configuration
// yields a manager whose TLSConfig is nil.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{config: cfg, logger: logger}
	if !cfg.Enabled {
		return m, nil
	}

	var magic *certmagic.Config
	cache := certmagic.NewCache(certmagic.CacheOptions{
		GetConfigForCert: func(certmagic.Certificate) (*certmagic.Config, error) {
			return magic, nil
		},
	})

	template := certmagic.Config{}
	if cfg.CacheDir != "" {
		template.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}
	magic = certmagic.New(cache, template)

	ca := certmagic.LetsEncryptProductionCA
	if cfg.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}

	// DNS-01 through Azure DNS; an empty client id means the system
	// assigned managed identity.
	provider := &azure.Provider{
		SubscriptionId:    cfg.DNS.SubscriptionID,
		ResourceGroupName: cfg.DNS.ResourceGroupName,
		ClientId:          cfg.DNS.ClientID,
	}
	magic.Issuers = []certmagic.Issuer{
		certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
			CA:     ca,
			Email:  cfg.Email,
			Agreed: true,
			DNS01Solver: &certmagic.DNS01Solver{
				DNSManager: certmagic.DNSManager{
					DNSProvider: provider,
				},
			},
		}),
	}

	m.magic = magic
	return m, nil
}

// Enabled reports whether certificates are managed.
func (m *Manager) Enabled() bool {
	return m.magic != nil
}

// TLSConfig returns the server TLS configuration, or nil when disabled.
func (m *Manager) TLSConfig() *tls.Config {
	if m.magic == nil {
		return nil
	}
	tlsConfig := m.magic.TLSConfig()
	tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, tlsConfig.NextProtos...)
	return tlsConfig
}

// ManageCertificates obtains certificates for the configured domains and
// keeps them renewed.
func (m *Manager) ManageCertificates(ctx context.Context) error {
	if m.magic == nil {
		return nil
	}

	m.logger.Info("obtaining certificates", "domains", m.config.Domains)

	if err := m.magic.ManageSync(ctx, m.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}

	m.logger.Info("certificates obtained successfully")
	return nil
}
