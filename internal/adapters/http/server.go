// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/dataspatial/internal/application"
	"github.com/jobrunner/dataspatial/internal/config"
	"github.com/jobrunner/dataspatial/internal/ports/input"
)

// SyncTrigger runs an on-demand storage scan.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
}

// MetricsExporter instruments requests and exposes the collected metrics.
type MetricsExporter interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Services are the application services behind the API. Sync and Metrics
// are optional.
type Services struct {
	Resources  input.ResourceService
	Submission input.SubmissionService
	StatusHook input.StatusHook
	Enrichment input.EnrichmentService
	Events     input.EventListener
	Extent     input.ExtentService
	Health     input.HealthChecker
	Sync       SyncTrigger
	Metrics    MetricsExporter
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server      *http.Server
	router      *mux.Router
	services    Services
	logger      *slog.Logger
	config      config.ServerConfig
	metricsPath string
}

// NewServer creates a new HTTP server. metricsPath is ignored when no
// metrics exporter is configured.
func NewServer(cfg config.ServerConfig, services Services, metricsPath string, logger *slog.Logger) *Server {
	s := &Server{
		services:    services,
		logger:      logger,
		config:      cfg,
		metricsPath: metricsPath,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.services.Metrics != nil {
		r.Use(s.services.Metrics.Middleware)
	}

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	// Resources
	api.HandleFunc("/resources/{id}", s.handleGetResource).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id}", s.handlePutResource).Methods(http.MethodPut)
	api.HandleFunc("/resources/{id}/submit", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/resources/{id}/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id}/populate", s.handlePopulate).Methods(http.MethodPost)

	// Status updates and catalog events
	api.HandleFunc("/hook", s.handleHook).Methods(http.MethodPost)
	api.HandleFunc("/events/resource-created", s.handleResourceCreated).Methods(http.MethodPost)
	api.HandleFunc("/events/datastore-pushed", s.handleDatastorePushed).Methods(http.MethodPost)

	api.HandleFunc("/extent", s.handleExtent).Methods(http.MethodPost)

	// Sync endpoint (only if sync service is configured)
	if s.services.Sync != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}

	if s.services.Metrics != nil && s.metricsPath != "" {
		r.Handle(s.metricsPath, s.services.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server, serving TLS when tlsConfig is set.
func (s *Server) Start(tlsConfig *tls.Config) error {
	if tlsConfig == nil {
		s.logger.Info("starting HTTP server (TLS disabled)", "address", s.config.Address())
		return s.server.ListenAndServe()
	}

	s.logger.Info("starting HTTPS server", "address", s.config.Address())
	s.server.TLSConfig = tlsConfig
	return s.server.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
