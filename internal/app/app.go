// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/dataspatial/internal/adapters/catalog"
	httpAdapter "github.com/jobrunner/dataspatial/internal/adapters/http"
	"github.com/jobrunner/dataspatial/internal/adapters/metrics"
	"github.com/jobrunner/dataspatial/internal/adapters/postgis"
	"github.com/jobrunner/dataspatial/internal/adapters/queue"
	"github.com/jobrunner/dataspatial/internal/adapters/solr"
	"github.com/jobrunner/dataspatial/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/dataspatial/internal/adapters/tls"
	"github.com/jobrunner/dataspatial/internal/adapters/watcher"
	"github.com/jobrunner/dataspatial/internal/application"
	"github.com/jobrunner/dataspatial/internal/config"
	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// JobQueue is a job queue whose workers are started with the server.
type JobQueue interface {
	output.JobQueue
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// App holds all application components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *postgis.DB
	Catalog *catalog.Store
	Storage output.ObjectStorage
	Queue   JobQueue
	Metrics *metrics.Collector

	Runner      *application.GeoreferenceRunner
	Coordinator *application.Coordinator
	Enricher    *application.Enricher
	Events      *application.EventService
	Resources   *application.ResourceCatalog
	Extent      *application.ExtentService
	Health      *application.HealthService
	Sync        *application.SyncService

	HTTPServer *httpAdapter.Server
	TLS        *tlsAdapter.Manager
	Watcher    *watcher.Watcher
}

// New creates and initializes a new application. Nothing runs in the
// background until Start is called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("dataspatial")
		metricsCollector = app.Metrics
	}

	db, err := postgis.Open(ctx, postgis.Config{
		ReadURL:        cfg.Database.ReadURL,
		WriteURL:       cfg.Database.WriteURL,
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to datastore: %w", err)
	}
	app.DB = db

	app.Catalog, err = catalog.Open(ctx, cfg.Catalog.Path, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	app.Storage, err = storage.New(ctx, storageConfig(cfg.Storage))
	if err != nil {
		app.close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	store := postgis.NewStore(db, logger)
	fields := application.SpatialFields{
		Geom:     cfg.Spatial.GeomField,
		Mercator: cfg.Spatial.MercatorField,
	}
	ingester := application.NewGeoJSONIngester(
		app.Storage,
		store,
		app.Catalog,
		metricsCollector,
		cfg.Spatial.Encoding(),
		cfg.Spatial.IngestField(),
		logger,
	)
	app.Enricher = application.NewEnricher(
		app.Catalog,
		store,
		application.NewColumnProvisioner(store, fields, logger),
		application.NewBatchPopulator(store, cfg.Spatial.BatchSize, metricsCollector, logger),
		ingester,
		fields,
		logger,
	)

	// The runner reports to the coordinator, which enqueues through the
	// queue, which runs the runner.
	app.Runner = application.NewGeoreferenceRunner(app.Catalog, app.Enricher, metricsCollector, logger)
	app.Queue, err = newQueue(cfg.Queue, db, app.Runner, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("initializing job queue: %w", err)
	}
	app.Coordinator = application.NewCoordinator(
		app.Catalog,
		app.Catalog,
		app.Queue,
		metricsCollector,
		application.SubmissionConfig{
			StillbornAfter: cfg.Submission.StillbornAfter,
			StaleAfter:     cfg.Submission.StaleAfter,
			JobTimeout:     cfg.Queue.JobTimeout,
		},
		logger,
	)
	app.Runner.BindStatusHook(app.Coordinator)

	app.Events = application.NewEventService(app.Catalog, app.Coordinator, logger)
	app.Resources = application.NewResourceCatalog(app.Catalog, app.Events, logger)
	app.Extent = application.NewExtentService(newExtentBackend(cfg, db, logger), metricsCollector, logger)
	app.Health = application.NewHealthService(map[string]application.HealthCheck{
		"datastore": db.Ping,
		"catalog":   app.Catalog.Ping,
	})

	if cfg.Storage.SyncInterval > 0 {
		app.Sync = application.NewSyncService(app.Storage, app.Events, cfg.Storage.SyncInterval, logger)
	}

	if cfg.Watcher.Enabled {
		w, err := watcher.New(
			watcher.Config{Root: cfg.Storage.LocalPath, Debounce: cfg.Watcher.Debounce},
			storage.IsGeoJSONKey,
			app.handleUpload,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize upload watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	app.TLS, err = tlsAdapter.NewManager(tlsAdapter.Config{
		Enabled:  cfg.TLS.Enabled,
		Domains:  cfg.TLS.Domains,
		Email:    cfg.TLS.Email,
		CacheDir: cfg.TLS.CacheDir,
		Staging:  cfg.TLS.Staging,
		DNS: tlsAdapter.DNSConfig{
			SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
			ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
			ClientID:          cfg.TLS.DNS.ClientID,
		},
	}, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("initializing TLS: %w", err)
	}

	services := httpAdapter.Services{
		Resources:  app.Resources,
		Submission: app.Coordinator,
		StatusHook: app.Coordinator,
		Enrichment: app.Enricher,
		Events:     app.Events,
		Extent:     app.Extent,
		Health:     app.Health,
	}
	if app.Sync != nil {
		services.Sync = app.Sync
	}
	if app.Metrics != nil {
		services.Metrics = app.Metrics
	}
	app.HTTPServer = httpAdapter.NewServer(cfg.Server, services, cfg.Metrics.Path, logger)

	return app, nil
}

// Start starts the queue workers, the storage listeners and the API
// server, and blocks until the server stops.
func (a *App) Start(ctx context.Context) error {
	if err := a.Queue.Start(ctx); err != nil {
		return fmt.Errorf("starting job queue: %w", err)
	}

	if err := a.TLS.ManageCertificates(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.Watcher != nil {
		if err := a.Watcher.Start(gctx); err != nil {
			a.Logger.Warn("failed to start upload watcher", "error", err)
		}
	}
	if a.Sync != nil {
		a.Sync.Start(gctx)
	}

	g.Go(func() error {
		err := a.HTTPServer.Start(a.TLS.TLSConfig())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	var errs []error
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	if a.Sync != nil {
		a.Sync.Stop()
	}
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job queue: %w", err))
		}
	}
	a.close()

	return errors.Join(errs...)
}

// Close releases the database connections without stopping anything else.
// Commands that never call Start use it instead of Shutdown.
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	if a.Catalog != nil {
		if err := a.Catalog.Close(); err != nil {
			a.Logger.Error("failed to close catalog", "error", err)
		}
		a.Catalog = nil
	}
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}

// handleUpload submits the resource whose file settled in local storage.
func (a *App) handleUpload(ctx context.Context, key string) error {
	res, err := a.Events.FileChanged(ctx, key)
	if err != nil {
		return err
	}
	if res != nil {
		a.Logger.Info("upload handled", "key", key, "resource_id", res.ResourceID, "outcome", res.Outcome)
	}
	return nil
}

func newQueue(cfg config.QueueConfig, db *postgis.DB, runner *application.GeoreferenceRunner, logger *slog.Logger) (JobQueue, error) {
	switch cfg.Backend {
	case config.QueueBackendMemory:
		return queue.NewMemoryQueue(runner, cfg.Workers, cfg.JobTimeout, logger), nil
	case config.QueueBackendRiver, "":
		q, err := queue.NewRiverQueue(db.Write(), runner, queue.RiverConfig{
			Queue:      cfg.Name,
			Workers:    cfg.Workers,
			JobTimeout: cfg.JobTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, &domain.ConfigError{Field: "queue.backend", Message: "unknown queue backend " + cfg.Backend}
	}
}

func newExtentBackend(cfg *config.Config, db *postgis.DB, logger *slog.Logger) output.ExtentQueryBackend {
	if cfg.Spatial.QueryExtent == config.ExtentBackendSolr {
		return solr.NewExtentBackend(solr.Config{
			URL:            cfg.Solr.URL,
			Core:           cfg.Solr.Core,
			IndexField:     cfg.Solr.IndexField,
			LatitudeField:  cfg.Solr.LatitudeField,
			LongitudeField: cfg.Solr.LongitudeField,
			Timeout:        cfg.Solr.Timeout,
		}, logger)
	}
	return postgis.NewExtentBackend(db, cfg.Spatial.GeomField, logger)
}

func storageConfig(cfg config.StorageConfig) storage.Config {
	return storage.Config{
		Type:      output.StorageType(cfg.Type),
		LocalPath: cfg.LocalPath,
		S3: storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		},
		Azure: storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		},
		HTTP: storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		},
	}
}
