// Package main provides the entry point for the dataspatial service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/dataspatial/internal/adapters/catalog"
	"github.com/jobrunner/dataspatial/internal/adapters/postgis"
	"github.com/jobrunner/dataspatial/internal/adapters/queue"
	"github.com/jobrunner/dataspatial/internal/app"
	"github.com/jobrunner/dataspatial/internal/config"
	"github.com/jobrunner/dataspatial/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dataspatial",
	Short: "dataspatial - geometry columns for datastore tables",
	Long: `dataspatial georeferences datastore tables.

It derives a WGS84 geometry column and its Web Mercator projection from
latitude/longitude, WKT or WKB source columns, loads uploaded GeoJSON files
into the datastore, and answers extent queries over the result.

Features:
  - Background georeference jobs with deduplicated submission
  - Batched, resumable geometry population
  - GeoJSON ingestion from local, S3, Azure or HTTP storage
  - Extent queries over PostGIS or Solr
  - TLS with automatic certificate management
  - Prometheus metrics`,
	SilenceUsage: true,
	RunE:         runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the job workers",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("dataspatial %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var createColumnsCmd = &cobra.Command{
	Use:   "create-columns <resource-id>",
	Short: "Add the geometry columns to a datastore table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flag, _ := cmd.Flags().GetString("geom-type")
		geomType, err := domain.ParseGeometryType(flag)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Enricher.CreateColumns(ctx, args[0], geomType)
		})
	},
}

var createIndexCmd = &cobra.Command{
	Use:   "create-index <resource-id>",
	Short: "Add spatial indexes on the geometry columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Enricher.CreateIndex(ctx, args[0])
		})
	},
}

var populateColumnsCmd = &cobra.Command{
	Use:   "populate-columns <resource-id>",
	Short: "Populate the geometry columns from latitude/longitude or WKT fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := domain.PopulateRequest{ResourceID: args[0]}
		req.LatitudeField, _ = cmd.Flags().GetString("latitude-field")
		req.LongitudeField, _ = cmd.Flags().GetString("longitude-field")
		req.WKTField, _ = cmd.Flags().GetString("wkt-field")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Enricher.Populate(ctx, req)
		})
	},
}

var loadFileCmd = &cobra.Command{
	Use:   "load-file <resource-id>",
	Short: "Load a GeoJSON resource into the datastore and populate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Enricher.LoadFile(ctx, args[0])
		})
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <resource-id>",
	Short: "Queue a georeference job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Coordinator.Submit(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <resource-id>",
	Short: "Show the status of the latest georeference job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			report, err := a.Coordinator.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the catalog schema and the job queue tables",
	RunE:  runMigrate,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("database-url", "", "PostGIS datastore URL")
	rootCmd.PersistentFlags().String("catalog-path", "./data/catalog.db", "SQLite catalog path")

	// Server flags
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().String("host", "0.0.0.0", "server host")
		cmd.Flags().Int("port", 8080, "server port")
		cmd.Flags().Bool("tls", false, "enable TLS")
		cmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
		cmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
		cmd.Flags().String("storage-type", "local", "storage type (local, s3, azure, http)")
		cmd.Flags().String("storage-path", "./data/uploads", "local storage path")
		cmd.Flags().Bool("watch", false, "submit GeoJSON uploads to local storage")
		cmd.Flags().String("queue", "river", "job queue backend (river, memory)")
		cmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	}

	createColumnsCmd.Flags().String("geom-type", "", "geometry type (POINT, MULTIPOINT, LINESTRING, ...)")
	_ = createColumnsCmd.MarkFlagRequired("geom-type")

	populateColumnsCmd.Flags().String("latitude-field", "", "latitude source field")
	populateColumnsCmd.Flags().String("longitude-field", "", "longitude source field")
	populateColumnsCmd.Flags().String("wkt-field", "", "WKT source field")
	populateColumnsCmd.MarkFlagsRequiredTogether("latitude-field", "longitude-field")
	populateColumnsCmd.MarkFlagsMutuallyExclusive("latitude-field", "wkt-field")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("database.read_url", rootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("catalog.path", rootCmd.PersistentFlags().Lookup("catalog-path"))

	rootCmd.AddCommand(
		serveCmd,
		versionCmd,
		createColumnsCmd,
		createIndexCmd,
		populateColumnsCmd,
		loadFileCmd,
		submitCmd,
		statusCmd,
		migrateCmd,
	)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// bindServerFlags binds the server flags of the command being run. Root
// and serve define the same flags, so binding happens once the command is
// known.
func bindServerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	_ = viper.BindPFlag("server.host", flags.Lookup("host"))
	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", flags.Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", flags.Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", flags.Lookup("tls-email"))
	_ = viper.BindPFlag("storage.type", flags.Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", flags.Lookup("storage-path"))
	_ = viper.BindPFlag("watcher.enabled", flags.Lookup("watch"))
	_ = viper.BindPFlag("queue.backend", flags.Lookup("queue"))
	_ = viper.BindPFlag("server.cors.allowed_origins", flags.Lookup("cors"))
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	bindServerFlags(cmd)

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting dataspatial",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"queue", cfg.Queue.Backend,
		"storage_type", cfg.Storage.Type,
		"query_extent", cfg.Spatial.QueryExtent,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// withApp runs fn against a fully wired application that never starts its
// workers or server.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := catalog.Open(ctx, cfg.Catalog.Path, logger)
	if err != nil {
		return fmt.Errorf("migrating catalog: %w", err)
	}
	defer func() { _ = store.Close() }()

	if cfg.Queue.Backend != config.QueueBackendRiver {
		logger.Info("queue backend keeps no tables", "backend", cfg.Queue.Backend)
		return nil
	}

	db, err := postgis.Open(ctx, postgis.Config{
		ReadURL:        cfg.Database.ReadURL,
		WriteURL:       cfg.Database.WriteURL,
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to datastore: %w", err)
	}
	defer db.Close()

	return queue.Migrate(ctx, db.Write(), logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
