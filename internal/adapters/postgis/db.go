// Package postgis implements the spatial datastore ports on PostgreSQL with
// the PostGIS extension.
package postgis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// Config holds the connection settings of the datastore.
type Config struct {
	ReadURL        string
	WriteURL       string // defaults to ReadURL
	MaxConns       int32
	ConnectTimeout time.Duration
}

// DB holds the read and write connection pools. Selection cursors and
// introspection use the read pool; every mutation goes through the write pool.
type DB struct {
	read   *pgxpool.Pool
	write  *pgxpool.Pool
	logger *slog.Logger
}

// Open connects both pools, retrying with exponential backoff until
// ConnectTimeout elapses.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if cfg.ReadURL == "" {
		return nil, &domain.ConfigError{Field: "database.read_url", Message: "a database url is required"}
	}
	if cfg.WriteURL == "" {
		cfg.WriteURL = cfg.ReadURL
	}

	read, err := connect(ctx, cfg, cfg.ReadURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting read pool: %w", err)
	}

	write := read
	if cfg.WriteURL != cfg.ReadURL {
		write, err = connect(ctx, cfg, cfg.WriteURL, logger)
		if err != nil {
			read.Close()
			return nil, fmt.Errorf("connecting write pool: %w", err)
		}
	}

	return &DB{read: read, write: write, logger: logger}, nil
}

func connect(ctx context.Context, cfg Config, url string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, &domain.ConfigError{Field: "database", Message: err.Error()}
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = cfg.ConnectTimeout
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 30 * time.Second
	}

	ping := func() error { return pool.Ping(ctx) }
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not reachable, retrying",
			"host", poolCfg.ConnConfig.Host,
			"wait", wait,
			"error", err,
		)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}

	logger.Info("database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}

// Read returns the read pool.
func (db *DB) Read() *pgxpool.Pool { return db.read }

// Write returns the write pool.
func (db *DB) Write() *pgxpool.Pool { return db.write }

// Ping checks both pools.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.read.Ping(ctx); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	if db.write != db.read {
		if err := db.write.Ping(ctx); err != nil {
			return fmt.Errorf("write pool: %w", err)
		}
	}
	return nil
}

// Close closes both pools.
func (db *DB) Close() {
	if db.write != db.read {
		db.write.Close()
	}
	db.read.Close()
}
