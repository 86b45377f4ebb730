// Package catalog provides the SQLite-backed metadata and task status store.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS resources_url ON resources (url);

CREATE TABLE IF NOT EXISTS task_status (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	task_type    TEXT NOT NULL,
	key          TEXT NOT NULL,
	state        TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	value        TEXT NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	UNIQUE (entity_id, task_type, key)
);
`

// Store implements the metadata and task stores on a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ output.MetadataStore = (*Store)(nil)
	_ output.TaskStore     = (*Store)(nil)
)

// Open opens or creates the catalog at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	s := &Store{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating catalog schema: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetResource implements output.MetadataStore.
func (s *Store) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	return s.getResource(ctx, s.db, `SELECT data FROM resources WHERE id = ?`, id)
}

// FindResourceByURL implements output.MetadataStore.
func (s *Store) FindResourceByURL(ctx context.Context, url string) (*domain.Resource, error) {
	return s.getResource(ctx, s.db, `SELECT data FROM resources WHERE url = ? ORDER BY updated_at DESC LIMIT 1`, url)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getResource(ctx context.Context, q querier, query string, arg string) (*domain.Resource, error) {
	var data string
	err := q.QueryRowContext(ctx, query, arg).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", arg, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading resource %s: %w", arg, err)
	}

	var r domain.Resource
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decoding resource %s: %w", arg, err)
	}
	return &r, nil
}

// PutResource implements output.MetadataStore.
func (s *Store) PutResource(ctx context.Context, r *domain.Resource) error {
	if r.ID == "" {
		return &domain.ValidationError{Field: "id", Message: "a resource id is required"}
	}
	return s.putResource(ctx, s.db, r)
}

func (s *Store) putResource(ctx context.Context, q querier, r *domain.Resource) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding resource %s: %w", r.ID, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO resources (id, url, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET url = excluded.url, data = excluded.data, updated_at = excluded.updated_at`,
		r.ID, r.URL, string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("writing resource %s: %w", r.ID, err)
	}
	return nil
}

// PatchResource implements output.MetadataStore.
func (s *Store) PatchResource(ctx context.Context, id string, patch domain.ResourcePatch) error {
	if patch.IsEmpty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := s.getResource(ctx, tx, `SELECT data FROM resources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	r.Apply(patch)
	if err := s.putResource(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTask implements output.TaskStore.
func (s *Store) GetTask(ctx context.Context, entityID, taskType, key string) (*domain.Task, error) {
	var (
		t           domain.Task
		state       string
		lastUpdated string
		value       string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, entity_type, task_type, key, state, last_updated, value, error
		 FROM task_status WHERE entity_id = ? AND task_type = ? AND key = ?`,
		entityID, taskType, key,
	).Scan(&t.ID, &t.EntityID, &t.EntityType, &t.TaskType, &t.Key, &state, &lastUpdated, &value, &t.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", entityID, domain.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading task for %s: %w", entityID, err)
	}

	t.State = domain.TaskState(state)
	if t.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
		return nil, fmt.Errorf("decoding task timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(value), &t.Value); err != nil {
		return nil, fmt.Errorf("decoding task value: %w", err)
	}
	return &t, nil
}

// UpsertTask implements output.TaskStore. A row for the same resource,
// type and key under another id is replaced as well.
func (s *Store) UpsertTask(ctx context.Context, task *domain.Task) error {
	value, err := json.Marshal(task.Value)
	if err != nil {
		return fmt.Errorf("encoding task value: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_status
		 (id, entity_id, entity_type, task_type, key, state, last_updated, value, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.EntityID, task.EntityType, task.TaskType, task.Key,
		string(task.State), formatTime(task.LastUpdated), string(value), task.Error,
	)
	if err != nil {
		return fmt.Errorf("writing task %s: %w", task.ID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
