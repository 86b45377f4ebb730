package postgis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// Store implements the schema, population, field and loader ports.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// NewStore creates a Store over db.
func NewStore(db *DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

var (
	_ output.GeometrySchema = (*Store)(nil)
	_ output.GeometryWriter = (*Store)(nil)
	_ output.FieldReader    = (*Store)(nil)
	_ output.TableLoader    = (*Store)(nil)
)

// TableExists implements output.GeometrySchema.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schemaName, table)
}

// ColumnExists implements output.GeometrySchema.
func (s *Store) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 AND column_name = $3)`,
		schemaName, table, column)
}

// IndexExists implements output.GeometrySchema.
func (s *Store) IndexExists(ctx context.Context, table, index string) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = $1 AND tablename = $2 AND indexname = $3)`,
		schemaName, table, index)
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := s.db.Read().QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// AddGeometryColumn implements output.GeometrySchema.
func (s *Store) AddGeometryColumn(ctx context.Context, table, column string, srid int, geomType domain.GeometryType) error {
	_, err := s.db.Write().Exec(ctx,
		`SELECT AddGeometryColumn($1::varchar, $2::varchar, $3::varchar, $4::int, $5::varchar, 2)`,
		schemaName, table, column, srid, string(geomType))
	return err
}

// CreateSpatialIndex implements output.GeometrySchema.
func (s *Store) CreateSpatialIndex(ctx context.Context, table, column, index string) error {
	_, err := s.db.Write().Exec(ctx, createIndexSQL(table, column, index))
	return err
}

// ScanFieldValues implements output.FieldReader.
func (s *Store) ScanFieldValues(ctx context.Context, table, field string, fn func(raw []byte) error) error {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL", ident(field), tableIdent(table), ident(field))
	rows, err := s.db.Read().Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scanning %s: %w", field, err)
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DropTable implements output.TableLoader.
func (s *Store) DropTable(ctx context.Context, table string) error {
	_, err := s.db.Write().Exec(ctx, "DROP TABLE IF EXISTS "+tableIdent(table))
	return err
}

// CreateTable implements output.TableLoader.
func (s *Store) CreateTable(ctx context.Context, table string, fields []domain.FieldDefinition) error {
	query, err := createTableSQL(table, fields)
	if err != nil {
		return err
	}
	_, err = s.db.Write().Exec(ctx, query)
	return err
}

// CopyRows implements output.TableLoader.
func (s *Store) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	var n int64
	err := pgx.BeginFunc(ctx, s.db.Write(), func(tx pgx.Tx) error {
		var err error
		n, err = tx.CopyFrom(ctx, pgx.Identifier{schemaName, table}, columns, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return 0, err
	}
	if n != int64(len(rows)) {
		s.logger.Warn("copy loaded fewer rows than given",
			"table", table,
			"loaded", n,
			"given", len(rows),
		)
	}
	return n, nil
}

// OpenPopulate implements output.GeometryWriter. The cursor lives in a read
// only transaction on the read pool, so its snapshot is unaffected by the
// updates committed through the write pool.
func (s *Store) OpenPopulate(ctx context.Context, plan domain.PopulatePlan) (output.PopulateSession, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.Read().BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("opening cursor transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, selectIDsSQL(plan)); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("declaring cursor: %w", err)
	}

	return &session{
		store:      s,
		tx:         tx,
		geomSQL:    geometryUpdateSQL(plan),
		projectSQL: projectionUpdateSQL(plan),
	}, nil
}

type session struct {
	store      *Store
	tx         pgx.Tx
	geomSQL    string
	projectSQL string
}

func (ps *session) Next(ctx context.Context, n int) ([]int64, error) {
	rows, err := ps.tx.Query(ctx, fetchSQL(n))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (ps *session) UpdateGeometry(ctx context.Context, ids []int64) error {
	return ps.exec(ctx, ps.geomSQL, ids)
}

func (ps *session) UpdateProjection(ctx context.Context, ids []int64) error {
	return ps.exec(ctx, ps.projectSQL, ids)
}

// exec runs query once per id in a single batch and commits.
func (ps *session) exec(ctx context.Context, query string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, ps.store.db.Write(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, id := range ids {
			batch.Queue(query, id)
		}
		results := tx.SendBatch(ctx, batch)
		for range ids {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return err
			}
		}
		return results.Close()
	})
}

func (ps *session) Close(ctx context.Context) error {
	err := ps.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
