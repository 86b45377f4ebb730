package output

import (
	"context"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// GeometrySchema introspects and alters datastore tables.
type GeometrySchema interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
	IndexExists(ctx context.Context, table, index string) (bool, error)

	// AddGeometryColumn adds a two dimensional geometry column.
	AddGeometryColumn(ctx context.Context, table, column string, srid int, geomType domain.GeometryType) error

	// CreateSpatialIndex creates a partial spatial index over the non-null
	// values of column.
	CreateSpatialIndex(ctx context.Context, table, column, index string) error
}

// GeometryWriter opens population runs.
type GeometryWriter interface {
	OpenPopulate(ctx context.Context, plan domain.PopulatePlan) (PopulateSession, error)
}

// PopulateSession is one population run. Next walks a forward-only cursor
// over the ids needing population in ascending order; each update call
// commits on its own.
type PopulateSession interface {
	// Next returns up to n ids; an empty slice means the cursor is drained.
	Next(ctx context.Context, n int) ([]int64, error)

	// UpdateGeometry sets the primary geometry of ids and commits.
	UpdateGeometry(ctx context.Context, ids []int64) error

	// UpdateProjection derives the projected geometry of ids and commits.
	UpdateProjection(ctx context.Context, ids []int64) error

	Close(ctx context.Context) error
}

// FieldReader streams the non-null raw values of one column.
type FieldReader interface {
	ScanFieldValues(ctx context.Context, table, field string, fn func(raw []byte) error) error
}

// TableLoader replaces a datastore table with freshly loaded rows.
type TableLoader interface {
	DropTable(ctx context.Context, table string) error

	// CreateTable creates a table with an _id serial key plus fields.
	CreateTable(ctx context.Context, table string, fields []domain.FieldDefinition) error

	// CopyRows bulk loads rows, whose values follow columns.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// ExtentQueryBackend computes the extent of a query result set.
type ExtentQueryBackend interface {
	Name() string
	QueryExtent(ctx context.Context, q domain.ExtentQuery) (*domain.ExtentResult, error)
}
