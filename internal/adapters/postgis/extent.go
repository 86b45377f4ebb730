package postgis

import (
	"context"
	"log/slog"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// ExtentBackend computes extents with a PostGIS aggregate over the primary
// geometry column.
type ExtentBackend struct {
	db        *DB
	geomField string
	logger    *slog.Logger
}

var _ output.ExtentQueryBackend = (*ExtentBackend)(nil)

// NewExtentBackend creates an ExtentBackend.
func NewExtentBackend(db *DB, geomField string, logger *slog.Logger) *ExtentBackend {
	return &ExtentBackend{db: db, geomField: geomField, logger: logger}
}

// Name implements output.ExtentQueryBackend.
func (b *ExtentBackend) Name() string { return "postgis" }

// QueryExtent implements output.ExtentQueryBackend.
func (b *ExtentBackend) QueryExtent(ctx context.Context, q domain.ExtentQuery) (*domain.ExtentResult, error) {
	where, args := whereClause(q)

	var total int64
	if err := b.db.Read().QueryRow(ctx, countSQL(q.ResourceID, where), args...).Scan(&total); err != nil {
		return nil, &domain.SpatialStoreError{Table: q.ResourceID, Operation: "count", Err: err}
	}
	if total == 0 {
		return domain.EmptyExtent(), nil
	}

	var (
		geomCount                      int64
		latMin, lngMin, latMax, lngMax *float64
	)
	err := b.db.Read().QueryRow(ctx, extentSQL(q.ResourceID, b.geomField, where), args...).
		Scan(&geomCount, &latMin, &lngMin, &latMax, &lngMax)
	if err != nil {
		return nil, &domain.SpatialStoreError{Table: q.ResourceID, Operation: "extent", Err: err}
	}

	result := &domain.ExtentResult{TotalCount: total, GeomCount: geomCount}
	if latMin != nil && lngMin != nil && latMax != nil && lngMax != nil {
		result.Bounds = &domain.Bounds{LatMin: *latMin, LngMin: *lngMin, LatMax: *latMax, LngMax: *lngMax}
	}

	b.logger.Debug("extent computed",
		"resource_id", q.ResourceID,
		"total", total,
		"geom_count", geomCount,
	)
	return result, nil
}
