package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// SpatialFields names the two derived geometry columns.
type SpatialFields struct {
	Geom     string // SRID 4326
	Mercator string // SRID 3857
}

// ColumnProvisioner ensures datastore tables carry both geometry columns
// and their spatial indexes. Every operation is idempotent.
type ColumnProvisioner struct {
	schema output.GeometrySchema
	fields SpatialFields
	logger *slog.Logger
}

// NewColumnProvisioner creates a new column provisioner.
func NewColumnProvisioner(schema output.GeometrySchema, fields SpatialFields, logger *slog.Logger) *ColumnProvisioner {
	return &ColumnProvisioner{
		schema: schema,
		fields: fields,
		logger: logger,
	}
}

// IndexName returns the conventional name of the spatial index on field.
func IndexName(table, field string) string {
	return fmt.Sprintf("%s_%s_GIST", table, field)
}

type geometryColumn struct {
	name string
	srid int
}

func (p *ColumnProvisioner) columns() []geometryColumn {
	return []geometryColumn{
		{p.fields.Geom, domain.SRIDWGS84},
		{p.fields.Mercator, domain.SRIDWebMercator},
	}
}

// HasColumns reports whether both geometry columns exist.
func (p *ColumnProvisioner) HasColumns(ctx context.Context, table string) (bool, error) {
	for _, col := range p.columns() {
		ok, err := p.schema.ColumnExists(ctx, table, col.name)
		if err != nil {
			return false, &domain.SpatialStoreError{Table: table, Operation: "column_exists", Err: err}
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// HasIndexes reports whether both columns exist and are indexed.
func (p *ColumnProvisioner) HasIndexes(ctx context.Context, table string) (bool, error) {
	ok, err := p.HasColumns(ctx, table)
	if err != nil || !ok {
		return false, err
	}
	for _, col := range p.columns() {
		ok, err := p.schema.IndexExists(ctx, table, IndexName(table, col.name))
		if err != nil {
			return false, &domain.SpatialStoreError{Table: table, Operation: "index_exists", Err: err}
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// EnsureColumns adds whichever geometry column is missing. It reports
// whether anything was created.
func (p *ColumnProvisioner) EnsureColumns(ctx context.Context, table string, geomType domain.GeometryType) (bool, error) {
	geomType, err := domain.ParseGeometryType(string(geomType))
	if err != nil {
		return false, err
	}

	exists, err := p.schema.TableExists(ctx, table)
	if err != nil {
		return false, &domain.SpatialStoreError{Table: table, Operation: "add_column", Err: err}
	}
	if !exists {
		return false, &domain.SpatialStoreError{Table: table, Operation: "add_column", Err: domain.ErrTableNotFound}
	}

	created := false
	for _, col := range p.columns() {
		ok, err := p.schema.ColumnExists(ctx, table, col.name)
		if err != nil {
			return created, &domain.SpatialStoreError{Table: table, Operation: "add_column", Err: err}
		}
		if ok {
			continue
		}
		if err := p.schema.AddGeometryColumn(ctx, table, col.name, col.srid, geomType); err != nil {
			return created, &domain.SpatialStoreError{Table: table, Operation: "add_column", Err: err}
		}
		p.logger.Info("geometry column created",
			"resource_id", table,
			"column", col.name,
			"srid", col.srid,
			"type", geomType,
		)
		created = true
	}
	return created, nil
}

// EnsureIndex creates whichever spatial index is missing. Both columns
// must exist.
func (p *ColumnProvisioner) EnsureIndex(ctx context.Context, table string) (bool, error) {
	ok, err := p.HasColumns(ctx, table)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, &domain.SpatialStoreError{
			Table:     table,
			Operation: "create_index",
			Err:       fmt.Errorf("geometry columns: %w", domain.ErrNotFound),
		}
	}

	created := false
	for _, col := range p.columns() {
		name := IndexName(table, col.name)
		ok, err := p.schema.IndexExists(ctx, table, name)
		if err != nil {
			return created, &domain.SpatialStoreError{Table: table, Operation: "create_index", Err: err}
		}
		if ok {
			continue
		}
		if err := p.schema.CreateSpatialIndex(ctx, table, col.name, name); err != nil {
			return created, &domain.SpatialStoreError{Table: table, Operation: "create_index", Err: err}
		}
		p.logger.Info("spatial index created", "resource_id", table, "index", name)
		created = true
	}
	return created, nil
}
