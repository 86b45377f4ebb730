package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/geometry"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// Enricher prepares datastore tables and populates their geometry columns
// from a resource's configured source fields.
type Enricher struct {
	metadata    output.MetadataStore
	values      output.FieldReader
	provisioner *ColumnProvisioner
	populator   *BatchPopulator
	ingester    *GeoJSONIngester
	fields      SpatialFields
	logger      *slog.Logger
	now         func() time.Time
}

// NewEnricher creates a new enricher.
func NewEnricher(
	metadata output.MetadataStore,
	values output.FieldReader,
	provisioner *ColumnProvisioner,
	populator *BatchPopulator,
	ingester *GeoJSONIngester,
	fields SpatialFields,
	logger *slog.Logger,
) *Enricher {
	return &Enricher{
		metadata:    metadata,
		values:      values,
		provisioner: provisioner,
		populator:   populator,
		ingester:    ingester,
		fields:      fields,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Plan selects the population mode for r and infers the column type.
// Latitude/longitude wins over WKT, which wins over WKB.
func (e *Enricher) Plan(ctx context.Context, r *domain.Resource) (domain.PopulatePlan, error) {
	plan := domain.PopulatePlan{
		Table:         r.ID,
		Mode:          r.SourceMode(),
		GeomField:     e.fields.Geom,
		MercatorField: e.fields.Mercator,
	}

	var enc domain.GeometryEncoding
	switch plan.Mode {
	case domain.SourceLatLng:
		plan.LatitudeField, plan.LongitudeField = r.LatitudeField, r.LongitudeField
		plan.GeomType = domain.GeomPoint
		return plan, nil
	case domain.SourceWKT:
		plan.SourceField, enc = r.WKTField, domain.EncodingWKT
	case domain.SourceWKB:
		plan.SourceField, enc = r.WKBField, domain.EncodingWKB
	default:
		return plan, &domain.ValidationError{
			Field:   "dataspatial_latitude_field",
			Message: "lat/lng or wkt fields are required unless the resource is a geojson upload",
		}
	}

	geomType, err := e.inferType(ctx, r.ID, plan.SourceField, enc)
	if err != nil {
		return plan, err
	}
	plan.GeomType = geomType
	return plan, nil
}

func (e *Enricher) inferType(ctx context.Context, table, field string, enc domain.GeometryEncoding) (domain.GeometryType, error) {
	collector := geometry.NewTypeCollector(enc)
	if err := e.values.ScanFieldValues(ctx, table, field, collector.Add); err != nil {
		return "", fmt.Errorf("inferring geometry type of %s.%s: %w", table, field, err)
	}
	geomType, err := collector.Result()
	if err != nil {
		return "", fmt.Errorf("inferring geometry type of %s.%s: %w", table, field, err)
	}
	e.logger.Debug("geometry type inferred",
		"resource_id", table,
		"field", field,
		"types", collector.Types(),
		"type", geomType,
	)
	return geomType, nil
}

// PrepareAndPopulate ensures the geometry columns and indexes exist,
// populates them and marks the resource active.
func (e *Enricher) PrepareAndPopulate(ctx context.Context, r *domain.Resource, cb output.StatusCallback) error {
	plan, err := e.Plan(ctx, r)
	if err != nil {
		return err
	}
	if err := e.prepare(ctx, plan, cb); err != nil {
		return err
	}

	e.logger.Info("populating geometry columns", "resource_id", r.ID, "mode", plan.Mode, "type", plan.GeomType)
	notes := plan.Notes()
	rows, err := e.populator.Populate(ctx, plan, func(ctx context.Context, n int64) error {
		return cb.Report(ctx, domain.StateWorking, &domain.TaskValue{Notes: notes, RowsCompleted: &n}, "")
	})
	if err != nil {
		return err
	}

	if err := e.metadata.PatchResource(ctx, r.ID, domain.ActivatedPatch(e.now())); err != nil {
		return err
	}
	e.logger.Info("geometry columns populated", "resource_id", r.ID, "rows", rows)
	return nil
}

func (e *Enricher) prepare(ctx context.Context, plan domain.PopulatePlan, cb output.StatusCallback) error {
	ok, err := e.provisioner.HasColumns(ctx, plan.Table)
	if err != nil {
		return err
	}
	if !ok {
		e.report(ctx, plan.Table, cb, "Creating Columns")
		if _, err := e.provisioner.EnsureColumns(ctx, plan.Table, plan.GeomType); err != nil {
			return err
		}
	}

	ok, err = e.provisioner.HasIndexes(ctx, plan.Table)
	if err != nil {
		return err
	}
	if !ok {
		e.report(ctx, plan.Table, cb, "Indexing Geom Columns")
		if _, err := e.provisioner.EnsureIndex(ctx, plan.Table); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enricher) report(ctx context.Context, resourceID string, cb output.StatusCallback, notes string) {
	if err := cb.Report(ctx, domain.StateWorking, &domain.TaskValue{Notes: notes}, ""); err != nil {
		e.logger.Warn("failed to report status", "resource_id", resourceID, "error", err)
	}
}

// IngestAndPopulate loads the resource's GeoJSON file into a fresh table
// and populates it from the embedded geometry field.
func (e *Enricher) IngestAndPopulate(ctx context.Context, r *domain.Resource, cb output.StatusCallback) error {
	if _, err := e.ingester.Ingest(ctx, r, cb); err != nil {
		return err
	}
	loaded, err := e.metadata.GetResource(ctx, r.ID)
	if err != nil {
		return err
	}
	return e.PrepareAndPopulate(ctx, loaded, cb)
}

// CreateColumns adds both geometry columns of the given type.
func (e *Enricher) CreateColumns(ctx context.Context, resourceID string, geomType domain.GeometryType) error {
	if strings.TrimSpace(resourceID) == "" {
		return &domain.ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}
	_, err := e.provisioner.EnsureColumns(ctx, resourceID, geomType)
	return err
}

// CreateIndex adds spatial indexes on both geometry columns.
func (e *Enricher) CreateIndex(ctx context.Context, resourceID string) error {
	if strings.TrimSpace(resourceID) == "" {
		return &domain.ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}
	_, err := e.provisioner.EnsureIndex(ctx, resourceID)
	return err
}

// Populate records any new source field names on the resource and then
// populates its geometry columns synchronously.
func (e *Enricher) Populate(ctx context.Context, req domain.PopulateRequest) error {
	if strings.TrimSpace(req.ResourceID) == "" {
		return &domain.ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}

	r, err := e.metadata.GetResource(ctx, req.ResourceID)
	if err != nil {
		return err
	}
	if patch := req.Patch(r); !patch.IsEmpty() {
		if err := e.metadata.PatchResource(ctx, r.ID, patch); err != nil {
			return err
		}
		if r, err = e.metadata.GetResource(ctx, r.ID); err != nil {
			return err
		}
	}

	if !r.IsSpatiallyConfigured() {
		return &domain.ValidationError{
			Field:   "latitude_field",
			Message: "missing required source column(s): provide lat/lng field names or a wkt field name",
		}
	}
	return e.PrepareAndPopulate(ctx, r, output.DiscardStatus)
}

// LoadFile ingests the resource's GeoJSON file and populates its table.
func (e *Enricher) LoadFile(ctx context.Context, resourceID string) error {
	r, err := e.metadata.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}
	if !r.IsGeoJSON() {
		return &domain.ValidationError{
			Field:      "format",
			Value:      r.Format,
			Constraint: domain.FormatGeoJSON,
			Message:    "only geojson files can be loaded",
		}
	}
	return e.IngestAndPopulate(ctx, r, output.DiscardStatus)
}
