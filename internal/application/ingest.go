package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tidwall/gjson"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/geometry"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// Column types used for inferred GeoJSON tables.
const (
	fieldTypeText    = "text"
	fieldTypeNumeric = "numeric"
	fieldTypeBool    = "bool"
	fieldTypeBytea   = "bytea"
)

// FeatureTable is a GeoJSON feature collection flattened into rows.
type FeatureTable struct {
	Fields  []domain.FieldDefinition // properties first, geometry field last
	Rows    [][]any                  // one value per field
	Dropped int                      // features without a geometry
	Invalid int                      // geometries stored as null
}

// Columns returns the field ids in row order.
func (t *FeatureTable) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.ID
	}
	return cols
}

// GeoJSONIngester loads uploaded GeoJSON files into datastore tables with
// an embedded WKT or WKB geometry field.
type GeoJSONIngester struct {
	storage  output.ObjectStorage
	loader   output.TableLoader
	metadata output.MetadataStore
	metrics  output.MetricsCollector
	encoding domain.GeometryEncoding
	field    string
	logger   *slog.Logger
}

// NewGeoJSONIngester creates a new ingester writing geometries in enc into
// the column named field.
func NewGeoJSONIngester(
	storage output.ObjectStorage,
	loader output.TableLoader,
	metadata output.MetadataStore,
	metrics output.MetricsCollector,
	enc domain.GeometryEncoding,
	field string,
	logger *slog.Logger,
) *GeoJSONIngester {
	return &GeoJSONIngester{
		storage:  storage,
		loader:   loader,
		metadata: metadata,
		metrics:  metrics,
		encoding: enc,
		field:    field,
		logger:   logger,
	}
}

// Ingest replaces the resource's table with the features of its uploaded
// file and points the resource's metadata at the geometry field. It
// returns the number of rows loaded.
func (i *GeoJSONIngester) Ingest(ctx context.Context, r *domain.Resource, cb output.StatusCallback) (int64, error) {
	if r.URL == "" {
		return 0, &domain.ValidationError{Field: "url", Message: "resource has no uploaded file"}
	}

	data, err := i.read(ctx, r.URL)
	if err != nil {
		return 0, err
	}

	table, err := i.Convert(data, r.FieldsDefinition)
	if err != nil {
		return 0, err
	}
	if table.Dropped > 0 || table.Invalid > 0 {
		i.logger.Info("geojson features skipped",
			"resource_id", r.ID,
			"without_geometry", table.Dropped,
			"invalid_geometry", table.Invalid,
		)
	}

	i.logger.Info("creating datastore table", "resource_id", r.ID, "rows", len(table.Rows))
	if err := cb.Report(ctx, domain.StateWorking, &domain.TaskValue{
		Notes: fmt.Sprintf("Creating datastore table for %s", r.ID),
	}, ""); err != nil {
		i.logger.Warn("failed to report status", "resource_id", r.ID, "error", err)
	}

	if err := i.loader.DropTable(ctx, r.ID); err != nil {
		return 0, &domain.SpatialStoreError{Table: r.ID, Operation: "drop_table", Err: err}
	}
	if err := i.loader.CreateTable(ctx, r.ID, table.Fields); err != nil {
		return 0, &domain.SpatialStoreError{Table: r.ID, Operation: "create_table", Err: err}
	}
	n, err := i.loader.CopyRows(ctx, r.ID, table.Columns(), table.Rows)
	if err != nil {
		return 0, &domain.SpatialStoreError{Table: r.ID, Operation: "copy_rows", Err: err}
	}

	if err := i.metadata.PatchResource(ctx, r.ID, i.sourcePatch()); err != nil {
		return n, err
	}
	return n, nil
}

// sourcePatch points the resource at the embedded geometry field and
// clears the other encoding so it cannot take precedence.
func (i *GeoJSONIngester) sourcePatch() domain.ResourcePatch {
	active := true
	empty := ""
	field := i.field
	patch := domain.ResourcePatch{DatastoreActive: &active}
	if i.encoding == domain.EncodingWKT {
		patch.WKTField, patch.WKBField = &field, &empty
	} else {
		patch.WKBField, patch.WKTField = &field, &empty
	}
	return patch
}

func (i *GeoJSONIngester) read(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	rc, err := i.storage.GetReader(ctx, key)
	if err != nil {
		i.metrics.IncStorageOperations("read", false)
		return nil, &domain.StorageError{Operation: "read", Key: key, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	i.metrics.ObserveStorageDuration("read", time.Since(start))
	i.metrics.IncStorageOperations("read", err == nil)
	if err != nil {
		return nil, &domain.StorageError{Operation: "read", Key: key, Err: err}
	}
	return data, nil
}

// Convert flattens a feature collection. Every row carries every property
// key seen in any feature plus the geometry field. Features without a
// geometry are dropped; structurally invalid geometries become null.
// Declared field types override the inferred ones.
func (i *GeoJSONIngester) Convert(data []byte, declared []domain.FieldDefinition) (*FeatureTable, error) {
	if !gjson.ValidBytes(data) {
		return nil, &domain.ValidationError{Field: "geojson", Message: "file is not valid JSON"}
	}
	root := gjson.ParseBytes(data)
	features := root.Get("features")
	if root.Get("type").String() != "FeatureCollection" || !features.IsArray() {
		return nil, &domain.ValidationError{
			Field:      "geojson",
			Value:      root.Get("type").String(),
			Constraint: "FeatureCollection",
			Message:    "file is not a feature collection",
		}
	}

	var (
		keys  []string
		seen  = map[string]struct{}{i.field: {}, "_id": {}}
		kept  []gjson.Result
		table = &FeatureTable{}
	)
	features.ForEach(func(_, f gjson.Result) bool {
		f.Get("properties").ForEach(func(k, _ gjson.Result) bool {
			if _, ok := seen[k.String()]; !ok {
				seen[k.String()] = struct{}{}
				keys = append(keys, k.String())
			}
			return true
		})
		if g := f.Get("geometry"); !g.Exists() || g.Type == gjson.Null {
			table.Dropped++
			return true
		}
		kept = append(kept, f)
		return true
	})

	types := make(map[string]string, len(declared))
	for _, fd := range declared {
		types[fd.ID] = fd.Type
	}
	for _, k := range keys {
		typ, ok := types[k]
		if !ok {
			typ = inferFieldType(kept, k)
		}
		table.Fields = append(table.Fields, domain.FieldDefinition{ID: k, Type: typ})
	}
	geomType := fieldTypeBytea
	if i.encoding == domain.EncodingWKT {
		geomType = fieldTypeText
	}
	table.Fields = append(table.Fields, domain.FieldDefinition{ID: i.field, Type: geomType})

	for _, f := range kept {
		row := make([]any, 0, len(table.Fields))
		props := f.Get("properties")
		for _, fd := range table.Fields[:len(keys)] {
			row = append(row, cellValue(props.Get(gjson.Escape(fd.ID)), fd.Type))
		}
		geom, err := i.encodeGeometry(f.Get("geometry"))
		if err != nil {
			return nil, err
		}
		if geom == nil {
			table.Invalid++
		}
		table.Rows = append(table.Rows, append(row, geom))
	}
	return table, nil
}

func (i *GeoJSONIngester) encodeGeometry(g gjson.Result) (any, error) {
	if !geometry.ValidGeoJSON(g) {
		return nil, nil
	}
	parsed, err := geometry.FromGeoJSON([]byte(g.Raw))
	if err != nil {
		return nil, nil
	}
	return geometry.Encode(parsed, i.encoding)
}

// inferFieldType picks the narrowest column type holding every non-null
// value of key.
func inferFieldType(features []gjson.Result, key string) string {
	path := "properties." + gjson.Escape(key)
	allNumbers, allBools, found := true, true, false
	for _, f := range features {
		v := f.Get(path)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		found = true
		allNumbers = allNumbers && v.Type == gjson.Number
		allBools = allBools && (v.Type == gjson.True || v.Type == gjson.False)
	}
	switch {
	case !found:
		return fieldTypeText
	case allNumbers:
		return fieldTypeNumeric
	case allBools:
		return fieldTypeBool
	default:
		return fieldTypeText
	}
}

// cellValue converts a property to the Go value loaded into a column of typ.
func cellValue(v gjson.Result, typ string) any {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	switch typ {
	case fieldTypeNumeric, "decimal":
		if v.Type != gjson.Number {
			return nil
		}
		// Keep the literal; float64 loses integers above 2^53.
		var n pgtype.Numeric
		if err := n.Scan(v.Raw); err != nil {
			return v.Float()
		}
		return n
	case "float8", "float4", "double precision":
		if v.Type != gjson.Number {
			return nil
		}
		return v.Float()
	case "int", "int4", "int8", "integer", "bigint":
		if v.Type != gjson.Number {
			return nil
		}
		return v.Int()
	case fieldTypeBool, "boolean":
		if v.Type != gjson.True && v.Type != gjson.False {
			return nil
		}
		return v.Bool()
	case "json", "jsonb":
		return v.Raw
	default:
		if v.Type == gjson.String {
			return v.String()
		}
		return v.Raw
	}
}
