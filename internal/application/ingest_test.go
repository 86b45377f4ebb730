package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/geometry"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

const testCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "a", "count": 1}, "geometry": {"type": "Point", "coordinates": [10, 20]}},
    {"type": "Feature", "properties": {"name": "b", "flag": true}, "geometry": {"type": "Point", "coordinates": [11, 21]}},
    {"type": "Feature", "properties": {"name": "c", "count": 3.5}, "geometry": {"type": "Point", "coordinates": [12, 22]}},
    {"type": "Feature", "properties": {"name": "no geometry"}, "geometry": null}
  ]
}`

func newTestIngester(storage *mockStorage, store *fakeDatastore, metadata *mockMetadata, enc domain.GeometryEncoding, field string) *GeoJSONIngester {
	return NewGeoJSONIngester(storage, store, metadata, &output.NoOpMetrics{}, enc, field, testLogger())
}

func TestGeoJSONIngesterConvert(t *testing.T) {
	i := newTestIngester(&mockStorage{}, newFakeDatastore(), newMockMetadata(), domain.EncodingWKT, "dataspatial_wkt")

	table, err := i.Convert([]byte(testCollection), nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	wantFields := []domain.FieldDefinition{
		{ID: "name", Type: "text"},
		{ID: "count", Type: "numeric"},
		{ID: "flag", Type: "bool"},
		{ID: "dataspatial_wkt", Type: "text"},
	}
	if len(table.Fields) != len(wantFields) {
		t.Fatalf("Fields = %+v", table.Fields)
	}
	for idx, f := range wantFields {
		if table.Fields[idx] != f {
			t.Errorf("field %d = %+v, want %+v", idx, table.Fields[idx], f)
		}
	}

	if len(table.Rows) != 3 || table.Dropped != 1 || table.Invalid != 0 {
		t.Fatalf("rows = %d, dropped = %d, invalid = %d", len(table.Rows), table.Dropped, table.Invalid)
	}

	first := table.Rows[0]
	if first[0] != "a" || numericLiteral(t, first[1]) != "1e0" || first[2] != nil {
		t.Errorf("first row = %v", first)
	}
	wkt, ok := first[3].(string)
	if !ok {
		t.Fatalf("geometry value is %T, want string", first[3])
	}
	g, err := geometry.Decode([]byte(wkt), domain.EncodingWKT)
	if err != nil {
		t.Fatalf("stored wkt does not decode: %v", err)
	}
	if gt, _ := geometry.TypeOf(g); gt != domain.GeomPoint {
		t.Errorf("geometry type = %s", gt)
	}
}

func numericLiteral(t *testing.T, v any) string {
	t.Helper()
	n, ok := v.(pgtype.Numeric)
	if !ok || !n.Valid || n.Int == nil {
		t.Fatalf("value = %#v, want a valid pgtype.Numeric", v)
	}
	return fmt.Sprintf("%se%d", n.Int.String(), n.Exp)
}

func TestGeoJSONIngesterConvertKeepsLargeNumbers(t *testing.T) {
	i := newTestIngester(&mockStorage{}, newFakeDatastore(), newMockMetadata(), domain.EncodingWKT, "dataspatial_wkt")

	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"osm_id":9007199254740993,"area":3.5},"geometry":{"type":"Point","coordinates":[1,2]}}
	]}`
	table, err := i.Convert([]byte(data), nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if f := table.Fields[0]; f.ID != "osm_id" || f.Type != "numeric" {
		t.Fatalf("field = %+v", f)
	}
	if got := numericLiteral(t, table.Rows[0][0]); got != "9007199254740993e0" {
		t.Errorf("osm_id = %s, want 9007199254740993e0", got)
	}
	if got := numericLiteral(t, table.Rows[0][1]); got != "35e-1" {
		t.Errorf("area = %s, want 35e-1", got)
	}
}

func TestGeoJSONIngesterConvertInvalidGeometry(t *testing.T) {
	i := newTestIngester(&mockStorage{}, newFakeDatastore(), newMockMetadata(), domain.EncodingWKB, "dataspatial_wkb")

	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1]]]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}
	]}`
	table, err := i.Convert([]byte(data), nil)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if len(table.Rows) != 3 || table.Invalid != 2 {
		t.Fatalf("rows = %d, invalid = %d", len(table.Rows), table.Invalid)
	}
	if table.Rows[0][0] != nil || table.Rows[1][0] != nil {
		t.Error("invalid geometries should be stored as null")
	}
	if _, ok := table.Rows[2][0].([]byte); !ok {
		t.Errorf("valid geometry should be wkb bytes, got %T", table.Rows[2][0])
	}
	if f := table.Fields[0]; f.ID != "dataspatial_wkb" || f.Type != "bytea" {
		t.Errorf("geometry field = %+v", f)
	}
}

func TestGeoJSONIngesterConvertDeclaredFields(t *testing.T) {
	i := newTestIngester(&mockStorage{}, newFakeDatastore(), newMockMetadata(), domain.EncodingWKT, "dataspatial_wkt")

	table, err := i.Convert([]byte(testCollection), []domain.FieldDefinition{{ID: "count", Type: "int"}})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if table.Fields[1].Type != "int" {
		t.Errorf("declared type not used: %+v", table.Fields[1])
	}
	if table.Rows[2][1] != int64(3) {
		t.Errorf("count = %#v, want int64(3)", table.Rows[2][1])
	}
}

func TestGeoJSONIngesterConvertRejects(t *testing.T) {
	i := newTestIngester(&mockStorage{}, newFakeDatastore(), newMockMetadata(), domain.EncodingWKT, "dataspatial_wkt")

	for _, data := range []string{`{broken`, `{"type":"Feature"}`, `{"type":"FeatureCollection"}`} {
		if _, err := i.Convert([]byte(data), nil); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Convert(%s) error = %v, want ErrInvalidInput", data, err)
		}
	}
}

func TestGeoJSONIngesterIngest(t *testing.T) {
	ctx := context.Background()
	r := &domain.Resource{ID: "res-1", Format: "GeoJSON", URL: "uploads/res-1.geojson", WKTField: "old_wkt"}
	metadata := newMockMetadata(r)
	store := newFakeDatastore()
	store.addTable("res-1", []map[string]any{{"stale": 1}})
	storage := &mockStorage{files: map[string][]byte{"uploads/res-1.geojson": []byte(testCollection)}}
	i := newTestIngester(storage, store, metadata, domain.EncodingWKB, "dataspatial_wkb")

	cb := &recordingCallback{}
	n, err := i.Ingest(ctx, r, cb)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Ingest() = %d rows, want 3", n)
	}

	table := store.table("res-1")
	if len(table.rows) != 3 || table.columns["stale"] {
		t.Errorf("table was not replaced: %d rows, columns %v", len(table.rows), table.columns)
	}

	got := metadata.resource("res-1")
	if got.WKBField != "dataspatial_wkb" || got.WKTField != "" || !got.DatastoreActive {
		t.Errorf("resource not pointed at wkb field: %+v", got)
	}
	if got.SourceMode() != domain.SourceWKB {
		t.Errorf("SourceMode() = %s, want wkb", got.SourceMode())
	}
	if notes := cb.notes(); len(notes) != 1 || notes[0] != "Creating datastore table for res-1" {
		t.Errorf("notes = %v", notes)
	}
}

func TestGeoJSONIngesterIngestErrors(t *testing.T) {
	ctx := context.Background()
	i := newTestIngester(&mockStorage{}, newFakeDatastore(), newMockMetadata(), domain.EncodingWKB, "dataspatial_wkb")

	if _, err := i.Ingest(ctx, &domain.Resource{ID: "r"}, output.DiscardStatus); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("missing url error = %v", err)
	}

	_, err := i.Ingest(ctx, &domain.Resource{ID: "r", URL: "missing.geojson"}, output.DiscardStatus)
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("missing file error = %v, want StorageError", err)
	}
}
