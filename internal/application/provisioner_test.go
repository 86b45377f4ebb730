package application

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/dataspatial/internal/domain"
)

func TestIndexName(t *testing.T) {
	if got := IndexName("res-1", "_geom"); got != "res-1__geom_GIST" {
		t.Errorf("IndexName() = %q", got)
	}
}

func TestColumnProvisionerEnsureColumns(t *testing.T) {
	ctx := context.Background()
	store := newFakeDatastore()
	store.addTable("res-1", []map[string]any{{"wkt": "POINT(1 2)"}})
	p := NewColumnProvisioner(store, testFields, testLogger())

	created, err := p.EnsureColumns(ctx, "res-1", "multipoint")
	if err != nil {
		t.Fatalf("EnsureColumns() error = %v", err)
	}
	if !created {
		t.Error("first call should create the columns")
	}

	table := store.table("res-1")
	if table.geomCol["_geom"] != domain.GeomMultiPoint || table.geomCol["_geom_webmercator"] != domain.GeomMultiPoint {
		t.Errorf("unexpected column types: %v", table.geomCol)
	}
	wantCalls := []string{
		"add_column _geom 4326 MULTIPOINT",
		"add_column _geom_webmercator 3857 MULTIPOINT",
	}
	if len(store.calls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", store.calls, wantCalls)
	}
	for i, c := range wantCalls {
		if store.calls[i] != c {
			t.Errorf("call %d = %q, want %q", i, store.calls[i], c)
		}
	}

	created, err = p.EnsureColumns(ctx, "res-1", domain.GeomMultiPoint)
	if err != nil {
		t.Fatalf("second EnsureColumns() error = %v", err)
	}
	if created || len(store.calls) != 2 {
		t.Errorf("second call should be a no-op, calls = %v", store.calls)
	}
}

func TestColumnProvisionerEnsureColumnsErrors(t *testing.T) {
	ctx := context.Background()
	store := newFakeDatastore()
	store.addTable("res-1", nil)
	p := NewColumnProvisioner(store, testFields, testLogger())

	if _, err := p.EnsureColumns(ctx, "res-1", "CIRCLE"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown type error = %v, want ErrInvalidInput", err)
	}

	_, err := p.EnsureColumns(ctx, "missing", domain.GeomPoint)
	if !errors.Is(err, domain.ErrTableNotFound) {
		t.Errorf("missing table error = %v, want ErrTableNotFound", err)
	}
	var storeErr *domain.SpatialStoreError
	if !errors.As(err, &storeErr) || storeErr.Operation != "add_column" {
		t.Errorf("error should be a SpatialStoreError for add_column, got %v", err)
	}
}

func TestColumnProvisionerEnsureIndex(t *testing.T) {
	ctx := context.Background()
	store := newFakeDatastore()
	store.addTable("res-1", nil)
	p := NewColumnProvisioner(store, testFields, testLogger())

	if _, err := p.EnsureIndex(ctx, "res-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("EnsureIndex() without columns error = %v, want ErrNotFound", err)
	}

	if _, err := p.EnsureColumns(ctx, "res-1", domain.GeomPoint); err != nil {
		t.Fatalf("EnsureColumns() error = %v", err)
	}
	if ok, _ := p.HasIndexes(ctx, "res-1"); ok {
		t.Error("HasIndexes() should be false before indexing")
	}

	created, err := p.EnsureIndex(ctx, "res-1")
	if err != nil || !created {
		t.Fatalf("EnsureIndex() = %v, %v", created, err)
	}
	table := store.table("res-1")
	for _, name := range []string{"res-1__geom_GIST", "res-1__geom_webmercator_GIST"} {
		if !table.indexes[name] {
			t.Errorf("index %s not created", name)
		}
	}
	if ok, _ := p.HasIndexes(ctx, "res-1"); !ok {
		t.Error("HasIndexes() should be true after indexing")
	}

	created, err = p.EnsureIndex(ctx, "res-1")
	if err != nil || created {
		t.Errorf("second EnsureIndex() = %v, %v, want no-op", created, err)
	}
}
