package application

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

func latLngRows(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"lat": float64(i % 90), "lng": float64(i % 180)}
	}
	return rows
}

func latLngPlan(table string) domain.PopulatePlan {
	return domain.PopulatePlan{
		Table:          table,
		Mode:           domain.SourceLatLng,
		LatitudeField:  "lat",
		LongitudeField: "lng",
		GeomType:       domain.GeomPoint,
		GeomField:      testFields.Geom,
		MercatorField:  testFields.Mercator,
	}
}

func TestBatchPopulatorProgress(t *testing.T) {
	ctx := context.Background()
	store := newFakeDatastore()
	store.addTable("res-1", latLngRows(12000))
	p := NewBatchPopulator(store, 5000, &output.NoOpMetrics{}, testLogger())

	var progress []int64
	count, err := p.Populate(ctx, latLngPlan("res-1"), func(_ context.Context, n int64) error {
		progress = append(progress, n)
		return nil
	})
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	if count != 12000 {
		t.Errorf("Populate() = %d rows, want 12000", count)
	}

	want := []int64{5000, 10000, 12000}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, progress[i], want[i])
		}
	}

	// Each batch commits the geometry before its projection.
	wantCalls := []string{
		"update_geometry 5000", "update_projection 5000",
		"update_geometry 5000", "update_projection 5000",
		"update_geometry 2000", "update_projection 2000",
	}
	if len(store.calls) != len(wantCalls) {
		t.Fatalf("calls = %v", store.calls)
	}
	for i := range wantCalls {
		if store.calls[i] != wantCalls[i] {
			t.Errorf("call %d = %q, want %q", i, store.calls[i], wantCalls[i])
		}
	}

	for id, row := range store.table("res-1").rows {
		if row["_geom"] == nil || row["_geom_webmercator"] == nil {
			t.Fatalf("row %d not populated: %v", id, row)
		}
	}
}

func TestBatchPopulatorIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeDatastore()
	store.addTable("res-1", latLngRows(10))
	p := NewBatchPopulator(store, 0, &output.NoOpMetrics{}, testLogger())

	if _, err := p.Populate(ctx, latLngPlan("res-1"), nil); err != nil {
		t.Fatalf("first Populate() error = %v", err)
	}
	store.calls = nil

	calls := 0
	count, err := p.Populate(ctx, latLngPlan("res-1"), func(context.Context, int64) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("second Populate() error = %v", err)
	}
	if count != 0 || calls != 0 || len(store.calls) != 0 {
		t.Errorf("second run updated %d rows, %d progress calls, store calls %v", count, calls, store.calls)
	}
}

func TestBatchPopulatorSkipsRowsWithoutSource(t *testing.T) {
	ctx := context.Background()
	store := newFakeDatastore()
	store.addTable("res-1", []map[string]any{
		{"wkt": "POINT(1 2)"},
		{"wkt": nil},
		{"wkt": "POINT(3 4)"},
	})
	p := NewBatchPopulator(store, 5000, &output.NoOpMetrics{}, testLogger())

	plan := domain.PopulatePlan{
		Table:         "res-1",
		Mode:          domain.SourceWKT,
		SourceField:   "wkt",
		GeomType:      domain.GeomPoint,
		GeomField:     testFields.Geom,
		MercatorField: testFields.Mercator,
	}
	count, err := p.Populate(ctx, plan, nil)
	if err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Populate() = %d, want 2", count)
	}
	if store.table("res-1").rows[2]["_geom"] != nil {
		t.Error("row without source should stay null")
	}
}

func TestBatchPopulatorErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	tests := []struct {
		name  string
		setup func(d *fakeDatastore)
		plan  domain.PopulatePlan
		want  error
	}{
		{
			name: "invalid plan",
			plan: domain.PopulatePlan{Table: "res-1", Mode: domain.SourceWKT, GeomField: "g", MercatorField: "m"},
			want: domain.ErrInvalidInput,
		},
		{
			name:  "open fails",
			setup: func(d *fakeDatastore) { d.openErr = boom },
			plan:  latLngPlan("res-1"),
			want:  boom,
		},
		{
			name:  "update fails",
			setup: func(d *fakeDatastore) { d.updateErr = boom },
			plan:  latLngPlan("res-1"),
			want:  boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeDatastore()
			store.addTable("res-1", latLngRows(3))
			if tt.setup != nil {
				tt.setup(store)
			}
			p := NewBatchPopulator(store, 5000, &output.NoOpMetrics{}, testLogger())

			_, err := p.Populate(ctx, tt.plan, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Populate() error = %v, want %v", err, tt.want)
			}
		})
	}
}
