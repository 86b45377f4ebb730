package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testFields = SpatialFields{Geom: "_geom", Mercator: "_geom_webmercator"}

// mockMetadata implements output.MetadataStore for testing.
type mockMetadata struct {
	mu        sync.Mutex
	resources map[string]*domain.Resource
	patches   []domain.ResourcePatch
	getErr    error
	patchErr  error
}

func newMockMetadata(resources ...*domain.Resource) *mockMetadata {
	m := &mockMetadata{resources: make(map[string]*domain.Resource)}
	for _, r := range resources {
		m.resources[r.ID] = r
	}
	return m
}

func (m *mockMetadata) GetResource(_ context.Context, id string) (*domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockMetadata) FindResourceByURL(_ context.Context, url string) (*domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resources {
		if r.URL == url {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrResourceNotFound
}

func (m *mockMetadata) PutResource(_ context.Context, r *domain.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.resources[r.ID] = &cp
	return nil
}

func (m *mockMetadata) PatchResource(_ context.Context, id string, patch domain.ResourcePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.patchErr != nil {
		return m.patchErr
	}
	r, ok := m.resources[id]
	if !ok {
		return domain.ErrResourceNotFound
	}
	r.Apply(patch)
	m.patches = append(m.patches, patch)
	return nil
}

func (m *mockMetadata) resource(id string) *domain.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.resources[id]
	return &cp
}

// mockTasks implements output.TaskStore for testing.
type mockTasks struct {
	mu      sync.Mutex
	tasks   map[string]domain.Task
	upserts []domain.Task
	getErr  error
}

func newMockTasks(tasks ...*domain.Task) *mockTasks {
	m := &mockTasks{tasks: make(map[string]domain.Task)}
	for _, t := range tasks {
		m.tasks[t.EntityID] = *t
	}
	return m
}

func (m *mockTasks) GetTask(_ context.Context, entityID, taskType, key string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	t, ok := m.tasks[entityID]
	if !ok || t.TaskType != taskType || t.Key != key {
		return nil, domain.ErrTaskNotFound
	}
	return &t, nil
}

func (m *mockTasks) UpsertTask(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.EntityID] = *task
	m.upserts = append(m.upserts, *task)
	return nil
}

func (m *mockTasks) task(entityID string) (domain.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[entityID]
	return t, ok
}

// mockQueue implements output.JobQueue for testing.
type mockQueue struct {
	mu         sync.Mutex
	enqueued   []domain.JobArgs
	timeouts   []time.Duration
	queued     []output.QueuedJob
	enqueueErr error
	listErr    error
	nextID     int
	onEnqueue  func(args domain.JobArgs)
}

func (m *mockQueue) Enqueue(_ context.Context, args domain.JobArgs, timeout time.Duration) (output.JobHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return output.JobHandle{}, m.enqueueErr
	}
	m.nextID++
	m.enqueued = append(m.enqueued, args)
	m.timeouts = append(m.timeouts, timeout)
	if m.onEnqueue != nil {
		m.onEnqueue(args)
	}
	return output.JobHandle{ID: fmt.Sprintf("job-%d", m.nextID)}, nil
}

func (m *mockQueue) ListQueuedJobs(_ context.Context) ([]output.QueuedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.queued, nil
}

func (m *mockQueue) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enqueued)
}

// fakeTable is an in-memory datastore table; rows are keyed by _id.
type fakeTable struct {
	columns map[string]bool
	indexes map[string]bool
	geomCol map[string]domain.GeometryType
	rows    map[int64]map[string]any
}

// fakeDatastore implements the spatial ports over in-memory tables.
type fakeDatastore struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
	calls  []string

	openErr   error
	updateErr error
}

func newFakeDatastore() *fakeDatastore {
	return &fakeDatastore{tables: make(map[string]*fakeTable)}
}

// addTable creates a table whose rows hold the given values.
func (d *fakeDatastore) addTable(name string, rows []map[string]any) *fakeTable {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeTable{
		columns: map[string]bool{"_id": true},
		indexes: map[string]bool{},
		geomCol: map[string]domain.GeometryType{},
		rows:    make(map[int64]map[string]any),
	}
	for i, row := range rows {
		for k := range row {
			t.columns[k] = true
		}
		t.rows[int64(i+1)] = row
	}
	d.tables[name] = t
	return t
}

func (d *fakeDatastore) table(name string) *fakeTable {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tables[name]
}

func (d *fakeDatastore) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDatastore) TableExists(_ context.Context, table string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tables[table]
	return ok, nil
}

func (d *fakeDatastore) ColumnExists(_ context.Context, table, column string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	return ok && t.columns[column], nil
}

func (d *fakeDatastore) IndexExists(_ context.Context, table, index string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	return ok && t.indexes[index], nil
}

func (d *fakeDatastore) AddGeometryColumn(_ context.Context, table, column string, srid int, geomType domain.GeometryType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		return domain.ErrTableNotFound
	}
	t.columns[column] = true
	t.geomCol[column] = geomType
	d.record("add_column %s %d %s", column, srid, geomType)
	return nil
}

func (d *fakeDatastore) CreateSpatialIndex(_ context.Context, table, column, index string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		return domain.ErrTableNotFound
	}
	t.indexes[index] = true
	d.record("create_index %s", index)
	return nil
}

func (d *fakeDatastore) ScanFieldValues(_ context.Context, table, field string, fn func(raw []byte) error) error {
	d.mu.Lock()
	t, ok := d.tables[table]
	var values [][]byte
	if ok {
		for _, id := range t.sortedIDs() {
			switch v := t.rows[id][field].(type) {
			case string:
				values = append(values, []byte(v))
			case []byte:
				values = append(values, v)
			}
		}
	}
	d.mu.Unlock()
	if !ok {
		return domain.ErrTableNotFound
	}
	for _, v := range values {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (d *fakeDatastore) DropTable(_ context.Context, table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tables, table)
	d.record("drop_table %s", table)
	return nil
}

func (d *fakeDatastore) CreateTable(_ context.Context, table string, fields []domain.FieldDefinition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeTable{
		columns: map[string]bool{"_id": true},
		indexes: map[string]bool{},
		geomCol: map[string]domain.GeometryType{},
		rows:    make(map[int64]map[string]any),
	}
	for _, f := range fields {
		t.columns[f.ID] = true
	}
	d.tables[table] = t
	d.record("create_table %s %d", table, len(fields))
	return nil
}

func (d *fakeDatastore) CopyRows(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[table]
	if !ok {
		return 0, domain.ErrTableNotFound
	}
	for _, row := range rows {
		values := make(map[string]any, len(columns))
		for i, c := range columns {
			values[c] = row[i]
		}
		t.rows[int64(len(t.rows)+1)] = values
	}
	return int64(len(rows)), nil
}

func (t *fakeTable) sortedIDs() []int64 {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *fakeDatastore) OpenPopulate(_ context.Context, plan domain.PopulatePlan) (output.PopulateSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	t, ok := d.tables[plan.Table]
	if !ok {
		return nil, domain.ErrTableNotFound
	}

	var pending []int64
	for _, id := range t.sortedIDs() {
		row := t.rows[id]
		if row[plan.GeomField] != nil && row[plan.MercatorField] != nil {
			continue
		}
		switch plan.Mode {
		case domain.SourceLatLng:
			if row[plan.LatitudeField] == nil || row[plan.LongitudeField] == nil {
				continue
			}
		default:
			if row[plan.SourceField] == nil {
				continue
			}
		}
		pending = append(pending, id)
	}
	return &fakeSession{store: d, table: t, plan: plan, pending: pending}, nil
}

// fakeSession implements output.PopulateSession over a fakeTable.
type fakeSession struct {
	store   *fakeDatastore
	table   *fakeTable
	plan    domain.PopulatePlan
	pending []int64
	closed  bool
}

func (s *fakeSession) Next(_ context.Context, n int) ([]int64, error) {
	if len(s.pending) < n {
		n = len(s.pending)
	}
	ids := s.pending[:n]
	s.pending = s.pending[n:]
	return ids, nil
}

func (s *fakeSession) UpdateGeometry(_ context.Context, ids []int64) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.updateErr != nil {
		return s.store.updateErr
	}
	for _, id := range ids {
		row := s.table.rows[id]
		if s.plan.Mode == domain.SourceLatLng {
			row[s.plan.GeomField] = fmt.Sprintf("POINT(%v %v)", row[s.plan.LongitudeField], row[s.plan.LatitudeField])
		} else {
			row[s.plan.GeomField] = row[s.plan.SourceField]
		}
	}
	s.store.record("update_geometry %d", len(ids))
	return nil
}

func (s *fakeSession) UpdateProjection(_ context.Context, ids []int64) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, id := range ids {
		row := s.table.rows[id]
		if row[s.plan.GeomField] != nil {
			row[s.plan.MercatorField] = row[s.plan.GeomField]
		}
	}
	s.store.record("update_projection %d", len(ids))
	return nil
}

func (s *fakeSession) Close(_ context.Context) error {
	s.closed = true
	return nil
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu      sync.Mutex
	objects []output.StorageObject
	files   map[string][]byte
	listErr error
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]output.StorageObject(nil), m.objects...), nil
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStorage) setObjects(objects ...output.StorageObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = objects
}

// recordingCallback implements output.StatusCallback and keeps every report.
type recordingCallback struct {
	mu      sync.Mutex
	reports []domain.StatusUpdate
}

func (c *recordingCallback) Report(_ context.Context, state domain.TaskState, value *domain.TaskValue, errText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, domain.StatusUpdate{State: state, Value: value, Error: errText})
	return nil
}

func (c *recordingCallback) notes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var notes []string
	for _, r := range c.reports {
		if r.Value != nil && r.Value.Notes != "" {
			notes = append(notes, r.Value.Notes)
		}
	}
	return notes
}

// mockHook implements input.StatusHook for testing.
type mockHook struct {
	mu      sync.Mutex
	updates []domain.StatusUpdate
}

func (m *mockHook) HandleStatusUpdate(_ context.Context, u domain.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	return nil
}

func (m *mockHook) last() domain.StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates[len(m.updates)-1]
}

// mockSubmitter implements input.SubmissionService for testing.
type mockSubmitter struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (m *mockSubmitter) Submit(_ context.Context, resourceID string) (*domain.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.submitted = append(m.submitted, resourceID)
	return &domain.SubmitResult{ResourceID: resourceID, Outcome: domain.OutcomeSubmitted}, nil
}

func (m *mockSubmitter) Status(_ context.Context, resourceID string) (domain.StatusReport, error) {
	return domain.NotStartedReport(resourceID), nil
}

// mockEvents implements input.EventListener for testing.
type mockEvents struct {
	mu      sync.Mutex
	created []string
	changed []string
}

func (m *mockEvents) ResourceCreated(_ context.Context, r *domain.Resource) (*domain.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, r.ID)
	return nil, nil
}

func (m *mockEvents) DatastorePushed(_ context.Context, _ domain.DatastorePushEvent) (*domain.SubmitResult, error) {
	return nil, nil
}

func (m *mockEvents) FileChanged(_ context.Context, key string) (*domain.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = append(m.changed, key)
	return &domain.SubmitResult{Outcome: domain.OutcomeSubmitted}, nil
}

// mockBackend implements output.ExtentQueryBackend for testing.
type mockBackend struct {
	result *domain.ExtentResult
	err    error
	calls  int
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) QueryExtent(_ context.Context, _ domain.ExtentQuery) (*domain.ExtentResult, error) {
	m.calls++
	return m.result, m.err
}
