package http

import (
	"context"
	"sync"

	"github.com/jobrunner/dataspatial/internal/application"
	"github.com/jobrunner/dataspatial/internal/domain"
)

type mockResources struct {
	mu        sync.Mutex
	resources map[string]*domain.Resource
}

func newMockResources(rs ...*domain.Resource) *mockResources {
	m := &mockResources{resources: make(map[string]*domain.Resource)}
	for _, r := range rs {
		m.resources[r.ID] = r
	}
	return m
}

func (m *mockResources) GetResource(_ context.Context, id string) (*domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockResources) PutResource(_ context.Context, r *domain.Resource) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.resources[r.ID]
	cp := *r
	m.resources[r.ID] = &cp
	return !exists, nil
}

type mockSubmission struct {
	result    *domain.SubmitResult
	err       error
	report    domain.StatusReport
	submitted []string
}

func (m *mockSubmission) Submit(_ context.Context, resourceID string) (*domain.SubmitResult, error) {
	m.submitted = append(m.submitted, resourceID)
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	res.ResourceID = resourceID
	return &res, nil
}

func (m *mockSubmission) Status(_ context.Context, resourceID string) (domain.StatusReport, error) {
	if m.report.ResourceID == "" {
		return domain.NotStartedReport(resourceID), nil
	}
	return m.report, nil
}

type mockHook struct {
	updates []domain.StatusUpdate
	err     error
}

func (m *mockHook) HandleStatusUpdate(_ context.Context, u domain.StatusUpdate) error {
	m.updates = append(m.updates, u)
	return m.err
}

type mockEnrichment struct {
	populated []domain.PopulateRequest
	err       error
}

func (m *mockEnrichment) CreateColumns(context.Context, string, domain.GeometryType) error {
	return nil
}

func (m *mockEnrichment) CreateIndex(context.Context, string) error { return nil }

func (m *mockEnrichment) Populate(_ context.Context, req domain.PopulateRequest) error {
	m.populated = append(m.populated, req)
	return m.err
}

func (m *mockEnrichment) LoadFile(context.Context, string) error { return nil }

type mockEvents struct {
	result *domain.SubmitResult
	err    error
	pushed []domain.DatastorePushEvent
}

func (m *mockEvents) ResourceCreated(_ context.Context, _ *domain.Resource) (*domain.SubmitResult, error) {
	return m.result, m.err
}

func (m *mockEvents) DatastorePushed(_ context.Context, ev domain.DatastorePushEvent) (*domain.SubmitResult, error) {
	m.pushed = append(m.pushed, ev)
	return m.result, m.err
}

func (m *mockEvents) FileChanged(context.Context, string) (*domain.SubmitResult, error) {
	return m.result, m.err
}

type mockExtent struct {
	result *domain.ExtentResult
	err    error
	got    domain.ExtentQuery
}

func (m *mockExtent) QueryExtent(_ context.Context, q domain.ExtentQuery) (*domain.ExtentResult, error) {
	m.got = q
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockSync struct {
	err error
}

func (m *mockSync) TriggerSync(context.Context) (application.SyncResult, error) {
	if m.err != nil {
		return application.SyncResult{}, m.err
	}
	return application.SyncResult{FilesSeen: 3, FilesChanged: 1, JobsSubmitted: 1}, nil
}
