package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/opsdash-api/internal/models"
	"github.com/noah-isme/opsdash-api/internal/notification"
	"github.com/noah-isme/opsdash-api/internal/registry"
)

type memoryRecordStore struct {
	mu      sync.Mutex
	table   models.TableName
	nextID  int64
	records map[int64]*models.Record
}

func newMemoryRecordStore(table models.TableName) *memoryRecordStore {
	return &memoryRecordStore{table: table, nextID: 1, records: make(map[int64]*models.Record)}
}

func (s *memoryRecordStore) seed(id int64, department string, data models.Fields) *models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	rec := &models.Record{ID: id, Table: s.table, Data: data.Clone(), CreatedAt: now, UpdatedAt: now}
	if department != "" {
		dept := department
		rec.DepartmentID = &dept
	}
	s.records[id] = rec
	if id >= s.nextID {
		s.nextID = id + 1
	}
	return s.copyOf(rec)
}

func (s *memoryRecordStore) copyOf(rec *models.Record) *models.Record {
	out := *rec
	out.Data = rec.Data.Clone()
	if rec.DepartmentID != nil {
		dept := *rec.DepartmentID
		out.DepartmentID = &dept
	}
	return &out
}

func (s *memoryRecordStore) lift(rec *models.Record, data models.Fields) {
	if dept, ok := data.String(models.FieldDepartmentID); ok {
		rec.DepartmentID = &dept
	}
}

func (s *memoryRecordStore) Get(_ context.Context, id int64) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.copyOf(rec), nil
}

func (s *memoryRecordStore) Create(_ context.Context, data models.Fields) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	rec := &models.Record{ID: s.nextID, Table: s.table, Data: data.Clone(), CreatedAt: now, UpdatedAt: now}
	s.lift(rec, data)
	s.records[rec.ID] = rec
	s.nextID++
	return s.copyOf(rec), nil
}

func (s *memoryRecordStore) Update(_ context.Context, id int64, partial models.Fields) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	for k, v := range partial {
		rec.Data[k] = v
	}
	s.lift(rec, partial)
	rec.UpdatedAt = time.Now().UTC()
	return s.copyOf(rec), nil
}

func (s *memoryRecordStore) Delete(_ context.Context, id int64) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(s.records, id)
	return s.copyOf(rec), nil
}

func (s *memoryRecordStore) List(_ context.Context, filter models.RecordFilter) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, 0, len(s.records))
	for _, rec := range s.records {
		if filter.DepartmentID != "" && rec.Department() != filter.DepartmentID {
			continue
		}
		out = append(out, *s.copyOf(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func newTestTables(t *testing.T) (*registry.Registry, map[models.TableName]*memoryRecordStore) {
	t.Helper()
	stores := make(map[models.TableName]*memoryRecordStore)
	reg, err := registry.New(models.DefaultSchemas(), func(schema models.TableSchema) (registry.RecordStore, error) {
		store := newMemoryRecordStore(schema.Name)
		stores[schema.Name] = store
		return store, nil
	})
	require.NoError(t, err)
	return reg, stores
}

type approvalRepoStub struct {
	mu       sync.Mutex
	requests map[string]*models.ApprovalRequest
	listErr  error
	listCall int
}

func newApprovalRepoStub() *approvalRepoStub {
	return &approvalRepoStub{requests: make(map[string]*models.ApprovalRequest)}
}

func (r *approvalRepoStub) Create(_ context.Context, req *models.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	stored := *req
	r.requests[req.ID] = &stored
	return nil
}

func (r *approvalRepoStub) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *req
	return &out, nil
}

func (r *approvalRepoStub) ListPending(_ context.Context, filter models.PendingFilter, after *models.PendingKey, limit int) ([]models.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCall++
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]models.ApprovalRequest, 0)
	for _, req := range r.requests {
		if req.Status != models.ApprovalStatusPending {
			continue
		}
		if filter.TableName != "" && req.TableName != filter.TableName {
			continue
		}
		if filter.RequesterID != 0 && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.DepartmentID != "" && (req.DepartmentID == nil || *req.DepartmentID != filter.DepartmentID) {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	if after != nil {
		filtered := out[:0]
		for _, req := range out {
			if req.RequestedAt.After(after.RequestedAt) || (req.RequestedAt.Equal(after.RequestedAt) && req.ID > after.ID) {
				filtered = append(filtered, req)
			}
		}
		out = filtered
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *approvalRepoStub) Decide(_ context.Context, d models.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[d.RequestID]
	if !ok || req.Status != models.ApprovalStatusPending {
		return sql.ErrNoRows
	}
	req.Status = d.Status
	reviewer := d.ReviewerID
	req.ReviewerID = &reviewer
	at := d.DecidedAt
	req.ReviewedAt = &at
	req.Note = d.Note
	return nil
}

func (r *approvalRepoStub) RecordApplication(_ context.Context, id string, at time.Time, applyErr *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.Status != models.ApprovalStatusApproved {
		return nil
	}
	if applyErr == nil {
		req.AppliedAt = &at
	}
	req.ApplyError = applyErr
	return nil
}

func (r *approvalRepoStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type busRecorder struct {
	*notification.LocalBus
	mu        sync.Mutex
	published []string
}

func newBusRecorder() *busRecorder {
	return &busRecorder{LocalBus: notification.NewLocalBus(nil)}
}

func (b *busRecorder) Publish(ctx context.Context, category string) {
	b.mu.Lock()
	b.published = append(b.published, category)
	b.mu.Unlock()
	b.LocalBus.Publish(ctx, category)
}

func (b *busRecorder) events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

// steppingClock returns strictly increasing timestamps.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

type workflowFixture struct {
	tables *registry.Registry
	stores map[models.TableName]*memoryRecordStore
	repo   *approvalRepoStub
	store  *ApprovalStore
	bus    *busRecorder
	audit  *auditStub
	engine *WorkflowEngine
}

func newWorkflowFixture(t *testing.T, opts ...WorkflowOption) *workflowFixture {
	t.Helper()
	tables, stores := newTestTables(t)
	repo := newApprovalRepoStub()
	store := NewApprovalStore(repo, tables, 2)
	store.now = steppingClock()
	bus := newBusRecorder()
	audit := &auditStub{}
	opts = append([]WorkflowOption{WithWorkflowAudit(audit)}, opts...)
	engine := NewWorkflowEngine(store, NewDirectMutator(tables), tables, bus, nil, opts...)
	return &workflowFixture{tables: tables, stores: stores, repo: repo, store: store, bus: bus, audit: audit, engine: engine}
}

var (
	adminSession    = models.Session{UserID: 1, Role: models.RoleAdmin}
	plannerSession  = models.Session{UserID: 2, Role: models.RolePlanner, DepartmentID: "MMTC"}
	inputterSession = models.Session{UserID: 3, Role: models.RoleInputter}
	viewerSession   = models.Session{UserID: 4, Role: models.RoleViewer}
)

func int64Ptr(v int64) *int64 { return &v }
