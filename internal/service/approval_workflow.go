package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/opsdash-api/internal/models"
	"github.com/noah-isme/opsdash-api/internal/notification"
	"github.com/noah-isme/opsdash-api/internal/policy"
	"github.com/noah-isme/opsdash-api/internal/registry"
	"github.com/noah-isme/opsdash-api/pkg/middleware/requestid"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

// Outcome discriminates what happened to a mutation.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomePending  Outcome = "pending"
	OutcomeRejected Outcome = "rejected"
	OutcomeApproved Outcome = "approved"
)

type approvalStore interface {
	Create(ctx context.Context, in models.NewApprovalRequest) (*models.ApprovalRequest, error)
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Decide(ctx context.Context, id string, reviewerID int64, decision models.ApprovalStatus, note *string) (*models.ApprovalRequest, error)
	RecordApplication(ctx context.Context, id string, applyErr error) (time.Time, error)
	ListPendingPage(ctx context.Context, filter models.PendingFilter, cursor string, limit int) (*PendingPage, error)
}

type directMutator interface {
	ApplyDirect(ctx context.Context, table models.TableName, requestType models.RequestType, recordID *int64, data models.Fields) (*models.Record, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SubmitInput describes a proposed mutation.
type SubmitInput struct {
	RequestType models.RequestType
	TableName   models.TableName
	RecordID    *int64
	OldData     models.Fields
	NewData     models.Fields
}

// SubmitResult tells the caller whether the change was applied or queued.
type SubmitResult struct {
	Applied bool                    `json:"applied"`
	Outcome Outcome                 `json:"outcome"`
	Request *models.ApprovalRequest `json:"request,omitempty"`
	Record  *models.Record          `json:"record,omitempty"`
}

// ReviewResult is the reviewer-facing outcome. ApplyErr is set when the
// decision was APPROVED but the change could not be applied.
type ReviewResult struct {
	Status     models.ApprovalStatus   `json:"status"`
	Outcome    Outcome                 `json:"outcome"`
	ApplyError string                  `json:"applyError,omitempty"`
	Request    *models.ApprovalRequest `json:"request"`
	Record     *models.Record          `json:"record,omitempty"`
	ApplyErr   error                   `json:"-"`
}

// WorkflowEngine routes mutations through the direct path or the approval
// queue and applies approved requests. It holds no state of its own.
type WorkflowEngine struct {
	store      approvalStore
	direct     directMutator
	tables     tableResolver
	bus        notification.Bus
	audit      auditLogger
	metrics    *MetricsService
	logger     *zap.Logger
	staleCheck bool
}

// WorkflowOption configures the engine.
type WorkflowOption func(*WorkflowEngine)

// WithStaleCheck toggles comparing oldData with the live record before an
// approved change is applied.
func WithStaleCheck(enabled bool) WorkflowOption {
	return func(e *WorkflowEngine) {
		e.staleCheck = enabled
	}
}

// WithWorkflowAudit sets the audit sink.
func WithWorkflowAudit(audit auditLogger) WorkflowOption {
	return func(e *WorkflowEngine) {
		e.audit = audit
	}
}

// WithWorkflowMetrics sets the metrics recorder.
func WithWorkflowMetrics(metrics *MetricsService) WorkflowOption {
	return func(e *WorkflowEngine) {
		e.metrics = metrics
	}
}

// NewWorkflowEngine constructs the engine.
func NewWorkflowEngine(store approvalStore, direct directMutator, tables tableResolver, bus notification.Bus, logger *zap.Logger, opts ...WorkflowOption) *WorkflowEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &WorkflowEngine{
		store:      store,
		direct:     direct,
		tables:     tables,
		bus:        bus,
		logger:     logger,
		staleCheck: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Submit applies the mutation directly for roles that need no approval and
// queues it as a PENDING request otherwise.
func (e *WorkflowEngine) Submit(ctx context.Context, session models.Session, in SubmitInput) (*SubmitResult, error) {
	if !policy.CanMutate(session.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not modify operational data")
	}
	if !in.RequestType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported request type: %s", in.RequestType))
	}
	entry, err := e.tables.Lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	department, err := e.authorizeTarget(ctx, session, entry, in)
	if err != nil {
		return nil, err
	}

	if !policy.RequiresApproval(session.Role) {
		return e.submitDirect(ctx, session, in)
	}

	req, err := e.store.Create(ctx, models.NewApprovalRequest{
		RequestType:  in.RequestType,
		TableName:    entry.Schema.Name,
		RecordID:     in.RecordID,
		DepartmentID: &department,
		OldData:      in.OldData,
		NewData:      in.NewData,
		RequesterID:  session.UserID,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveSubmission(string(req.TableName), OutcomePending)
	e.emitAudit(ctx, session.UserID, models.AuditActionApprovalSubmit, req.TableName, req.ID, req.OldData, req.NewData)
	e.logger.Info("mutation queued for approval",
		zap.String("request_id", req.ID),
		zap.String("table", string(req.TableName)),
		zap.String("type", string(req.RequestType)),
		zap.Int64("requester_id", session.UserID),
	)
	return &SubmitResult{Applied: false, Outcome: OutcomePending, Request: req}, nil
}

// authorizeTarget returns the department owning the mutation target. For
// changes and deletions it is read from the stored record, never from the
// submitted snapshots; a change that moves the record must also be allowed
// in the destination department.
func (e *WorkflowEngine) authorizeTarget(ctx context.Context, session models.Session, entry *registry.Entry, in SubmitInput) (string, error) {
	if in.RequestType == models.RequestTypeCreation {
		scope := entry.Scope(in.NewData)
		return scope, checkDepartment(session, scope)
	}
	if in.RecordID == nil || *in.RecordID <= 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "recordId is required for changes and deletions")
	}
	current, err := e.liveRecord(ctx, entry, *in.RecordID)
	if err != nil {
		return "", err
	}
	scope := ""
	if entry.Schema.DepartmentScoped {
		scope = current.Department()
	}
	if err := checkDepartment(session, scope); err != nil {
		return "", err
	}
	if in.RequestType == models.RequestTypeChange {
		if target := entry.Scope(in.NewData); target != "" && target != scope {
			if err := checkDepartment(session, target); err != nil {
				return "", err
			}
		}
	}
	return scope, nil
}

func (e *WorkflowEngine) liveRecord(ctx context.Context, entry *registry.Entry, id int64) (*models.Record, error) {
	current, err := entry.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s record %d not found", entry.Schema.Name, id))
		}
		return nil, appErrors.Internal(err, "failed to load record")
	}
	return current, nil
}

func checkDepartment(session models.Session, scope string) error {
	if !policy.CanEditCategory(session.Role, session.DepartmentID, scope) {
		return appErrors.Clone(appErrors.ErrForbidden, "role may not edit this department's data")
	}
	return nil
}

func (e *WorkflowEngine) submitDirect(ctx context.Context, session models.Session, in SubmitInput) (*SubmitResult, error) {
	data := in.NewData
	if in.RequestType == models.RequestTypeDeletion {
		if !policy.CanDelete(session.Role) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may delete records")
		}
		data = nil
	}
	record, err := e.direct.ApplyDirect(ctx, in.TableName, in.RequestType, in.RecordID, data)
	if err != nil {
		return nil, err
	}
	e.notify(ctx, record.Table)
	e.metrics.ObserveSubmission(string(record.Table), OutcomeApplied)
	e.emitAudit(ctx, session.UserID, models.AuditActionDirectMutation, record.Table, strconv.FormatInt(record.ID, 10), in.OldData, data)
	return &SubmitResult{Applied: true, Outcome: OutcomeApplied, Record: record}, nil
}

// Review records a reviewer decision and, for approvals, applies the stored
// change. Decision failures are returned as errors. Application failures
// leave the request APPROVED and are reported through ReviewResult.ApplyErr.
func (e *WorkflowEngine) Review(ctx context.Context, session models.Session, requestID string, decision models.ApprovalStatus, note *string) (*ReviewResult, error) {
	if !policy.CanReview(session.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not review approval requests")
	}
	if session.Role == models.RolePlanner {
		if err := e.authorizeReview(ctx, session, requestID); err != nil {
			return nil, err
		}
	}

	req, err := e.store.Decide(ctx, requestID, session.UserID, decision, note)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveDecision(string(req.Status))
	e.emitAudit(ctx, session.UserID, models.AuditActionApprovalReview, req.TableName, req.ID, nil, models.Fields{"status": string(req.Status)})

	if req.Status == models.ApprovalStatusRejected {
		return &ReviewResult{Status: req.Status, Outcome: OutcomeRejected, Request: req}, nil
	}

	result := &ReviewResult{Status: req.Status, Outcome: OutcomeApproved, Request: req}
	record, applyErr := e.apply(ctx, req)
	appliedAt, recErr := e.store.RecordApplication(ctx, req.ID, applyErr)
	if recErr != nil {
		e.logger.Warn("failed to record application outcome", zap.String("request_id", req.ID), zap.Error(recErr))
	}
	if applyErr != nil {
		code := appErrors.FromError(applyErr).Code
		msg := applyErr.Error()
		req.ApplyError = &msg
		result.ApplyErr = applyErr
		result.ApplyError = msg
		e.metrics.ObserveApplyFailure(string(req.TableName), code)
		e.emitAudit(ctx, session.UserID, models.AuditActionApplyFailed, req.TableName, req.ID, req.OldData, req.NewData)
		e.logger.Warn("approved request could not be applied",
			zap.String("request_id", req.ID),
			zap.String("table", string(req.TableName)),
			zap.String("code", code),
			zap.Error(applyErr),
		)
		return result, nil
	}

	if recErr == nil {
		req.AppliedAt = &appliedAt
	}
	result.Record = record
	e.notify(ctx, req.TableName)
	e.emitAudit(ctx, session.UserID, models.AuditActionApprovalApply, req.TableName, req.ID, req.OldData, req.NewData)
	return result, nil
}

// authorizeReview confines a PLANNER to requests of their own department. Both
// the department captured at submission and, for existing records, the
// record's current department must pass.
func (e *WorkflowEngine) authorizeReview(ctx context.Context, session models.Session, requestID string) error {
	pending, err := e.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	scope := ""
	if pending.DepartmentID != nil {
		scope = *pending.DepartmentID
	}
	if !policy.CanEditCategory(session.Role, session.DepartmentID, scope) {
		return appErrors.Clone(appErrors.ErrForbidden, "request belongs to another department")
	}
	if pending.RecordID == nil {
		return nil
	}
	entry, err := e.tables.Lookup(pending.TableName)
	if err != nil {
		return err
	}
	current, err := entry.Store.Get(ctx, *pending.RecordID)
	if err != nil {
		// A vanished record is reported as stale when the approval is applied.
		return nil
	}
	if entry.Schema.DepartmentScoped && !policy.CanEditCategory(session.Role, session.DepartmentID, current.Department()) {
		return appErrors.Clone(appErrors.ErrForbidden, "record belongs to another department")
	}
	return nil
}

func (e *WorkflowEngine) apply(ctx context.Context, req *models.ApprovalRequest) (*models.Record, error) {
	entry, err := e.tables.Lookup(req.TableName)
	if err != nil {
		return nil, err
	}

	data := req.NewData
	switch req.RequestType {
	case models.RequestTypeChange:
		if req.RecordID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recordId is required")
		}
		if e.staleCheck && len(req.OldData) > 0 {
			current, err := entry.Store.Get(ctx, *req.RecordID)
			if err != nil {
				return nil, staleOr(err, req)
			}
			if field, changed := driftedField(req.OldData, req.NewData, current.Snapshot()); changed {
				return nil, appErrors.Clone(appErrors.ErrStaleRecord,
					fmt.Sprintf("%s record %d changed since the request was submitted (field %s)", req.TableName, *req.RecordID, field))
			}
		}
	case models.RequestTypeDeletion:
		data = nil
	}

	record, err := e.direct.ApplyDirect(ctx, req.TableName, req.RequestType, req.RecordID, data)
	if err != nil {
		return nil, staleOr(err, req)
	}
	return record, nil
}

// staleOr reports a vanished target record as stale and passes other errors through.
func staleOr(err error, req *models.ApprovalRequest) error {
	if errors.Is(err, appErrors.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		id := int64(0)
		if req.RecordID != nil {
			id = *req.RecordID
		}
		return appErrors.Wrap(err, appErrors.ErrStaleRecord.Code, appErrors.ErrStaleRecord.Status,
			fmt.Sprintf("%s record %d no longer exists", req.TableName, id))
	}
	return err
}

// driftedField returns the first field being overwritten whose live value no
// longer matches the snapshot taken at submission.
func driftedField(old, changes, live models.Fields) (string, bool) {
	for key := range changes {
		want, snapshotted := old[key]
		if !snapshotted {
			continue
		}
		got, ok := live[key]
		if !ok {
			if want == nil {
				continue
			}
			return key, true
		}
		if !sameJSON(want, got) {
			return key, true
		}
	}
	return "", false
}

func sameJSON(a, b interface{}) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	var va, vb interface{}
	if json.Unmarshal(ra, &va) != nil || json.Unmarshal(rb, &vb) != nil {
		return string(ra) == string(rb)
	}
	return reflect.DeepEqual(va, vb)
}

// ListPending returns a page of the pending queue visible to session.
// Inputters only see their own requests; planners only their department.
func (e *WorkflowEngine) ListPending(ctx context.Context, session models.Session, filter models.PendingFilter, cursor string, limit int) (*PendingPage, error) {
	switch session.Role {
	case models.RoleAdmin:
	case models.RolePlanner:
		if session.DepartmentID != "" {
			filter.DepartmentID = session.DepartmentID
		}
	case models.RoleInputter:
		filter.RequesterID = session.UserID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not view approval requests")
	}
	return e.store.ListPendingPage(ctx, filter, cursor, limit)
}

// Get returns a single request visible to session.
func (e *WorkflowEngine) Get(ctx context.Context, session models.Session, id string) (*models.ApprovalRequest, error) {
	if !policy.CanMutate(session.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not view approval requests")
	}
	req, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Role == models.RoleInputter && req.RequesterID != session.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another user")
	}
	return req, nil
}

// notify is the single call site publishing change notifications.
func (e *WorkflowEngine) notify(ctx context.Context, table models.TableName) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, string(table))
	e.metrics.ObserveNotification(string(table))
}

func (e *WorkflowEngine) emitAudit(ctx context.Context, userID int64, action string, table models.TableName, resourceID string, oldData, newData models.Fields) {
	if e.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   string(table),
		ResourceID: &resourceID,
		RequestID:  requestid.FromContext(ctx),
	}
	if len(oldData) > 0 {
		entry.OldValues, _ = json.Marshal(oldData)
	}
	if len(newData) > 0 {
		entry.NewValues, _ = json.Marshal(newData)
	}
	if err := e.audit.CreateAuditLog(ctx, entry); err != nil {
		e.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}
