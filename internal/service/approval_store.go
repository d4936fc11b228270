package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/opsdash-api/internal/models"
	"github.com/noah-isme/opsdash-api/internal/registry"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

type approvalRequestRepository interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	ListPending(ctx context.Context, filter models.PendingFilter, after *models.PendingKey, limit int) ([]models.ApprovalRequest, error)
	Decide(ctx context.Context, d models.Decision) error
	RecordApplication(ctx context.Context, id string, at time.Time, applyErr *string) error
}

type tableResolver interface {
	Lookup(name models.TableName) (*registry.Entry, error)
}

// ApprovalStore owns approval requests: creation, lookup, the pending queue
// and the single PENDING -> decided transition.
type ApprovalStore struct {
	repo     approvalRequestRepository
	tables   tableResolver
	pageSize int
	now      func() time.Time
}

// NewApprovalStore constructs the store. pageSize bounds each pending page.
func NewApprovalStore(repo approvalRequestRepository, tables tableResolver, pageSize int) *ApprovalStore {
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	return &ApprovalStore{
		repo:     repo,
		tables:   tables,
		pageSize: pageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new PENDING request.
func (s *ApprovalStore) Create(ctx context.Context, in models.NewApprovalRequest) (*models.ApprovalRequest, error) {
	if !in.RequestType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported request type: %s", in.RequestType))
	}
	entry, err := s.tables.Lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	if len(in.OldData) == 0 && len(in.NewData) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "oldData and newData cannot both be empty")
	}
	if in.RequesterID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requesterId is required")
	}
	if err := entry.ValidatePartial(in.OldData); err != nil {
		return nil, err
	}
	if err := entry.ValidatePartial(in.NewData); err != nil {
		return nil, err
	}

	recordID := in.RecordID
	switch in.RequestType {
	case models.RequestTypeCreation:
		recordID = nil
		if err := entry.ValidateCreate(in.NewData); err != nil {
			return nil, err
		}
	default:
		if recordID == nil || *recordID <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recordId is required for changes and deletions")
		}
	}
	if in.RequestType == models.RequestTypeChange && len(entry.Writable(in.NewData)) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "newData must contain at least one field to change")
	}

	department := in.DepartmentID
	if department == nil {
		if scope := entry.Scope(in.NewData); scope != "" {
			department = &scope
		} else if scope := entry.Scope(in.OldData); scope != "" {
			department = &scope
		}
	} else if *department == "" {
		department = nil
	}

	req := &models.ApprovalRequest{
		RequestType:  in.RequestType,
		TableName:    entry.Schema.Name,
		RecordID:     recordID,
		DepartmentID: department,
		OldData:      in.OldData.Clone(),
		NewData:      in.NewData.Clone(),
		RequesterID:  in.RequesterID,
		Status:       models.ApprovalStatusPending,
		RequestedAt:  s.now(),
	}
	if req.OldData == nil {
		req.OldData = models.Fields{}
	}
	if req.NewData == nil {
		req.NewData = models.Fields{}
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, appErrors.Internal(err, "failed to create approval request")
	}
	return req, nil
}

// Get returns a request by id.
func (s *ApprovalStore) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	req, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, appErrors.Internal(err, "failed to load approval request")
	}
	return req, nil
}

// Decide records a reviewer decision. It fails with InvalidState when the
// request already left PENDING and never applies the change itself.
func (s *ApprovalStore) Decide(ctx context.Context, id string, reviewerID int64, decision models.ApprovalStatus, note *string) (*models.ApprovalRequest, error) {
	if !decision.IsDecision() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be APPROVED or REJECTED")
	}
	id = strings.TrimSpace(id)
	err := s.repo.Decide(ctx, models.Decision{
		RequestID:  id,
		ReviewerID: reviewerID,
		Status:     decision,
		Note:       note,
		DecidedAt:  s.now(),
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Internal(err, "failed to record decision")
		}
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "approval request already decided")
	}
	return s.Get(ctx, id)
}

// RecordApplication stores whether an approved request was applied and
// returns the timestamp written. The decision itself is left untouched.
func (s *ApprovalStore) RecordApplication(ctx context.Context, id string, applyErr error) (time.Time, error) {
	var msg *string
	if applyErr != nil {
		text := applyErr.Error()
		msg = &text
	}
	at := s.now()
	if err := s.repo.RecordApplication(ctx, id, at, msg); err != nil {
		return time.Time{}, appErrors.Internal(err, "failed to record application outcome")
	}
	return at, nil
}

// Pending returns a lazy cursor over the pending queue, oldest first.
func (s *ApprovalStore) Pending(filter models.PendingFilter) *PendingCursor {
	return &PendingCursor{repo: s.repo, filter: filter, pageSize: s.pageSize}
}

// PendingPage is one page of the pending queue.
type PendingPage struct {
	Items      []models.ApprovalRequest `json:"items"`
	NextCursor string                   `json:"nextCursor,omitempty"`
}

// ListPendingPage fetches one page after the opaque cursor token.
func (s *ApprovalStore) ListPendingPage(ctx context.Context, filter models.PendingFilter, cursor string, limit int) (*PendingPage, error) {
	after, err := DecodePendingCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	items, err := s.repo.ListPending(ctx, filter, after, limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list pending approval requests")
	}
	page := &PendingPage{Items: items}
	if page.Items == nil {
		page.Items = []models.ApprovalRequest{}
	}
	if len(items) == limit {
		last := items[len(items)-1]
		page.NextCursor = EncodePendingCursor(models.PendingKey{RequestedAt: last.RequestedAt, ID: last.ID})
	}
	return page, nil
}

// PendingCursor iterates the pending queue page by page. It is finite and
// can be restarted with Reset.
type PendingCursor struct {
	repo     approvalRequestRepository
	filter   models.PendingFilter
	pageSize int

	after   *models.PendingKey
	buf     []models.ApprovalRequest
	current *models.ApprovalRequest
	done    bool
	err     error
}

// Next advances to the next request, fetching a page when the buffer is empty.
func (c *PendingCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if len(c.buf) == 0 {
		if c.done {
			c.current = nil
			return false
		}
		page, err := c.repo.ListPending(ctx, c.filter, c.after, c.pageSize)
		if err != nil {
			c.err = appErrors.Internal(err, "failed to list pending approval requests")
			c.current = nil
			return false
		}
		if len(page) < c.pageSize {
			c.done = true
		}
		if len(page) == 0 {
			c.current = nil
			return false
		}
		c.buf = page
	}
	req := c.buf[0]
	c.buf = c.buf[1:]
	c.current = &req
	c.after = &models.PendingKey{RequestedAt: req.RequestedAt, ID: req.ID}
	return true
}

// Request returns the request Next advanced to.
func (c *PendingCursor) Request() *models.ApprovalRequest {
	return c.current
}

// Err reports the error that stopped iteration, if any.
func (c *PendingCursor) Err() error {
	return c.err
}

// Reset rewinds the cursor to the head of the queue.
func (c *PendingCursor) Reset() {
	c.after = nil
	c.buf = nil
	c.current = nil
	c.done = false
	c.err = nil
}

// EncodePendingCursor renders a keyset position as an opaque token.
func EncodePendingCursor(key models.PendingKey) string {
	raw := key.RequestedAt.UTC().Format(time.RFC3339Nano) + "|" + key.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodePendingCursor parses a token produced by EncodePendingCursor. An
// empty token starts at the head of the queue.
func DecodePendingCursor(token string) (*models.PendingKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid cursor")
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid cursor")
	}
	return &models.PendingKey{RequestedAt: at, ID: parts[1]}, nil
}
