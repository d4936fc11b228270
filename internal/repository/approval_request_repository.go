package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/opsdash-api/internal/models"
)

const approvalRequestColumns = `id, request_type, table_name, record_id, department_id, old_data, new_data,
       requester_id, status, reviewer_id, note, requested_at, reviewed_at, applied_at, apply_error`

// ApprovalRequestRepository persists approval workflow data.
type ApprovalRequestRepository struct {
	db *sqlx.DB
}

// NewApprovalRequestRepository constructs the repository.
func NewApprovalRequestRepository(db *sqlx.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

// Create inserts a new pending request, assigning its id and timestamp.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ApprovalStatusPending
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_requests
	(id, request_type, table_name, record_id, department_id, old_data, new_data, requester_id, status, requested_at)
	VALUES (:id, :request_type, :table_name, :record_id, :department_id, :old_data, :new_data, :requester_id, :status, :requested_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier. Missing rows return sql.ErrNoRows.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id = $1`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListPending returns up to limit pending requests after the keyset position,
// oldest first.
func (r *ApprovalRequestRepository) ListPending(ctx context.Context, filter models.PendingFilter, after *models.PendingKey, limit int) ([]models.ApprovalRequest, error) {
	args := make([]interface{}, 0, 6)
	conditions := []string{fmt.Sprintf("status = '%s'", models.ApprovalStatusPending)}

	if filter.TableName != "" {
		args = append(args, filter.TableName)
		conditions = append(conditions, fmt.Sprintf("table_name = $%d", len(args)))
	}
	if filter.RequesterID != 0 {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", len(args)))
	}
	if after != nil {
		args = append(args, after.RequestedAt, after.ID)
		conditions = append(conditions, fmt.Sprintf("(requested_at, id) > ($%d, $%d)", len(args)-1, len(args)))
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE `)
	builder.WriteString(strings.Join(conditions, " AND "))
	builder.WriteString(fmt.Sprintf(" ORDER BY requested_at ASC, id ASC LIMIT %d", limit))

	var requests []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list pending approval requests: %w", err)
	}
	return requests, nil
}

// Decide records a reviewer decision. The update only matches PENDING rows,
// so concurrent reviewers race on the status column and the loser observes
// sql.ErrNoRows.
func (r *ApprovalRequestRepository) Decide(ctx context.Context, d models.Decision) error {
	query := fmt.Sprintf(`UPDATE approval_requests
	SET status = :status, reviewer_id = :reviewer_id, reviewed_at = :reviewed_at, note = :note
	WHERE id = :id AND status = '%s'`, models.ApprovalStatusPending)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":          d.RequestID,
		"status":      d.Status,
		"reviewer_id": d.ReviewerID,
		"reviewed_at": d.DecidedAt,
		"note":        d.Note,
	})
	if err != nil {
		return fmt.Errorf("decide approval request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approval decision rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordApplication stores the outcome of applying an approved request.
// A nil applyErr marks the change as applied.
func (r *ApprovalRequestRepository) RecordApplication(ctx context.Context, id string, at time.Time, applyErr *string) error {
	query := fmt.Sprintf(`UPDATE approval_requests SET applied_at = $1, apply_error = $2
	WHERE id = $3 AND status = '%s'`, models.ApprovalStatusApproved)
	var appliedAt *time.Time
	if applyErr == nil {
		appliedAt = &at
	}
	if _, err := r.db.ExecContext(ctx, query, appliedAt, applyErr, id); err != nil {
		return fmt.Errorf("record approval application: %w", err)
	}
	return nil
}
