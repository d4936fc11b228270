package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionApprovalSubmit = "APPROVAL_SUBMIT"
	AuditActionApprovalReview = "APPROVAL_REVIEW"
	AuditActionApprovalApply  = "APPROVAL_APPLY"
	AuditActionApplyFailed    = "APPROVAL_APPLY_FAILED"
	AuditActionDirectMutation = "DIRECT_MUTATION"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *int64    `db:"user_id" json:"userId,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resourceId,omitempty"`
	OldValues  []byte    `db:"old_values" json:"oldValues,omitempty"`
	NewValues  []byte    `db:"new_values" json:"newValues,omitempty"`
	RequestID  string    `db:"request_id" json:"requestId"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
