package models

import "time"

// RequestType enumerates the mutation an approval request carries.
type RequestType string

const (
	RequestTypeChange   RequestType = "data_change"
	RequestTypeDeletion RequestType = "data_deletion"
	RequestTypeCreation RequestType = "data_creation"
)

// Valid reports whether t is a supported request type.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeChange, RequestTypeDeletion, RequestTypeCreation:
		return true
	}
	return false
}

// ApprovalStatus captures workflow states for approval requests.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// IsDecision reports whether s is a valid reviewer decision.
func (s ApprovalStatus) IsDecision() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

// ApprovalRequest is a persisted proposal to mutate an operational record.
// Once Status leaves PENDING it never changes again.
type ApprovalRequest struct {
	ID           string         `db:"id" json:"id"`
	RequestType  RequestType    `db:"request_type" json:"requestType"`
	TableName    TableName      `db:"table_name" json:"tableName"`
	RecordID     *int64         `db:"record_id" json:"recordId,omitempty"`
	DepartmentID *string        `db:"department_id" json:"departmentId,omitempty"`
	OldData      Fields         `db:"old_data" json:"oldData"`
	NewData      Fields         `db:"new_data" json:"newData"`
	RequesterID  int64          `db:"requester_id" json:"requesterId"`
	Status       ApprovalStatus `db:"status" json:"status"`
	ReviewerID   *int64         `db:"reviewer_id" json:"reviewerId,omitempty"`
	Note         *string        `db:"note" json:"note,omitempty"`
	RequestedAt  time.Time      `db:"requested_at" json:"requestedAt"`
	ReviewedAt   *time.Time     `db:"reviewed_at" json:"reviewedAt,omitempty"`
	AppliedAt    *time.Time     `db:"applied_at" json:"appliedAt,omitempty"`
	ApplyError   *string        `db:"apply_error" json:"applyError,omitempty"`
}

// NewApprovalRequest is the input for creating a pending request. A non-nil
// DepartmentID is authoritative (empty means no department); when nil the
// department is read from the submitted data.
type NewApprovalRequest struct {
	RequestType  RequestType
	TableName    TableName
	RecordID     *int64
	DepartmentID *string
	OldData      Fields
	NewData      Fields
	RequesterID  int64
}

// PendingKey is the keyset position of a request in the pending queue.
type PendingKey struct {
	RequestedAt time.Time
	ID          string
}

// PendingFilter constrains pending queue listings.
type PendingFilter struct {
	TableName    TableName
	RequesterID  int64
	DepartmentID string
}

// Decision is a reviewer verdict on a pending request.
type Decision struct {
	RequestID  string
	ReviewerID int64
	Status     ApprovalStatus
	Note       *string
	DecidedAt  time.Time
}
