package dto

import "github.com/noah-isme/opsdash-api/internal/models"

// SubmitMutationRequest is the payload for POST /mutations.
type SubmitMutationRequest struct {
	RequestType string        `json:"requestType" validate:"required,oneof=data_change data_deletion data_creation"`
	TableName   string        `json:"tableName" validate:"required"`
	RecordID    *int64        `json:"recordId,omitempty" validate:"omitempty,gt=0"`
	OldData     models.Fields `json:"oldData"`
	NewData     models.Fields `json:"newData"`
}

// ReviewRequest captures a reviewer decision and optional note.
type ReviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Note     string `json:"note" validate:"max=1000"`
}

// PendingQuery mirrors the pending queue filters.
type PendingQuery struct {
	Table      string `form:"table"`
	Requester  int64  `form:"requester" validate:"omitempty,gt=0"`
	Department string `form:"department"`
	After      string `form:"after"`
	Limit      int    `form:"limit" validate:"omitempty,min=1,max=200"`
}
