package dto

import "github.com/noah-isme/opsdash-api/internal/models"

// RecordPayload wraps the fields of a record create or edit.
type RecordPayload struct {
	Data models.Fields `json:"data" validate:"required"`
}

// RecordListQuery holds record listing filters.
type RecordListQuery struct {
	Department string `form:"department"`
	Limit      int    `form:"limit" validate:"omitempty,min=1,max=500"`
	Offset     int    `form:"offset" validate:"omitempty,min=0"`
}

// PolicyQuery selects the category a permission summary is computed for.
type PolicyQuery struct {
	Table      string `form:"table" validate:"required"`
	Department string `form:"department"`
}
