package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

// DirectMutator performs the persistence call behind a mutation. It does not
// check roles or publish notifications; callers own both.
type DirectMutator struct {
	tables tableResolver
}

// NewDirectMutator constructs the mutator over the table registry.
func NewDirectMutator(tables tableResolver) *DirectMutator {
	return &DirectMutator{tables: tables}
}

// ApplyDirect creates, partially updates or deletes a record of table. For
// deletions the returned record is the last stored state.
func (m *DirectMutator) ApplyDirect(ctx context.Context, table models.TableName, requestType models.RequestType, recordID *int64, data models.Fields) (*models.Record, error) {
	entry, err := m.tables.Lookup(table)
	if err != nil {
		return nil, err
	}

	var (
		record *models.Record
		action string
	)
	switch requestType {
	case models.RequestTypeCreation:
		if err := entry.ValidateCreate(data); err != nil {
			return nil, err
		}
		action = "create"
		record, err = entry.Store.Create(ctx, entry.Writable(data))
	case models.RequestTypeChange:
		if recordID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recordId is required")
		}
		if err := entry.ValidatePartial(data); err != nil {
			return nil, err
		}
		changes := entry.Writable(data)
		if len(changes) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "no fields to update")
		}
		action = "update"
		record, err = entry.Store.Update(ctx, *recordID, changes)
	case models.RequestTypeDeletion:
		if recordID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "recordId is required")
		}
		action = "delete"
		record, err = entry.Store.Delete(ctx, *recordID)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported request type: %s", requestType))
	}

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) && recordID != nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s record %d not found", table, *recordID))
		}
		return nil, appErrors.Internal(err, fmt.Sprintf("failed to %s %s record", action, table))
	}
	record.Table = entry.Schema.Name
	return record, nil
}
