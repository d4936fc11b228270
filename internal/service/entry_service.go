package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/opsdash-api/internal/models"
	"github.com/noah-isme/opsdash-api/internal/policy"
	"github.com/noah-isme/opsdash-api/internal/registry"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

type mutationSubmitter interface {
	Submit(ctx context.Context, session models.Session, in SubmitInput) (*SubmitResult, error)
}

// EntryService backs the create, edit and delete controls of every
// dashboard category. It checks the role policy, snapshots the current
// record and hands the mutation to the workflow engine.
type EntryService struct {
	tables tableResolver
	engine mutationSubmitter
}

// NewEntryService constructs the entry points.
func NewEntryService(tables tableResolver, engine mutationSubmitter) *EntryService {
	return &EntryService{tables: tables, engine: engine}
}

// Create submits a new record for table.
func (s *EntryService) Create(ctx context.Context, session models.Session, table models.TableName, data models.Fields) (*SubmitResult, error) {
	entry, err := s.tables.Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEdit(session, entry.Scope(data)); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "record data is required")
	}
	return s.engine.Submit(ctx, session, SubmitInput{
		RequestType: models.RequestTypeCreation,
		TableName:   entry.Schema.Name,
		NewData:     data,
	})
}

// Edit submits a partial update of record id.
func (s *EntryService) Edit(ctx context.Context, session models.Session, table models.TableName, id int64, changes models.Fields) (*SubmitResult, error) {
	entry, current, err := s.load(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEdit(session, scopeOf(entry, current)); err != nil {
		return nil, err
	}
	if moved := entry.Scope(changes); moved != "" {
		if err := s.authorizeEdit(session, moved); err != nil {
			return nil, err
		}
	}
	if len(entry.Writable(changes)) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no fields to update")
	}
	return s.engine.Submit(ctx, session, SubmitInput{
		RequestType: models.RequestTypeChange,
		TableName:   entry.Schema.Name,
		RecordID:    &id,
		OldData:     current.Snapshot(),
		NewData:     changes,
	})
}

// Delete removes record id directly for administrators and queues a deletion
// request for roles that need approval.
func (s *EntryService) Delete(ctx context.Context, session models.Session, table models.TableName, id int64) (*SubmitResult, error) {
	entry, current, err := s.load(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEdit(session, scopeOf(entry, current)); err != nil {
		return nil, err
	}
	if !policy.CanDelete(session.Role) && !policy.RequiresApproval(session.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators may delete records")
	}
	return s.engine.Submit(ctx, session, SubmitInput{
		RequestType: models.RequestTypeDeletion,
		TableName:   entry.Schema.Name,
		RecordID:    &id,
		OldData:     current.Snapshot(),
	})
}

// Policy summarizes what session may do in table for the given department.
func (s *EntryService) Policy(session models.Session, table models.TableName, department string) (policy.Summary, error) {
	entry, err := s.tables.Lookup(table)
	if err != nil {
		return policy.Summary{}, err
	}
	if !entry.Schema.DepartmentScoped {
		department = ""
	}
	summary := policy.Summarize(session, department)
	if !policy.CanMutate(session.Role) {
		summary.CanEdit = false
	}
	return summary, nil
}

func (s *EntryService) authorizeEdit(session models.Session, scope string) error {
	if !policy.CanMutate(session.Role) || !policy.CanEditCategory(session.Role, session.DepartmentID, scope) {
		return appErrors.Clone(appErrors.ErrForbidden, "you do not have permission to modify this data")
	}
	return nil
}

func (s *EntryService) load(ctx context.Context, table models.TableName, id int64) (*registry.Entry, *models.Record, error) {
	entry, err := s.tables.Lookup(table)
	if err != nil {
		return nil, nil, err
	}
	if id <= 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid record id")
	}
	record, err := entry.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s record %d not found", table, id))
		}
		return nil, nil, appErrors.Internal(err, "failed to load record")
	}
	return entry, record, nil
}

func scopeOf(entry *registry.Entry, record *models.Record) string {
	if !entry.Schema.DepartmentScoped {
		return ""
	}
	return record.Department()
}
