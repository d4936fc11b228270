package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

func TestSubmitDirectForPrivilegedRoles(t *testing.T) {
	for _, session := range []models.Session{adminSession, plannerSession} {
		t.Run(string(session.Role), func(t *testing.T) {
			f := newWorkflowFixture(t)
			store := f.stores[models.TableCriticalIssues]
			store.seed(5, "MMTC", models.Fields{"title": "Pump vibration", "status": "OPEN"})

			result, err := f.engine.Submit(context.Background(), session, SubmitInput{
				RequestType: models.RequestTypeChange,
				TableName:   models.TableCriticalIssues,
				RecordID:    int64Ptr(5),
				OldData:     models.Fields{"status": "OPEN", "department_id": "MMTC"},
				NewData:     models.Fields{"status": "CLOSE"},
			})
			require.NoError(t, err)
			assert.True(t, result.Applied)
			assert.Equal(t, OutcomeApplied, result.Outcome)
			assert.Nil(t, result.Request)
			require.NotNil(t, result.Record)
			assert.Equal(t, "CLOSE", result.Record.Data["status"])

			current, err := store.Get(context.Background(), 5)
			require.NoError(t, err)
			assert.Equal(t, "CLOSE", current.Data["status"])
			assert.Zero(t, f.repo.count())
			assert.Equal(t, []string{"critical_issues"}, f.bus.events())
			assert.Equal(t, []string{models.AuditActionDirectMutation}, f.audit.actions())
		})
	}
}

func TestSubmitQueuesForInputter(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableCriticalIssues]
	store.seed(42, "MTCENG", models.Fields{"title": "Cracked weld", "status": "OPEN"})

	result, err := f.engine.Submit(context.Background(), inputterSession, SubmitInput{
		RequestType: models.RequestTypeDeletion,
		TableName:   models.TableCriticalIssues,
		RecordID:    int64Ptr(42),
		OldData:     models.Fields{"title": "Cracked weld", "status": "OPEN", "department_id": "MTCENG"},
	})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, OutcomePending, result.Outcome)
	require.NotNil(t, result.Request)
	assert.Equal(t, models.ApprovalStatusPending, result.Request.Status)
	assert.Equal(t, models.RequestTypeDeletion, result.Request.RequestType)
	require.NotNil(t, result.Request.RecordID)
	assert.EqualValues(t, 42, *result.Request.RecordID)

	_, err = store.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.count())
	assert.Empty(t, f.bus.events())
}

func TestSubmitRejectsUnprivilegedCallers(t *testing.T) {
	f := newWorkflowFixture(t)
	f.stores[models.TableCriticalIssues].seed(8, "MTCENG", models.Fields{"title": "Oil leak", "status": "OPEN"})
	ctx := context.Background()

	cases := []struct {
		name    string
		session models.Session
		in      SubmitInput
	}{
		{"viewer", viewerSession, SubmitInput{RequestType: models.RequestTypeCreation, TableName: models.TableCriticalIssues, NewData: models.Fields{"title": "x", "status": "OPEN"}}},
		{"unknown role", models.Session{UserID: 9, Role: "SUPERUSER"}, SubmitInput{RequestType: models.RequestTypeCreation, TableName: models.TableCriticalIssues, NewData: models.Fields{"title": "x", "status": "OPEN"}}},
		{"planner delete", plannerSession, SubmitInput{RequestType: models.RequestTypeDeletion, TableName: models.TableCriticalIssues, RecordID: int64Ptr(8), OldData: models.Fields{"title": "Oil leak"}}},
		{"planner other department", plannerSession, SubmitInput{RequestType: models.RequestTypeChange, TableName: models.TableCriticalIssues, RecordID: int64Ptr(8), OldData: models.Fields{"department_id": "MTCENG"}, NewData: models.Fields{"status": "CLOSE"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Submit(ctx, tc.session, tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrForbidden), "got %v", err)
		})
	}

	current, err := f.stores[models.TableCriticalIssues].Get(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, "OPEN", current.Data["status"])
	assert.Zero(t, f.repo.count())
	assert.Empty(t, f.bus.events())
}

func TestSubmitDirectValidationAndNotFound(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, adminSession, SubmitInput{
		RequestType: models.RequestTypeCreation,
		TableName:   models.TableEquipmentStatus,
		NewData:     models.Fields{"equipment_code": "EX-01"},
	})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.engine.Submit(ctx, adminSession, SubmitInput{
		RequestType: models.RequestTypeDeletion,
		TableName:   models.TableEquipmentStatus,
		RecordID:    int64Ptr(404),
	})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, f.bus.events())
}

func TestSubmitTakesDepartmentFromStoredRecord(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableCriticalIssues]
	store.seed(9, "MTCENG", models.Fields{"title": "Seal wear", "status": "OPEN"})
	store.seed(10, "MMTC", models.Fields{"title": "Belt slip", "status": "OPEN"})
	ctx := context.Background()

	cases := []struct {
		name string
		in   SubmitInput
	}{
		{"no department in snapshots", SubmitInput{RequestType: models.RequestTypeChange, TableName: models.TableCriticalIssues, RecordID: int64Ptr(9), NewData: models.Fields{"status": "CLOSE"}}},
		{"faked old department", SubmitInput{RequestType: models.RequestTypeChange, TableName: models.TableCriticalIssues, RecordID: int64Ptr(9), OldData: models.Fields{"status": "OPEN", "department_id": "MMTC"}, NewData: models.Fields{"status": "CLOSE", "department_id": "MMTC"}}},
		{"move into other department", SubmitInput{RequestType: models.RequestTypeChange, TableName: models.TableCriticalIssues, RecordID: int64Ptr(10), OldData: models.Fields{"department_id": "MMTC"}, NewData: models.Fields{"department_id": "MTCENG"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Submit(ctx, plannerSession, tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrForbidden), "got %v", err)
		})
	}

	current, err := store.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "OPEN", current.Data["status"])
	assert.Equal(t, "MTCENG", current.Department())
	current, err = store.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "MMTC", current.Department())
	assert.Empty(t, f.bus.events())
}

func TestSubmitChangeForMissingRecord(t *testing.T) {
	f := newWorkflowFixture(t)
	_, err := f.engine.Submit(context.Background(), inputterSession, SubmitInput{
		RequestType: models.RequestTypeChange,
		TableName:   models.TableKTATTA,
		RecordID:    int64Ptr(77),
		OldData:     models.Fields{"status": "OPEN"},
		NewData:     models.Fields{"status": "CLOSE"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Zero(t, f.repo.count())
}

func TestReviewIgnoresSnapshotDepartment(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableKTATTA]
	store.seed(17, "MTCENG", models.Fields{"report_date": "2026-02-27", "category": "KTA", "description": "Open trench", "status": "OPEN"})
	req := submitChange(t, f, 17, models.Fields{"status": "OPEN", "department_id": "MMTC"}, models.Fields{"status": "CLOSE"})
	ctx := context.Background()

	require.NotNil(t, req.DepartmentID)
	assert.Equal(t, "MTCENG", *req.DepartmentID)

	_, err := f.engine.Review(ctx, plannerSession, req.ID, models.ApprovalStatusApproved, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden), "got %v", err)

	current, err := store.Get(ctx, 17)
	require.NoError(t, err)
	assert.Equal(t, "OPEN", current.Data["status"])
	stored, err := f.store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, stored.Status)
	assert.Empty(t, f.bus.events())
}

func submitChange(t *testing.T, f *workflowFixture, id int64, oldData, newData models.Fields) *models.ApprovalRequest {
	t.Helper()
	result, err := f.engine.Submit(context.Background(), inputterSession, SubmitInput{
		RequestType: models.RequestTypeChange,
		TableName:   models.TableKTATTA,
		RecordID:    int64Ptr(id),
		OldData:     oldData,
		NewData:     newData,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomePending, result.Outcome)
	return result.Request
}

func TestApproveChangeUpdatesOnlyProposedFields(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableKTATTA]
	store.seed(11, "MMTC", models.Fields{
		"report_date": "2026-02-27",
		"category":    "TTA",
		"description": "Missing guard rail",
		"status":      "OPEN",
		"pic":         "Rudi",
	})
	req := submitChange(t, f, 11, models.Fields{"status": "OPEN"}, models.Fields{"status": "CLOSE"})

	result, err := f.engine.Review(context.Background(), adminSession, req.ID, models.ApprovalStatusApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, result.Status)
	assert.Equal(t, OutcomeApproved, result.Outcome)
	assert.NoError(t, result.ApplyErr)
	assert.Empty(t, result.ApplyError)

	current, err := store.Get(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, models.Fields{
		"report_date": "2026-02-27",
		"category":    "TTA",
		"description": "Missing guard rail",
		"status":      "CLOSE",
		"pic":         "Rudi",
	}, current.Data)
	assert.Equal(t, []string{"kta_tta"}, f.bus.events())

	stored, err := f.store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AppliedAt)
	assert.Nil(t, stored.ApplyError)
	require.NotNil(t, result.Request.AppliedAt)
	assert.Equal(t, *stored.AppliedAt, *result.Request.AppliedAt)
	require.NotNil(t, stored.ReviewedAt)
	assert.True(t, stored.AppliedAt.After(*stored.ReviewedAt))
	assert.Equal(t, []string{
		models.AuditActionApprovalSubmit,
		models.AuditActionApprovalReview,
		models.AuditActionApprovalApply,
	}, f.audit.actions())
}

func TestRejectLeavesRecordUntouched(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableKTATTA]
	before := store.seed(12, "MMTC", models.Fields{"report_date": "2026-02-27", "category": "KTA", "description": "No helmet", "status": "OPEN"})
	req := submitChange(t, f, 12, models.Fields{"status": "OPEN"}, models.Fields{"status": "CLOSE"})

	result, err := f.engine.Review(context.Background(), adminSession, req.ID, models.ApprovalStatusRejected, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, result.Status)
	assert.Equal(t, OutcomeRejected, result.Outcome)

	after, err := store.Get(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, f.bus.events())
}

func TestApproveDeletionScenario(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableCriticalIssues]
	store.seed(42, "MTCENG", models.Fields{"title": "Cracked weld", "status": "OPEN"})
	ctx := context.Background()

	submitted, err := f.engine.Submit(ctx, inputterSession, SubmitInput{
		RequestType: models.RequestTypeDeletion,
		TableName:   models.TableCriticalIssues,
		RecordID:    int64Ptr(42),
		OldData:     models.Fields{"title": "Cracked weld", "status": "OPEN", "department_id": "MTCENG"},
	})
	require.NoError(t, err)
	require.False(t, submitted.Applied)

	result, err := f.engine.Review(ctx, adminSession, submitted.Request.ID, models.ApprovalStatusApproved, nil)
	require.NoError(t, err)
	assert.NoError(t, result.ApplyErr)

	_, err = store.Get(ctx, 42)
	assert.Error(t, err)

	_, err = f.engine.Review(ctx, adminSession, submitted.Request.ID, models.ApprovalStatusApproved, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	assert.Equal(t, []string{"critical_issues"}, f.bus.events())
}

func TestApproveStaleDeletionKeepsDecision(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableCriticalIssues]
	store.seed(50, "MMTC", models.Fields{"title": "Loose cable", "status": "OPEN"})
	ctx := context.Background()

	submitted, err := f.engine.Submit(ctx, inputterSession, SubmitInput{
		RequestType: models.RequestTypeDeletion,
		TableName:   models.TableCriticalIssues,
		RecordID:    int64Ptr(50),
		OldData:     models.Fields{"title": "Loose cable"},
	})
	require.NoError(t, err)
	_, err = store.Delete(ctx, 50)
	require.NoError(t, err)

	result, err := f.engine.Review(ctx, adminSession, submitted.Request.ID, models.ApprovalStatusApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, result.Status)
	require.Error(t, result.ApplyErr)
	assert.True(t, errors.Is(result.ApplyErr, appErrors.ErrStaleRecord))
	assert.NotEmpty(t, result.ApplyError)

	stored, err := f.store.Get(ctx, submitted.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, stored.Status)
	require.NotNil(t, stored.ApplyError)
	assert.Nil(t, stored.AppliedAt)
	assert.Empty(t, f.bus.events())
	assert.Contains(t, f.audit.actions(), models.AuditActionApplyFailed)
}

func TestApproveChangeDetectsDrift(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableKTATTA]
	store.seed(13, "MMTC", models.Fields{"report_date": "2026-02-27", "category": "KTA", "description": "Spill", "status": "OPEN"})
	req := submitChange(t, f, 13, models.Fields{"status": "OPEN", "category": "KTA"}, models.Fields{"status": "CLOSE"})

	_, err := store.Update(context.Background(), 13, models.Fields{"status": "IN_PROGRESS", "category": "TTA"})
	require.NoError(t, err)

	result, err := f.engine.Review(context.Background(), adminSession, req.ID, models.ApprovalStatusApproved, nil)
	require.NoError(t, err)
	assert.True(t, errors.Is(result.ApplyErr, appErrors.ErrStaleRecord))

	current, err := store.Get(context.Background(), 13)
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", current.Data["status"])
}

func TestApproveChangeIgnoresUntouchedDrift(t *testing.T) {
	f := newWorkflowFixture(t)
	store := f.stores[models.TableKTATTA]
	store.seed(14, "MMTC", models.Fields{"report_date": "2026-02-27", "category": "KTA", "description": "Spill", "status": "OPEN"})
	req := submitChange(t, f, 14, models.Fields{"status": "OPEN", "category": "KTA"}, models.Fields{"status": "CLOSE"})

	_, err := store.Update(context.Background(), 14, models.Fields{"category": "TTA"})
	require.NoError(t, err)

	result, err := f.engine.Review(context.Background(), adminSession, req.ID, models.ApprovalStatusApproved, nil)
	require.NoError(t, err)
	require.NoError(t, result.ApplyErr)
}

func TestApproveChangeWithoutStaleCheck(t *testing.T) {
	f := newWorkflowFixture(t, WithStaleCheck(false))
	store := f.stores[models.TableKTATTA]
	store.seed(15, "MMTC", models.Fields{"report_date": "2026-02-27", "category": "KTA", "description": "Spill", "status": "OPEN"})
	req := submitChange(t, f, 15, models.Fields{"status": "OPEN"}, models.Fields{"status": "CLOSE"})

	_, err := store.Update(context.Background(), 15, models.Fields{"status": "IN_PROGRESS"})
	require.NoError(t, err)

	result, err := f.engine.Review(context.Background(), adminSession, req.ID, models.ApprovalStatusApproved, nil)
	require.NoError(t, err)
	require.NoError(t, result.ApplyErr)

	current, err := store.Get(context.Background(), 15)
	require.NoError(t, err)
	assert.Equal(t, "CLOSE", current.Data["status"])
}

func TestApproveCreationInsertsRecord(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	submitted, err := f.engine.Submit(ctx, inputterSession, SubmitInput{
		RequestType: models.RequestTypeCreation,
		TableName:   models.TableEnergyConsumption,
		NewData:     models.Fields{"period": "2026-02", "energy_type": "electricity", "consumption_value": 5120.5, "department_id": "MMTC"},
	})
	require.NoError(t, err)
	assert.Empty(t, f.stores[models.TableEnergyConsumption].records)

	result, err := f.engine.Review(ctx, plannerSession, submitted.Request.ID, models.ApprovalStatusApproved, nil)
	require.NoError(t, err)
	require.NoError(t, result.ApplyErr)
	require.NotNil(t, result.Record)
	assert.Equal(t, "MMTC", result.Record.Department())
	assert.Len(t, f.stores[models.TableEnergyConsumption].records, 1)
	assert.Equal(t, []string{"energy_consumption"}, f.bus.events())
}

func TestReviewAuthorization(t *testing.T) {
	f := newWorkflowFixture(t)
	f.stores[models.TableKTATTA].seed(16, "MTCENG", models.Fields{"report_date": "2026-02-27", "category": "KTA", "description": "Spill", "status": "OPEN"})
	req := submitChange(t, f, 16, models.Fields{"status": "OPEN", "department_id": "MTCENG"}, models.Fields{"status": "CLOSE"})
	ctx := context.Background()

	for _, session := range []models.Session{inputterSession, viewerSession, plannerSession} {
		_, err := f.engine.Review(ctx, session, req.ID, models.ApprovalStatusApproved, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrForbidden), "%s", session.Role)
	}

	stored, err := f.store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, stored.Status)
}

func TestReviewUnknownRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	_, err := f.engine.Review(context.Background(), adminSession, "missing", models.ApprovalStatusApproved, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, f.bus.events())
}

func TestListPendingScopesByRole(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	f.stores[models.TableKTATTA].seed(20, "MMTC", models.Fields{"report_date": "2026-02-27", "category": "KTA", "description": "a", "status": "OPEN"})
	f.stores[models.TableKTATTA].seed(21, "MTCENG", models.Fields{"report_date": "2026-02-27", "category": "KTA", "description": "b", "status": "OPEN"})
	mine := submitChange(t, f, 20, models.Fields{"status": "OPEN", "department_id": "MMTC"}, models.Fields{"status": "CLOSE"})
	other, err := f.engine.Submit(ctx, models.Session{UserID: 30, Role: models.RoleInputter}, SubmitInput{
		RequestType: models.RequestTypeChange,
		TableName:   models.TableKTATTA,
		RecordID:    int64Ptr(21),
		OldData:     models.Fields{"status": "OPEN", "department_id": "MTCENG"},
		NewData:     models.Fields{"status": "CLOSE"},
	})
	require.NoError(t, err)

	page, err := f.engine.ListPending(ctx, inputterSession, models.PendingFilter{}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.ID, page.Items[0].ID)

	page, err = f.engine.ListPending(ctx, plannerSession, models.PendingFilter{}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.ID, page.Items[0].ID)

	page, err = f.engine.ListPending(ctx, adminSession, models.PendingFilter{}, "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	_, err = f.engine.ListPending(ctx, viewerSession, models.PendingFilter{}, "", 10)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.engine.Get(ctx, inputterSession, other.Request.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}
