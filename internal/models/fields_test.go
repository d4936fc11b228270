package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsValueAndScan(t *testing.T) {
	v, err := Fields(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	v, err = Fields{"status": "OPEN"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"status":"OPEN"}`, v)

	var f Fields
	require.NoError(t, f.Scan([]byte(`{"status":"CLOSE","count":2}`)))
	assert.Equal(t, "CLOSE", f["status"])
	assert.Equal(t, float64(2), f["count"])

	require.NoError(t, f.Scan(nil))
	assert.Nil(t, f)
	assert.Error(t, f.Scan(42))
}

func TestRecordSnapshotIncludesDepartment(t *testing.T) {
	dept := "MMTC"
	rec := &Record{ID: 42, DepartmentID: &dept, Data: Fields{"status": "OPEN"}}
	snap := rec.Snapshot()
	assert.Equal(t, Fields{"status": "OPEN", "department_id": "MMTC"}, snap)

	snap["status"] = "CLOSE"
	assert.Equal(t, "OPEN", rec.Data["status"])
	assert.Equal(t, "MMTC", rec.Department())
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RolePlanner, ParseRole(" planner "))
	assert.True(t, ParseRole("inputter").Valid())
	assert.False(t, ParseRole("superadmin").Valid())
}
