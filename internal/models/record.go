package models

import "time"

// TableName identifies a category of operational record.
type TableName string

const (
	TableEquipmentStatus     TableName = "equipment_status"
	TableKTATTA              TableName = "kta_tta"
	TableCriticalIssues      TableName = "critical_issues"
	TableMaintenanceRoutines TableName = "maintenance_routines"
	TableSafetyIncidents     TableName = "safety_incidents"
	TableEnergyTargets       TableName = "energy_targets"
	TableEnergyConsumption   TableName = "energy_consumption"
)

// FieldDepartmentID is lifted out of Data into its own column.
const FieldDepartmentID = "department_id"

// Record is a persisted operational entity (equipment status, KTA/TTA entry,
// critical issue, ...). Category specific attributes live in Data.
type Record struct {
	ID           int64     `db:"id" json:"id"`
	Table        TableName `db:"-" json:"table"`
	DepartmentID *string   `db:"department_id" json:"departmentId,omitempty"`
	Data         Fields    `db:"data" json:"data"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Snapshot returns the record attributes suitable for an old-data snapshot.
func (r *Record) Snapshot() Fields {
	if r == nil {
		return nil
	}
	snap := r.Data.Clone()
	if snap == nil {
		snap = Fields{}
	}
	if r.DepartmentID != nil {
		snap[FieldDepartmentID] = *r.DepartmentID
	}
	return snap
}

// Department returns the owning department or "" for global records.
func (r *Record) Department() string {
	if r == nil || r.DepartmentID == nil {
		return ""
	}
	return *r.DepartmentID
}

// RecordFilter constrains record listings.
type RecordFilter struct {
	DepartmentID string
	Limit        int
	Offset       int
}
