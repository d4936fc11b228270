package models

// TableSchema describes the fields the workflow reads and writes for a table.
type TableSchema struct {
	Name             TableName
	RequiredFields   []string
	OptionalFields   []string
	DepartmentScoped bool
}

// DefaultSchemas lists the operational tables exposed by the dashboard.
func DefaultSchemas() []TableSchema {
	return []TableSchema{
		{
			Name:             TableEquipmentStatus,
			RequiredFields:   []string{"equipment_code", "status", "report_date"},
			OptionalFields:   []string{FieldDepartmentID, "hours_operated", "downtime_hours", "remarks"},
			DepartmentScoped: true,
		},
		{
			Name:             TableKTATTA,
			RequiredFields:   []string{"report_date", "category", "description"},
			OptionalFields:   []string{FieldDepartmentID, "status", "location", "pic", "due_date", "remarks"},
			DepartmentScoped: true,
		},
		{
			Name:             TableCriticalIssues,
			RequiredFields:   []string{"title", "status"},
			OptionalFields:   []string{FieldDepartmentID, "description", "priority", "pic", "due_date", "remarks"},
			DepartmentScoped: true,
		},
		{
			Name:             TableMaintenanceRoutines,
			RequiredFields:   []string{"equipment_code", "activity", "scheduled_date"},
			OptionalFields:   []string{FieldDepartmentID, "status", "completed_date", "technician", "remarks"},
			DepartmentScoped: true,
		},
		{
			Name:             TableSafetyIncidents,
			RequiredFields:   []string{"incident_date", "severity", "description"},
			OptionalFields:   []string{FieldDepartmentID, "location", "injured_count", "root_cause", "status", "remarks"},
			DepartmentScoped: true,
		},
		{
			Name:           TableEnergyTargets,
			RequiredFields: []string{"period", "energy_type", "target_value"},
			OptionalFields: []string{"unit", "remarks"},
		},
		{
			Name:             TableEnergyConsumption,
			RequiredFields:   []string{"period", "energy_type", "consumption_value"},
			OptionalFields:   []string{FieldDepartmentID, "unit", "meter_id", "remarks"},
			DepartmentScoped: true,
		},
	}
}
