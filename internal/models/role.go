package models

import "strings"

// Role is the dashboard role attached to a session.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RolePlanner  Role = "PLANNER"
	RoleInputter Role = "INPUTTER"
	RoleViewer   Role = "VIEWER"
)

// ParseRole normalises a raw role string. Unrecognised values are returned
// as-is so policy checks can fail closed on them.
func ParseRole(raw string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(raw)))
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePlanner, RoleInputter, RoleViewer:
		return true
	}
	return false
}

// Session identifies the acting user. It is immutable for the lifetime of a request.
type Session struct {
	UserID       int64  `json:"userId"`
	Role         Role   `json:"role"`
	DepartmentID string `json:"departmentId,omitempty"`
}
