// Package policy holds the role rules for operational data mutations.
// Every function is pure and total: unknown roles get no privileges.
package policy

import (
	"strings"

	"github.com/noah-isme/opsdash-api/internal/models"
)

// RequiresApproval reports whether mutations by role must go through review.
// Only ADMIN and PLANNER mutate directly; every other role, including
// VIEWER and unrecognised values, is gated.
func RequiresApproval(role models.Role) bool {
	switch role {
	case models.RoleAdmin, models.RolePlanner:
		return false
	default:
		return true
	}
}

// CanMutate reports whether role may reach a mutation entry point at all.
func CanMutate(role models.Role) bool {
	switch role {
	case models.RoleAdmin, models.RolePlanner, models.RoleInputter:
		return true
	default:
		return false
	}
}

// CanEditCategory decides whether role may edit records of a category owned
// by categoryScope. An empty scope marks a global category.
func CanEditCategory(role models.Role, userDepartment, categoryScope string) bool {
	switch role {
	case models.RoleAdmin, models.RoleInputter:
		return true
	case models.RolePlanner:
		scope := strings.TrimSpace(categoryScope)
		return scope == "" || strings.EqualFold(scope, strings.TrimSpace(userDepartment))
	default:
		return false
	}
}

// CanDelete reports whether role may delete records directly.
func CanDelete(role models.Role) bool {
	return role == models.RoleAdmin
}

// CanReview reports whether role may decide approval requests.
func CanReview(role models.Role) bool {
	return role == models.RoleAdmin || role == models.RolePlanner
}

// Summary is the permission set a dashboard view needs to render controls.
type Summary struct {
	CanEdit          bool `json:"canEdit"`
	CanDelete        bool `json:"canDelete"`
	RequiresApproval bool `json:"requiresApproval"`
	CanReview        bool `json:"canReview"`
}

// Summarize evaluates every rule for a session against a category scope.
func Summarize(session models.Session, categoryScope string) Summary {
	return Summary{
		CanEdit:          CanEditCategory(session.Role, session.DepartmentID, categoryScope),
		CanDelete:        CanDelete(session.Role),
		RequiresApproval: RequiresApproval(session.Role),
		CanReview:        CanReview(session.Role),
	}
}
