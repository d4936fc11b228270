package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the access token payload minted by the site SSO.
type JWTClaims struct {
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

// Session converts verified claims into the session consumed by the core.
func (c *JWTClaims) Session() Session {
	return Session{
		UserID:       c.UserID,
		Role:         ParseRole(c.Role),
		DepartmentID: c.DepartmentID,
	}
}
