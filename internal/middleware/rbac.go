package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
	"github.com/noah-isme/opsdash-api/pkg/response"
)

// RequireRoles lets the request through only for the listed roles.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[session.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Mutators blocks roles that may never modify operational data.
func Mutators() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin, models.RolePlanner, models.RoleInputter)
}
