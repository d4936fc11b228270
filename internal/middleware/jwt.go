package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
	"github.com/noah-isme/opsdash-api/pkg/response"
)

// ContextSessionKey is the gin context key storing the verified session.
const ContextSessionKey = "session"

// TokenVerifier turns an access token into a session.
type TokenVerifier interface {
	Verify(token string) (models.Session, error)
}

// JWT protects routes by requiring a valid bearer token. Websocket upgrades
// may pass the token as the access_token query parameter instead, since
// browsers cannot set headers on them.
func JWT(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		session, err := verifier.Verify(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, session)
		c.Next()
	}
}

// SessionFromContext returns the session stored by JWT.
func SessionFromContext(c *gin.Context) (models.Session, bool) {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return models.Session{}, false
	}
	session, ok := value.(models.Session)
	return session, ok
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("access_token"); token != "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			return token, nil
		}
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
