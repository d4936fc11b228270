package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
	allowMethods = "GET, POST, PATCH, DELETE, OPTIONS"
)

// Origins is a parsed allow-list. An empty list or a "*" entry allows every
// origin.
type Origins struct {
	all bool
	set map[string]struct{}
}

// NewOrigins parses allowedOrigins, ignoring trailing slashes.
func NewOrigins(allowedOrigins []string) Origins {
	o := Origins{all: len(allowedOrigins) == 0, set: make(map[string]struct{}, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			o.all = true
			continue
		}
		o.set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return o
}

// AllowAll reports whether every origin is accepted.
func (o Origins) AllowAll() bool { return o.all }

// Allowed reports whether origin is on the list.
func (o Origins) Allowed(origin string) bool {
	if o.all {
		return true
	}
	_, ok := o.set[strings.TrimRight(origin, "/")]
	return ok
}

// New returns a CORS middleware for the dashboard front-end.
func New(allowedOrigins []string) gin.HandlerFunc {
	origins := NewOrigins(allowedOrigins)

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case origin != "" && origins.Allowed(origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		case origin == "" && origins.AllowAll():
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Vary", "Origin")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
