package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPObserver records request timings.
type HTTPObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Metrics records every request against its route template. Requests that
// match no route share one label so random paths cannot blow up cardinality.
func Metrics(observer HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if observer == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observer.ObserveHTTPRequest(c.Request.Method, route, status, time.Since(start))
	}
}
