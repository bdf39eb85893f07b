package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/microgw/internal/observability"
)

// Metrics returns a middleware that records request count, duration and
// in-flight requests. The route label is the route id, never the raw path.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.IncActive()
		start := time.Now()
		defer func() {
			m.DecActive()
			m.RecordRequest(c.Request.Method, GetRoute(c), c.Writer.Status(), time.Since(start))
		}()
		c.Next()
	}
}
