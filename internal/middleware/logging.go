package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/microgw/internal/auth/jwt"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

// Logging returns a middleware that writes one access log line per request,
// including the authenticated subject when there is one. Requests to
// skipPaths are not logged.
func Logging(logger observability.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []observability.Field{
			observability.String("method", c.Request.Method),
			observability.String("path", path),
			observability.String("query", c.Request.URL.RawQuery),
			observability.Int("status", status),
			observability.Duration("latency", time.Since(start)),
			observability.String("route", GetRoute(c)),
			observability.String("clientIP", c.ClientIP()),
			observability.Int("bodySize", c.Writer.Size()),
		}
		if p, ok := jwt.PrincipalFromContext(c.Request.Context()); ok {
			fields = append(fields, observability.String("subject", p.Subject))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, observability.String("errors", c.Errors.String()))
		}

		l := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			l.Error("request completed", fields...)
		case status >= 400:
			l.Warn("request completed", fields...)
		default:
			l.Info("request completed", fields...)
		}
	}
}
