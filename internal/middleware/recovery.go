package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/microgw/internal/observability"
)

// Recovery returns a middleware that turns a handler panic into a logged 500.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithContext(c.Request.Context()).Error("panic recovered",
					observability.Any("error", err),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.String("stack", string(debug.Stack())),
				)

				trace.SpanFromContext(c.Request.Context()).RecordError(fmt.Errorf("panic: %v", err))

				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error":   "internal_error",
						"message": "An unexpected error occurred",
					})
					return
				}
				c.Abort()
			}
		}()

		c.Next()
	}
}
