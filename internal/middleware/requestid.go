package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/microgw/internal/observability"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key for request ID.
	RequestIDKey = "requestID"
	// RouteKey is the gin context key under which handlers store the id of
	// the route serving the request.
	RouteKey = "route"
)

// maxRequestIDLength bounds client supplied request ids.
const maxRequestIDLength = 128

// RequestID returns a middleware that reuses or generates a request ID and
// stores it in the gin context, the request context and the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// GetRequestID returns the request ID from the context.
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// SetRoute records the route serving the request for logs and metrics.
func SetRoute(c *gin.Context, id string) {
	c.Set(RouteKey, id)
}

// GetRoute returns the route id stored by SetRoute. Requests to the
// gateway's own endpoints report their path template, and anything else
// observability.UnmatchedRoute.
func GetRoute(c *gin.Context) string {
	if id := c.GetString(RouteKey); id != "" {
		return id
	}
	if p := c.FullPath(); p != "" {
		return p
	}
	return observability.UnmatchedRoute
}
