package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/microgw/internal/circuitbreaker"
)

// BreakerSource exposes the current circuit breakers.
type BreakerSource interface {
	BreakerStats() []circuitbreaker.Stats
}

// BreakersResponse is the body of the circuit breaker endpoint.
type BreakersResponse struct {
	CircuitBreakers []circuitbreaker.Stats `json:"circuitBreakers"`
}

// CircuitBreakersHandler serves a read-only snapshot of every breaker.
func CircuitBreakersHandler(src BreakerSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := src.BreakerStats()
		if stats == nil {
			stats = []circuitbreaker.Stats{}
		}
		c.JSON(http.StatusOK, BreakersResponse{CircuitBreakers: stats})
	}
}

// KeySetCheck reports DEGRADED while the key set has never been fetched or is
// older than maxAge.
func KeySetCheck(lastRefresh func() time.Time, maxAge time.Duration, now func() time.Time) CheckFunc {
	return func(context.Context) Check {
		last := lastRefresh()
		switch {
		case last.IsZero():
			return Check{Status: StatusDegraded, Message: "key set not fetched yet"}
		case now().Sub(last) > maxAge:
			return Check{Status: StatusDegraded, Message: "key set is stale"}
		default:
			return Check{Status: StatusUp}
		}
	}
}
