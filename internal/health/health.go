package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/utils/clock"
)

// DefaultCheckTimeout bounds all component checks of one health request.
const DefaultCheckTimeout = 2 * time.Second

// Status represents the health status.
type Status string

const (
	// StatusUp indicates the component is working.
	StatusUp Status = "UP"
	// StatusDegraded indicates the component works with reduced guarantees.
	StatusDegraded Status = "DEGRADED"
	// StatusDown indicates the component is not working.
	StatusDown Status = "DOWN"
)

// Response is the body of the health endpoint.
type Response struct {
	Status     Status           `json:"status"`
	Version    string           `json:"version,omitempty"`
	Uptime     string           `json:"uptime"`
	Timestamp  time.Time        `json:"timestamp"`
	Components map[string]Check `json:"components,omitempty"`
}

// Check is the result of one component check.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc reports the health of one component.
type CheckFunc func(ctx context.Context) Check

// Checker aggregates component checks into the gateway's health.
type Checker struct {
	version   string
	clock     clock.PassiveClock
	startTime time.Time
	timeout   time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock sets the time source.
func WithClock(c clock.PassiveClock) Option {
	return func(ch *Checker) {
		ch.clock = c
	}
}

// WithCheckTimeout bounds the component checks of one request.
func WithCheckTimeout(d time.Duration) Option {
	return func(ch *Checker) {
		ch.timeout = d
	}
}

// NewChecker creates a checker. Uptime is measured from this call.
func NewChecker(version string, opts ...Option) *Checker {
	c := &Checker{
		version: version,
		clock:   clock.RealClock{},
		timeout: DefaultCheckTimeout,
		checks:  make(map[string]CheckFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.clock.Now()
	return c
}

// RegisterCheck registers a component check, replacing any with the same name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a component check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Uptime returns the time since the checker was created.
func (c *Checker) Uptime() time.Duration {
	return c.clock.Since(c.startTime)
}

// Health runs every component check. The overall status is the worst
// component status, or UP when there are none.
func (c *Checker) Health(ctx context.Context) Response {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	names := make([]string, 0, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	resp := Response{
		Status:    StatusUp,
		Version:   c.version,
		Uptime:    c.Uptime().Round(time.Second).String(),
		Timestamp: c.clock.Now().UTC(),
	}
	if len(names) == 0 {
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp.Components = make(map[string]Check, len(names))
	for _, name := range names {
		check := checks[name](ctx)
		resp.Components[name] = check
		resp.Status = worst(resp.Status, check.Status)
	}
	return resp
}

func worst(a, b Status) Status {
	rank := map[Status]int{StatusUp: 0, StatusDegraded: 1, StatusDown: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Handler serves the health endpoint: 200 unless a component is DOWN.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		resp := c.Health(ctx.Request.Context())
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, resp)
	}
}
