package retry

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/vyrodovalexey/microgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/microgw/internal/config"
)

// ClassifyError maps a transport error to a breaker outcome: deadline and
// net timeouts are OutcomeTimeout, everything else is OutcomeUnreachable.
func ClassifyError(err error) circuitbreaker.Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return circuitbreaker.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return circuitbreaker.OutcomeTimeout
	}
	return circuitbreaker.OutcomeUnreachable
}

// ClassifyStatus maps a response status code to a breaker outcome.
func ClassifyStatus(code int) circuitbreaker.Outcome {
	switch {
	case code >= 500:
		return circuitbreaker.OutcomeServerError
	case code >= 400:
		return circuitbreaker.OutcomeClientError
	default:
		return circuitbreaker.OutcomeSuccess
	}
}

// Policy decides whether and when a failed attempt is retried.
type Policy struct {
	MaxRetries        int
	Backoff           Backoff
	RetryServerErrors bool
	methods           map[string]bool
}

// NewPolicy builds a policy from a breaker policy.
func NewPolicy(p config.BreakerPolicy) Policy {
	pol := Policy{
		MaxRetries:        p.Retries(),
		Backoff:           NewExponentialBackoff(p.RetryBackoff),
		RetryServerErrors: p.RetriesServerErrors(),
	}
	if len(p.RetryMethods) > 0 {
		pol.methods = make(map[string]bool, len(p.RetryMethods))
		for _, m := range p.RetryMethods {
			pol.methods[strings.ToUpper(m)] = true
		}
	}
	return pol
}

// AllowsMethod reports whether requests with this method may be retried.
func (p Policy) AllowsMethod(method string) bool {
	return p.methods == nil || p.methods[method]
}

// Retryable reports whether an attempt with this outcome may be retried.
// Client errors never are.
func (p Policy) Retryable(o circuitbreaker.Outcome) bool {
	switch o {
	case circuitbreaker.OutcomeTimeout, circuitbreaker.OutcomeUnreachable:
		return true
	case circuitbreaker.OutcomeServerError:
		return p.RetryServerErrors
	default:
		return false
	}
}

// Attempts returns the maximum number of backend calls for one request with method.
func (p Policy) Attempts(method string) int {
	if !p.AllowsMethod(method) {
		return 1
	}
	return p.MaxRetries + 1
}

// Budget is the longest a request can spend in attempts and backoff, given
// the per-attempt timeout.
func (p Policy) Budget(callTimeout time.Duration) time.Duration {
	return callTimeout*time.Duration(p.MaxRetries+1) + Total(p.Backoff, p.MaxRetries)
}

// Wait sleeps for d or until ctx is done, whichever is first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
