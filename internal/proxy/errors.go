package proxy

import (
	"errors"
	"fmt"
)

// Kind classifies a forwarding failure.
type Kind int

const (
	// KindBreakerOpen means the backend's breaker refused the call.
	KindBreakerOpen Kind = iota
	// KindTimeout means the call did not complete within its timeout.
	KindTimeout
	// KindUnreachable means no connection to the backend could be made.
	KindUnreachable
	// KindExhaustedRetries means every allowed attempt failed.
	KindExhaustedRetries
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindBreakerOpen:
		return "BREAKER_OPEN"
	case KindTimeout:
		return "TIMEOUT"
	case KindUnreachable:
		return "UPSTREAM_UNREACHABLE"
	case KindExhaustedRetries:
		return "EXHAUSTED_RETRIES"
	default:
		return "UNKNOWN"
	}
}

// ErrBodyTooLarge is returned when a request body exceeds the buffering limit.
var ErrBodyTooLarge = errors.New("request body too large")

// GatewayError is returned by Forward when no backend response is passed back.
type GatewayError struct {
	Kind     Kind
	Backend  string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream %s: %s after %d attempt(s): %v", e.Backend, e.Kind, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("upstream %s: %s after %d attempt(s)", e.Backend, e.Kind, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is matches a bare *GatewayError of the same kind.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	return ok && t.Backend == "" && t.Cause == nil && t.Kind == e.Kind
}

// Targets for errors.Is.
var (
	ErrBreakerOpen      = &GatewayError{Kind: KindBreakerOpen}
	ErrTimeout          = &GatewayError{Kind: KindTimeout}
	ErrUnreachable      = &GatewayError{Kind: KindUnreachable}
	ErrExhaustedRetries = &GatewayError{Kind: KindExhaustedRetries}
)

// KindOf returns the kind of a gateway error.
func KindOf(err error) (Kind, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}
