package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/microgw/internal/auth/jwt"
	"github.com/vyrodovalexey/microgw/internal/proxy"
	"github.com/vyrodovalexey/microgw/internal/router"
)

// StatusClientClosedRequest is returned when the caller went away first.
const StatusClientClosedRequest = 499

// Sentinel errors for gateway operations.
var (
	// ErrGatewayNotStopped indicates that the gateway is not in
	// stopped state when a start operation is attempted.
	ErrGatewayNotStopped = errors.New("gateway is not in stopped state")

	// ErrGatewayNotRunning indicates that the gateway is not
	// running when a stop operation is attempted.
	ErrGatewayNotRunning = errors.New("gateway is not running")

	// ErrNilConfig indicates that a nil configuration was provided.
	ErrNilConfig = errors.New("configuration is required")

	// ErrUnauthenticated indicates a protected route was called without a
	// bearer credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNoAuthenticator indicates a protected route with no token validator
	// configured. Such requests are always rejected.
	ErrNoAuthenticator = errors.New("no authenticator configured")

	// ErrBadRequest indicates the request body could not be read.
	ErrBadRequest = errors.New("bad request")
)

// rejection is the caller-visible form of a pipeline error. Message is fixed
// per category so no internal detail reaches the caller.
type rejection struct {
	status    int
	code      string
	message   string
	reason    string
	challenge string
}

// classify maps a pipeline error onto its rejection.
func classify(err error) rejection {
	if kind, ok := jwt.KindOf(err); ok {
		return rejection{
			status:    http.StatusUnauthorized,
			code:      "invalid_token",
			message:   "Invalid or expired credentials",
			reason:    strings.ToLower(kind.String()),
			challenge: `Bearer error="invalid_token"`,
		}
	}
	if kind, ok := proxy.KindOf(err); ok {
		r := rejection{reason: strings.ToLower(kind.String())}
		switch kind {
		case proxy.KindBreakerOpen, proxy.KindExhaustedRetries:
			r.status, r.code, r.message = http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable"
		case proxy.KindTimeout:
			r.status, r.code, r.message = http.StatusGatewayTimeout, "gateway_timeout", "Upstream service timed out"
		default:
			r.status, r.code, r.message = http.StatusBadGateway, "bad_gateway", "Upstream service unreachable"
		}
		return r
	}

	switch {
	case errors.Is(err, router.ErrRouteNotFound):
		return rejection{status: http.StatusNotFound, code: "not_found", message: "No route matches the request", reason: "route_not_found"}
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrNoAuthenticator):
		return rejection{
			status:    http.StatusUnauthorized,
			code:      "unauthorized",
			message:   "Authentication required",
			reason:    "unauthenticated",
			challenge: "Bearer",
		}
	case errors.Is(err, proxy.ErrBodyTooLarge):
		return rejection{status: http.StatusRequestEntityTooLarge, code: "payload_too_large", message: "Request body too large", reason: "body_too_large"}
	case errors.Is(err, ErrBadRequest):
		return rejection{status: http.StatusBadRequest, code: "bad_request", message: "Request body could not be read", reason: "bad_request"}
	case errors.Is(err, context.Canceled):
		return rejection{status: StatusClientClosedRequest, code: "client_closed_request", message: "Client closed request", reason: "client_closed"}
	case errors.Is(err, context.DeadlineExceeded):
		return rejection{status: http.StatusGatewayTimeout, code: "gateway_timeout", message: "Upstream service timed out", reason: "timeout"}
	default:
		return rejection{status: http.StatusInternalServerError, code: "internal_error", message: "An unexpected error occurred", reason: "internal_error"}
	}
}
