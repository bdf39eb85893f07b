// Package proxy forwards requests to backend services for the API Gateway.
//
// A Forwarder makes one logical call to a route's backend. Every attempt
// first asks the backend's circuit breaker for a permit, runs under its own
// call timeout and records exactly one outcome. Timeouts, connection failures
// and (by policy) 5xx responses are retried with exponential backoff, up to
// maxRetryAttempts additional attempts. Failures surface as *GatewayError.
//
// # Usage
//
//	fwd := proxy.NewForwarder(registry,
//	    proxy.WithLogger(logger),
//	    proxy.WithTracer(tracer),
//	)
//	resp, err := fwd.Forward(ctx, route, r, body)
//
// Attempts are detached from the caller's cancellation: a client that goes
// away does not abort a call already in flight, it only prevents further
// retries.
package proxy
