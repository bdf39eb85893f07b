// Package middleware provides the gin middleware chain of the gateway:
// request ids, access logging, panic recovery, tracing, request metrics and
// CORS.
package middleware
