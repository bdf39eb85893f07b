// Package gateway wires the request pipeline and serves it over HTTP.
//
// Every proxied request passes, in order and short-circuiting on the first
// terminal outcome, through CORS preflight handling, route resolution, bearer
// token enforcement on protected routes and the resilient forwarder. The
// gateway also serves its own actuator and API documentation endpoints,
// which never require a token.
//
// Routes, breakers and the forwarder form one runtime that is replaced
// wholesale when a valid configuration is reloaded.
package gateway
