// Package health serves the gateway's actuator endpoints: liveness with
// optional component checks, and a read-only view of the circuit breakers.
//
// # Usage
//
//	checker := health.NewChecker(version)
//	checker.RegisterCheck("jwks", keyCacheCheck)
//
//	engine.GET("/actuator/health", checker.Handler())
//	engine.GET("/actuator/circuitbreakers", health.CircuitBreakersHandler(gw))
package health
