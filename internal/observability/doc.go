// Package observability provides logging, metrics, and tracing for the gateway.
//
// # Logging
//
// Logger wraps zap; request and trace identifiers stored in a context are
// attached by WithContext:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.WithContext(ctx).Info("request forwarded",
//	    observability.String("route", route.ID),
//	    observability.Int("status", 200),
//	)
//
// Logr adapts a Logger for libraries that expect a logr.Logger.
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Components register their own
// collectors into it and Handler exposes the result:
//
//	metrics := observability.NewMetrics("gateway")
//	_ = metrics.RegisterCollector(breakerMetrics.Collectors()...)
//
// # Tracing
//
// NewTracer installs an OpenTelemetry provider exporting over OTLP/gRPC and a
// W3C trace-context propagator. A disabled config yields a no-op tracer.
package observability
