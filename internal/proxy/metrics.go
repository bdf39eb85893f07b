package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/microgw/internal/circuitbreaker"
)

// Metrics contains Prometheus metrics for upstream calls.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
}

// NewMetrics creates proxy metrics. Collectors must be registered by the
// caller via Collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	return &Metrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "upstream_attempts_total",
				Help:      "Total number of upstream call attempts by outcome",
			},
			[]string{"backend", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "backend_duration_seconds",
				Help:      "Duration of upstream call attempts until response headers",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"backend"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "retries_total",
				Help:      "Total number of retried upstream attempts",
			},
			[]string{"backend"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Total number of forwards that ended without a backend response",
			},
			[]string{"backend", "error_type"},
		),
	}
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.attemptsTotal, m.attemptDuration, m.retriesTotal, m.errorsTotal}
}

func (m *Metrics) recordAttempt(backend string, o circuitbreaker.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(backend, o.String()).Inc()
	m.attemptDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) recordRetry(backend string) {
	if m != nil {
		m.retriesTotal.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) recordError(backend string, k Kind) {
	if m != nil {
		m.errorsTotal.WithLabelValues(backend, k.String()).Inc()
	}
}
