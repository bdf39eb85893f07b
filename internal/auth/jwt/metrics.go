package jwt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token validation and key refresh.
type Metrics struct {
	validationTotal     *prometheus.CounterVec
	validationDuration  prometheus.Histogram
	jwksRefreshTotal    *prometheus.CounterVec
	jwksRefreshDuration prometheus.Histogram
	keySetAge           prometheus.Gauge
}

// NewMetrics creates a new Metrics instance. Collectors must be registered by
// the caller via Collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{}

	m.validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "validation_total",
			Help:      "Total number of token validations by result",
		},
		[]string{"result"},
	)

	m.validationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "validation_duration_seconds",
			Help:      "Duration of token validation in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	m.jwksRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "jwks_refresh_total",
			Help:      "Total number of key set refreshes by status",
		},
		[]string{"status"},
	)

	m.jwksRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "jwks_refresh_duration_seconds",
			Help:      "Duration of key set refreshes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.keySetAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "jwks_last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful key set refresh",
		},
	)

	for _, status := range []string{"success", "error"} {
		m.jwksRefreshTotal.WithLabelValues(status)
	}

	return m
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.validationTotal,
		m.validationDuration,
		m.jwksRefreshTotal,
		m.jwksRefreshDuration,
		m.keySetAge,
	}
}

func (m *Metrics) recordValidation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.validationTotal.WithLabelValues(result).Inc()
	m.validationDuration.Observe(d.Seconds())
}

func (m *Metrics) recordRefresh(err error, d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.keySetAge.Set(float64(at.Unix()))
	}
	m.jwksRefreshTotal.WithLabelValues(status).Inc()
	m.jwksRefreshDuration.Observe(d.Seconds())
}
