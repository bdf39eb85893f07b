package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds breaker metrics. A nil *Metrics records nothing.
type Metrics struct {
	state        *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	calls        *prometheus.CounterVec
	notPermitted *prometheus.CounterVec
}

// NewMetrics creates breaker metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"backend"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "transitions_total",
				Help:      "Total number of breaker state transitions",
			},
			[]string{"backend", "from", "to"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "calls_total",
				Help:      "Completed calls recorded by breakers, by outcome",
			},
			[]string{"backend", "outcome"},
		),
		notPermitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "not_permitted_total",
				Help:      "Calls rejected without contacting the backend",
			},
			[]string{"backend"},
		),
	}
}

// Collectors returns the collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.state, m.transitions, m.calls, m.notPermitted}
}

func (m *Metrics) setState(backend string, s State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(backend).Set(float64(s))
}

func (m *Metrics) recordTransition(backend string, from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(backend, from.String(), to.String()).Inc()
	m.state.WithLabelValues(backend).Set(float64(to))
}

func (m *Metrics) recordOutcome(backend string, o Outcome) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(backend, o.String()).Inc()
}

func (m *Metrics) recordRejection(backend string) {
	if m == nil {
		return
	}
	m.notPermitted.WithLabelValues(backend).Inc()
}
