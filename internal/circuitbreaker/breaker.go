package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/vyrodovalexey/microgw/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed lets calls through and records their outcomes.
	StateClosed State = iota

	// StateOpen rejects all calls.
	StateOpen

	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned by Acquire while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrProbeInFlight is returned by Acquire while a half-open probe is outstanding.
var ErrProbeInFlight = errors.New("circuit breaker probe already in flight")

// Outcome classifies a completed backend call.
type Outcome int

const (
	// OutcomeSuccess is a 1xx-3xx response.
	OutcomeSuccess Outcome = iota
	// OutcomeClientError is a 4xx response; it does not count as a failure.
	OutcomeClientError
	// OutcomeServerError is a 5xx response.
	OutcomeServerError
	// OutcomeTimeout is a call that exceeded its timeout.
	OutcomeTimeout
	// OutcomeUnreachable is a connection-level failure.
	OutcomeUnreachable
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeClientError:
		return "client_error"
	case OutcomeServerError:
		return "server_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Failed reports whether the outcome counts against the failure rate.
func (o Outcome) Failed() bool {
	return o == OutcomeServerError || o == OutcomeTimeout || o == OutcomeUnreachable
}

// Breaker guards one backend.
type Breaker struct {
	name    string
	cfg     Config
	clock   clock.PassiveClock
	logger  observability.Logger
	metrics *Metrics

	mu            sync.Mutex
	state         State
	window        *window
	openedAt      time.Time
	probeInFlight bool
	epoch         uint64
	notPermitted  int64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock sets the time source.
func WithClock(c clock.PassiveClock) Option {
	return func(b *Breaker) {
		b.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(b *Breaker) {
		b.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// New creates a closed breaker. Out-of-range settings fall back to defaults.
func New(name string, cfg Config, opts ...Option) *Breaker {
	cfg = cfg.normalized()
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		clock:  clock.RealClock{},
		logger: observability.NopLogger(),
		state:  StateClosed,
		window: newWindow(cfg.SlidingWindowSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.setState(name, StateClosed)
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the breaker's effective configuration.
func (b *Breaker) Config() Config {
	return b.cfg
}

// State returns the current state without applying the lazy OPEN to
// HALF_OPEN transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Acquire asks for permission to make one call. On success the returned
// Permit must be completed with Record, or Release if no call was made.
func (b *Breaker) Acquire() (*Permit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.clock.Since(b.openedAt) < b.cfg.OpenStateWaitDuration {
			return nil, b.reject(ErrCircuitOpen)
		}
		b.transitionTo(StateHalfOpen)
		b.probeInFlight = true
		return b.permit(true), nil

	case StateHalfOpen:
		if b.probeInFlight {
			return nil, b.reject(ErrProbeInFlight)
		}
		b.probeInFlight = true
		return b.permit(true), nil

	default:
		return b.permit(false), nil
	}
}

func (b *Breaker) permit(probe bool) *Permit {
	return &Permit{breaker: b, epoch: b.epoch, probe: probe}
}

func (b *Breaker) reject(err error) error {
	b.notPermitted++
	b.metrics.recordRejection(b.name)
	return err
}

// record applies one outcome. Must be called with mu held.
func (b *Breaker) record(p *Permit, outcome Outcome, latency time.Duration) {
	b.metrics.recordOutcome(b.name, outcome)

	if p.epoch != b.epoch {
		return
	}

	s := sample{
		failed: outcome.Failed(),
		slow:   b.cfg.SlowCallDurationThreshold > 0 && latency >= b.cfg.SlowCallDurationThreshold,
	}

	switch b.state {
	case StateClosed:
		b.window.add(s)
		if b.window.full() && b.exceedsThresholds() {
			b.logger.Warn("circuit breaker tripped",
				observability.String("backend", b.name),
				observability.Float64("failure_rate", b.window.failureRate()),
				observability.Float64("slow_call_rate", b.window.slowRate()),
			)
			b.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		if !p.probe {
			return
		}
		b.probeInFlight = false
		if s.failed {
			b.transitionTo(StateOpen)
		} else {
			b.transitionTo(StateClosed)
		}
	}
}

func (b *Breaker) exceedsThresholds() bool {
	if b.window.failureRate() >= b.cfg.FailureRateThreshold {
		return true
	}
	return b.cfg.SlowCallRateThreshold > 0 &&
		b.cfg.SlowCallDurationThreshold > 0 &&
		b.window.slowRate() >= b.cfg.SlowCallRateThreshold
}

// transitionTo changes state and starts a new epoch. Must be called with mu held.
func (b *Breaker) transitionTo(to State) {
	from := b.state
	b.state = to
	b.epoch++

	switch to {
	case StateOpen:
		b.openedAt = b.clock.Now()
		b.probeInFlight = false
	case StateClosed:
		b.window.reset()
		b.probeInFlight = false
	}

	b.metrics.recordTransition(b.name, from, to)
	b.logger.Info("circuit breaker state changed",
		observability.String("backend", b.name),
		observability.String("from", from.String()),
		observability.String("to", to.String()),
	)
}

// Stats is a read-only snapshot of a breaker.
type Stats struct {
	Name                 string     `json:"name"`
	State                string     `json:"state"`
	SlidingWindowSize    int        `json:"slidingWindowSize"`
	BufferedCalls        int        `json:"bufferedCalls"`
	FailedCalls          int        `json:"failedCalls"`
	SlowCalls            int        `json:"slowCalls"`
	FailureRate          float64    `json:"failureRate"`
	SlowCallRate         float64    `json:"slowCallRate"`
	FailureRateThreshold float64    `json:"failureRateThreshold"`
	NotPermittedCalls    int64      `json:"notPermittedCalls"`
	OpenedAt             *time.Time `json:"openedAt,omitempty"`
}

// Stats returns a snapshot. Rates are -1 until the window is full, since no
// decision is taken on a partial window.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Stats{
		Name:                 b.name,
		State:                b.state.String(),
		SlidingWindowSize:    b.cfg.SlidingWindowSize,
		BufferedCalls:        b.window.count,
		FailedCalls:          b.window.failures,
		SlowCalls:            b.window.slow,
		FailureRate:          -1,
		SlowCallRate:         -1,
		FailureRateThreshold: b.cfg.FailureRateThreshold,
		NotPermittedCalls:    b.notPermitted,
	}
	if b.window.full() {
		st.FailureRate = b.window.failureRate()
		st.SlowCallRate = b.window.slowRate()
	}
	if b.state != StateClosed {
		openedAt := b.openedAt
		st.OpenedAt = &openedAt
	}
	return st
}

// Permit is the right to make exactly one call. It is completed once; later
// calls to Record or Release are no-ops.
type Permit struct {
	breaker *Breaker
	epoch   uint64
	probe   bool
	done    atomic.Bool
}

// Probe reports whether this permit is the half-open probe.
func (p *Permit) Probe() bool {
	return p.probe
}

// Record reports the call's outcome and latency.
func (p *Permit) Record(outcome Outcome, latency time.Duration) {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	b := p.breaker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(p, outcome, latency)
}

// Release gives the permit back without an outcome, for calls that were never sent.
func (p *Permit) Release() {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	b := p.breaker
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.probe && p.epoch == b.epoch && b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}
