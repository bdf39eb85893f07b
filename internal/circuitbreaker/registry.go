package circuitbreaker

import (
	"sort"
	"sync"

	"k8s.io/utils/clock"

	"github.com/vyrodovalexey/microgw/internal/observability"
)

// Registry owns one breaker per backend. Breakers are created lazily on first
// use and live until the registry is discarded; a configuration reload builds
// a new registry rather than mutating this one.
type Registry struct {
	breakers sync.Map
	clock    clock.PassiveClock
	logger   observability.Logger
	metrics  *Metrics
}

// NewRegistry creates an empty registry. Options apply to every breaker it creates.
func NewRegistry(opts ...Option) *Registry {
	proto := &Breaker{clock: clock.RealClock{}, logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(proto)
	}
	return &Registry{
		clock:   proto.clock,
		logger:  proto.logger,
		metrics: proto.metrics,
	}
}

// Get returns the breaker for backend, or nil.
func (r *Registry) Get(backend string) *Breaker {
	v, ok := r.breakers.Load(backend)
	if !ok {
		return nil
	}
	return v.(*Breaker)
}

// GetOrCreate returns the breaker for backend, creating it with cfg if needed.
// cfg is ignored when the breaker already exists.
func (r *Registry) GetOrCreate(backend string, cfg Config) *Breaker {
	if v, ok := r.breakers.Load(backend); ok {
		return v.(*Breaker)
	}

	b := New(backend, cfg, WithClock(r.clock), WithLogger(r.logger), WithMetrics(r.metrics))
	actual, loaded := r.breakers.LoadOrStore(backend, b)
	if !loaded {
		r.logger.Debug("created circuit breaker", observability.String("backend", backend))
	}
	return actual.(*Breaker)
}

// List returns the breakers ordered by name.
func (r *Registry) List() []*Breaker {
	var out []*Breaker
	r.breakers.Range(func(_, v any) bool {
		out = append(out, v.(*Breaker))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Stats returns a snapshot of every breaker ordered by name.
func (r *Registry) Stats() []Stats {
	list := r.List()
	out := make([]Stats, 0, len(list))
	for _, b := range list {
		out = append(out, b.Stats())
	}
	return out
}
