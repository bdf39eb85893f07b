package gateway

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/utils/clock"

	"github.com/vyrodovalexey/microgw/internal/auth/jwt"
	"github.com/vyrodovalexey/microgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/health"
	"github.com/vyrodovalexey/microgw/internal/middleware"
	"github.com/vyrodovalexey/microgw/internal/observability"
	"github.com/vyrodovalexey/microgw/internal/proxy"
	"github.com/vyrodovalexey/microgw/internal/router"
)

// Actuator and documentation endpoints served by the gateway itself.
const (
	HealthPath          = "/actuator/health"
	CircuitBreakersPath = "/actuator/circuitbreakers"
	PrometheusPath      = "/actuator/prometheus"
	DocumentPath        = "/aggregate/:service/v3/api-docs"
	AggregatePath       = "/v3/api-docs"
	SwaggerConfigPath   = "/v3/api-docs/swagger-config"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Authenticator validates bearer tokens.
type Authenticator interface {
	Validate(ctx context.Context, raw string) (*jwt.Principal, error)
}

// Gateway is the API gateway: the request pipeline plus its HTTP server.
type Gateway struct {
	logger         observability.Logger
	tracer         *observability.Tracer
	metrics        *observability.Metrics
	proxyMetrics   *proxy.Metrics
	breakerMetrics *circuitbreaker.Metrics
	auth           Authenticator
	transport      http.RoundTripper
	clock          clock.PassiveClock
	checker        *health.Checker
	version        string

	engine   *gin.Engine
	listener *Listener
	state    atomic.Int32
	current  atomic.Pointer[runtime]
	reloadMu sync.Mutex
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithMetrics enables Prometheus metrics. Forwarder and breaker metrics are
// registered into m under the same namespace.
func WithMetrics(m *observability.Metrics, namespace string) Option {
	return func(g *Gateway) {
		g.metrics = m
		g.proxyMetrics = proxy.NewMetrics(namespace)
		g.breakerMetrics = circuitbreaker.NewMetrics(namespace)
	}
}

// WithAuthenticator sets the token validator for protected routes. Without
// one, every request to a protected route is rejected.
func WithAuthenticator(a Authenticator) Option {
	return func(g *Gateway) {
		g.auth = a
	}
}

// WithTransport sets the transport for upstream calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) {
		g.transport = rt
	}
}

// WithClock sets the clock driving the circuit breakers.
func WithClock(c clock.PassiveClock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(g *Gateway) {
		g.version = v
	}
}

// New validates cfg and builds a stopped gateway. An invalid configuration
// is returned as an error wrapping config.ErrConfigurationInvalid.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	g := &Gateway{
		logger: observability.NopLogger(),
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.checker = health.NewChecker(g.version)

	if g.metrics != nil {
		if err := g.metrics.RegisterCollector(g.proxyMetrics.Collectors()...); err != nil {
			return nil, fmt.Errorf("register proxy metrics: %w", err)
		}
		if err := g.metrics.RegisterCollector(g.breakerMetrics.Collectors()...); err != nil {
			return nil, fmt.Errorf("register breaker metrics: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	rt, err := g.buildRuntime(cfg)
	if err != nil {
		return nil, err
	}
	g.current.Store(rt)

	g.engine = g.newEngine()
	g.state.Store(int32(StateStopped))
	return g, nil
}

func (g *Gateway) newEngine() *gin.Engine {
	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	engine.Use(
		middleware.Recovery(g.logger),
		middleware.RequestID(),
		middleware.Tracing(g.tracer),
		middleware.Metrics(g.metrics),
		middleware.Logging(g.logger, HealthPath, PrometheusPath),
		func(c *gin.Context) { g.runtime().cors(c) },
	)

	engine.GET(HealthPath, g.checker.Handler())
	engine.GET(CircuitBreakersPath, health.CircuitBreakersHandler(g))
	if g.metrics != nil {
		engine.GET(PrometheusPath, gin.WrapH(g.metrics.Handler()))
	}
	engine.GET(DocumentPath, func(c *gin.Context) { g.runtime().docs.DocumentHandler()(c) })
	engine.GET(AggregatePath, func(c *gin.Context) { g.runtime().docs.AggregateHandler()(c) })
	engine.GET(SwaggerConfigPath, func(c *gin.Context) { g.runtime().docs.SwaggerConfigHandler()(c) })

	engine.NoRoute(g.handle)
	return engine
}

func (g *Gateway) runtime() *runtime {
	return g.current.Load()
}

// Start starts serving on the configured address.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	cfg := g.Config()
	g.logger.Info("starting gateway",
		observability.Int("routes", g.runtime().table.Len()),
		observability.Bool("auth", g.auth != nil),
	)

	g.listener = NewListener(cfg.Server, g.engine, WithListenerLogger(g.logger))
	if err := g.listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener: %w", err)
	}

	g.state.Store(int32(StateRunning))
	g.logger.Info("gateway started", observability.String("address", g.listener.Addr()))
	return nil
}

// Stop stops the gateway gracefully, waiting for in-flight requests until
// ctx ends or the configured shutdown timeout passes.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Config().Server.ShutdownTimeout.Duration())
		defer cancel()
	}

	err := g.listener.Stop(ctx)
	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped")
	return err
}

// Reload validates cfg and, if valid, replaces the route table, the circuit
// breakers and the forwarder at once. Breaker state starts over. An invalid
// cfg leaves the running configuration untouched.
func (g *Gateway) Reload(cfg *config.GatewayConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}

	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	cfg.ApplyDefaults()
	if err := config.Validate(cfg); err != nil {
		g.logger.Error("rejected configuration reload", observability.Error(err))
		return err
	}
	rt, err := g.buildRuntime(cfg)
	if err != nil {
		g.logger.Error("rejected configuration reload", observability.Error(err))
		return err
	}

	old := g.current.Swap(rt)
	if !reflect.DeepEqual(old.cfg.Auth, cfg.Auth) {
		g.logger.Warn("auth settings changed; restart the gateway to apply them")
	}
	if !reflect.DeepEqual(old.cfg.Server, cfg.Server) {
		g.logger.Warn("server settings changed; restart the gateway to apply them")
	}

	g.logger.Info("gateway configuration reloaded", observability.Int("routes", rt.table.Len()))
	return nil
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the time since the gateway was built.
func (g *Gateway) Uptime() time.Duration {
	return g.checker.Uptime()
}

// Config returns the running configuration.
func (g *Gateway) Config() *config.GatewayConfig {
	return g.runtime().cfg
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Addr returns the address the gateway listens on, once started.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr()
}

// HealthChecker returns the checker behind the health endpoint, for
// registering component checks.
func (g *Gateway) HealthChecker() *health.Checker {
	return g.checker
}

// BreakerStats returns a snapshot of every circuit breaker.
func (g *Gateway) BreakerStats() []circuitbreaker.Stats {
	return g.runtime().breakers.Stats()
}

// Routes returns the current routes.
func (g *Gateway) Routes() []*router.Route {
	return g.runtime().table.Routes()
}

// Resolve resolves p against the current route table.
func (g *Gateway) Resolve(p string) (*router.Route, error) {
	return g.runtime().table.Resolve(p)
}
