package config

import (
	"net/http"
	"strings"
	"time"

	"k8s.io/utils/ptr"
)

// Default values applied by ApplyDefaults.
const (
	DefaultPort            = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestSlack    = 2 * time.Second
	DefaultMaxBodyBytes    = 10 << 20

	DefaultPolicyName            = "default"
	DefaultSlidingWindowSize     = 10
	DefaultFailureRateThreshold  = 50.0
	DefaultOpenStateWaitDuration = 5 * time.Second
	DefaultCallTimeout           = 5 * time.Second
	DefaultMaxRetryAttempts      = 3
	DefaultBackoffBase           = 200 * time.Millisecond
	DefaultBackoffMultiplier     = 2.0
	DefaultBackoffMax            = 5 * time.Second

	DefaultKeyRefreshInterval  = 10 * time.Minute
	DefaultKeyFetchTimeout     = 5 * time.Second
	DefaultKeyMaxStaleness     = time.Hour
	DefaultKeyMissRefreshLimit = 10 * time.Second
	DefaultSubjectHeader       = "X-Authenticated-Subject"

	DefaultDocsPath         = "/v3/api-docs"
	DefaultDocsFetchTimeout = 5 * time.Second
)

// GatewayConfig is the complete, immutable gateway configuration.
type GatewayConfig struct {
	Server          ServerConfig             `yaml:"server" json:"server" toml:"server"`
	Routes          []RouteConfig            `yaml:"routes" json:"routes" toml:"routes"`
	BreakerPolicies map[string]BreakerPolicy `yaml:"breakerPolicies" json:"breakerPolicies" toml:"breakerPolicies"`
	Auth            AuthConfig               `yaml:"auth" json:"auth" toml:"auth"`
	CORS            CORSConfig               `yaml:"cors" json:"cors" toml:"cors"`
	Docs            DocsConfig               `yaml:"docs" json:"docs" toml:"docs"`
	Observability   ObservabilityConfig      `yaml:"observability" json:"observability" toml:"observability"`
}

// ServerConfig configures the listening HTTP server.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address" toml:"address"`
	Port            int      `yaml:"port" json:"port" toml:"port"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout" toml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout" toml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout" toml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout" toml:"shutdownTimeout"`
	// RequestSlack is added on top of the retry budget to form each request's outer deadline.
	RequestSlack Duration `yaml:"requestSlack" json:"requestSlack" toml:"requestSlack"`
	MaxBodyBytes int64    `yaml:"maxBodyBytes" json:"maxBodyBytes" toml:"maxBodyBytes"`
}

// RouteConfig maps a path prefix to a backend.
type RouteConfig struct {
	ID         string `yaml:"id" json:"id" toml:"id"`
	PathPrefix string `yaml:"pathPrefix" json:"pathPrefix" toml:"pathPrefix"`
	Target     string `yaml:"target" json:"target" toml:"target"`
	// AuthRequired defaults to true when omitted.
	AuthRequired  *bool  `yaml:"authRequired,omitempty" json:"authRequired,omitempty" toml:"authRequired,omitempty"`
	BreakerPolicy string `yaml:"breakerPolicy" json:"breakerPolicy" toml:"breakerPolicy"`
	DocsPath      string `yaml:"docsPath" json:"docsPath" toml:"docsPath"`
	DisableDocs   bool   `yaml:"disableDocs" json:"disableDocs" toml:"disableDocs"`
}

// RequiresAuth reports whether requests on the route need a valid bearer token.
func (r RouteConfig) RequiresAuth() bool {
	return r.AuthRequired == nil || *r.AuthRequired
}

// BreakerPolicy is a named bundle of circuit breaker, timeout and retry settings.
// Settings that have a default are pointers: nil takes the default, while an
// explicit value, zero included, is kept and validated.
type BreakerPolicy struct {
	SlidingWindowSize    *int     `yaml:"slidingWindowSize,omitempty" json:"slidingWindowSize,omitempty" toml:"slidingWindowSize,omitempty"`
	FailureRateThreshold *float64 `yaml:"failureRateThreshold,omitempty" json:"failureRateThreshold,omitempty" toml:"failureRateThreshold,omitempty"`
	// SlowCallDurationThreshold of zero disables slow call tracking.
	SlowCallDurationThreshold Duration      `yaml:"slowCallDurationThreshold" json:"slowCallDurationThreshold" toml:"slowCallDurationThreshold"`
	SlowCallRateThreshold     float64       `yaml:"slowCallRateThreshold" json:"slowCallRateThreshold" toml:"slowCallRateThreshold"`
	OpenStateWaitDuration     *Duration     `yaml:"openStateWaitDuration,omitempty" json:"openStateWaitDuration,omitempty" toml:"openStateWaitDuration,omitempty"`
	CallTimeout               *Duration     `yaml:"callTimeout,omitempty" json:"callTimeout,omitempty" toml:"callTimeout,omitempty"`
	MaxRetryAttempts          *int          `yaml:"maxRetryAttempts,omitempty" json:"maxRetryAttempts,omitempty" toml:"maxRetryAttempts,omitempty"`
	RetryBackoff              BackoffConfig `yaml:"retryBackoff" json:"retryBackoff" toml:"retryBackoff"`
	RetryOnServerError        *bool         `yaml:"retryOnServerError,omitempty" json:"retryOnServerError,omitempty" toml:"retryOnServerError,omitempty"`
	// RetryMethods restricts retries to these methods; empty allows all.
	RetryMethods []string `yaml:"retryMethods" json:"retryMethods" toml:"retryMethods"`
}

// WindowSize returns the number of outcomes the failure rate is computed over.
func (p BreakerPolicy) WindowSize() int {
	return ptr.Deref(p.SlidingWindowSize, DefaultSlidingWindowSize)
}

// FailureThreshold returns the failure rate, in percent, that opens the breaker.
func (p BreakerPolicy) FailureThreshold() float64 {
	return ptr.Deref(p.FailureRateThreshold, DefaultFailureRateThreshold)
}

// OpenWait returns how long an open breaker rejects calls.
func (p BreakerPolicy) OpenWait() time.Duration {
	return ptr.Deref(p.OpenStateWaitDuration, Duration(DefaultOpenStateWaitDuration)).Duration()
}

// AttemptTimeout returns the bound on a single backend call.
func (p BreakerPolicy) AttemptTimeout() time.Duration {
	return ptr.Deref(p.CallTimeout, Duration(DefaultCallTimeout)).Duration()
}

// Retries returns the number of additional attempts after the first.
func (p BreakerPolicy) Retries() int {
	return ptr.Deref(p.MaxRetryAttempts, DefaultMaxRetryAttempts)
}

// RetriesServerErrors reports whether 5xx responses are retried.
func (p BreakerPolicy) RetriesServerErrors() bool {
	return p.RetryOnServerError == nil || *p.RetryOnServerError
}

// BackoffConfig configures the delay before retry n: Base * Multiplier^n, capped at Max.
type BackoffConfig struct {
	Base       *Duration `yaml:"base,omitempty" json:"base,omitempty" toml:"base,omitempty"`
	Multiplier *float64  `yaml:"multiplier,omitempty" json:"multiplier,omitempty" toml:"multiplier,omitempty"`
	Max        *Duration `yaml:"max,omitempty" json:"max,omitempty" toml:"max,omitempty"`
}

// BaseDelay returns the wait before the first retry.
func (b BackoffConfig) BaseDelay() time.Duration {
	return ptr.Deref(b.Base, Duration(DefaultBackoffBase)).Duration()
}

// Factor returns the growth factor between consecutive waits.
func (b BackoffConfig) Factor() float64 {
	return ptr.Deref(b.Multiplier, DefaultBackoffMultiplier)
}

// MaxDelay returns the cap on a single wait.
func (b BackoffConfig) MaxDelay() time.Duration {
	return ptr.Deref(b.Max, Duration(DefaultBackoffMax)).Duration()
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Issuer string `yaml:"issuer" json:"issuer" toml:"issuer"`
	// JWKSURL is the key set location; with Discovery it is read from the
	// issuer's openid-configuration document instead.
	JWKSURL         string   `yaml:"jwksUrl" json:"jwksUrl" toml:"jwksUrl"`
	Discovery       bool     `yaml:"discovery" json:"discovery" toml:"discovery"`
	Algorithms      []string `yaml:"algorithms" json:"algorithms" toml:"algorithms"`
	RefreshInterval Duration `yaml:"refreshInterval" json:"refreshInterval" toml:"refreshInterval"`
	FetchTimeout    Duration `yaml:"fetchTimeout" json:"fetchTimeout" toml:"fetchTimeout"`
	MaxStaleness    Duration `yaml:"maxStaleness" json:"maxStaleness" toml:"maxStaleness"`
	// MissRefreshInterval is the minimum spacing of refreshes caused by an unknown key id.
	MissRefreshInterval Duration `yaml:"missRefreshInterval" json:"missRefreshInterval" toml:"missRefreshInterval"`
	SubjectHeader       string   `yaml:"subjectHeader" json:"subjectHeader" toml:"subjectHeader"`
}

// Enabled reports whether a trusted issuer is configured.
func (a AuthConfig) Enabled() bool {
	return a.Issuer != ""
}

// CORSConfig configures cross-origin handling.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins" json:"allowedOrigins" toml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods" json:"allowedMethods" toml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders" json:"allowedHeaders" toml:"allowedHeaders"`
	ExposedHeaders   []string `yaml:"exposedHeaders" json:"exposedHeaders" toml:"exposedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials" json:"allowCredentials" toml:"allowCredentials"`
	MaxAge           Duration `yaml:"maxAge" json:"maxAge" toml:"maxAge"`
}

// Enabled reports whether any origin is allowed.
func (c CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// DocsConfig configures the OpenAPI document aggregator.
type DocsConfig struct {
	FetchTimeout Duration `yaml:"fetchTimeout" json:"fetchTimeout" toml:"fetchTimeout"`
	// ServerURL replaces the servers list of every aggregated document.
	ServerURL string `yaml:"serverUrl" json:"serverUrl" toml:"serverUrl"`
}

// ObservabilityConfig groups logging, metrics and tracing settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" toml:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing" toml:"tracing"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" toml:"level"`
	Format string `yaml:"format" json:"format" toml:"format"`
	Output string `yaml:"output" json:"output" toml:"output"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty" toml:"enabled,omitempty"`
	Namespace string `yaml:"namespace" json:"namespace" toml:"namespace"`
}

// IsEnabled defaults to true.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" toml:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName" toml:"serviceName"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint" toml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate" toml:"samplingRate"`
}

// Policy returns the breaker policy referenced by the route, falling back to
// the default policy for an empty reference.
func (c *GatewayConfig) Policy(route RouteConfig) (BreakerPolicy, bool) {
	name := route.BreakerPolicy
	if name == "" {
		name = DefaultPolicyName
	}
	p, ok := c.BreakerPolicies[name]
	return p, ok
}

// ApplyDefaults fills zero values with defaults. It is idempotent.
func (c *GatewayConfig) ApplyDefaults() {
	s := &c.Server
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	setDuration(&s.ReadTimeout, DefaultReadTimeout)
	setDuration(&s.IdleTimeout, DefaultIdleTimeout)
	setDuration(&s.ShutdownTimeout, DefaultShutdownTimeout)
	setDuration(&s.RequestSlack, DefaultRequestSlack)
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.BreakerPolicies == nil {
		c.BreakerPolicies = make(map[string]BreakerPolicy)
	}
	if _, ok := c.BreakerPolicies[DefaultPolicyName]; !ok {
		c.BreakerPolicies[DefaultPolicyName] = BreakerPolicy{}
	}
	for name, p := range c.BreakerPolicies {
		p.applyDefaults()
		c.BreakerPolicies[name] = p
	}

	for i := range c.Routes {
		r := &c.Routes[i]
		r.Target = strings.TrimRight(strings.TrimSpace(r.Target), "/")
		if r.DocsPath == "" {
			r.DocsPath = DefaultDocsPath
		}
	}

	a := &c.Auth
	if len(a.Algorithms) == 0 {
		a.Algorithms = []string{"RS256"}
	}
	setDuration(&a.RefreshInterval, DefaultKeyRefreshInterval)
	setDuration(&a.FetchTimeout, DefaultKeyFetchTimeout)
	setDuration(&a.MaxStaleness, DefaultKeyMaxStaleness)
	setDuration(&a.MissRefreshInterval, DefaultKeyMissRefreshLimit)
	if a.SubjectHeader == "" {
		a.SubjectHeader = DefaultSubjectHeader
	}

	if c.CORS.Enabled() {
		if len(c.CORS.AllowedMethods) == 0 {
			c.CORS.AllowedMethods = []string{http.MethodGet, http.MethodPost}
		}
		if len(c.CORS.AllowedHeaders) == 0 {
			c.CORS.AllowedHeaders = []string{"*"}
		}
	}

	setDuration(&c.Docs.FetchTimeout, DefaultDocsFetchTimeout)
	if c.Docs.ServerURL == "" {
		c.Docs.ServerURL = "/"
	}

	l := &c.Observability.Logging
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
	if l.Output == "" {
		l.Output = "stdout"
	}
	if c.Observability.Metrics.Namespace == "" {
		c.Observability.Metrics.Namespace = "gateway"
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "api-gateway"
	}
}

// applyDefaults fills only unset settings.
func (p *BreakerPolicy) applyDefaults() {
	if p.SlidingWindowSize == nil {
		p.SlidingWindowSize = ptr.To(p.WindowSize())
	}
	if p.FailureRateThreshold == nil {
		p.FailureRateThreshold = ptr.To(p.FailureThreshold())
	}
	if p.OpenStateWaitDuration == nil {
		p.OpenStateWaitDuration = ptr.To(Duration(p.OpenWait()))
	}
	if p.CallTimeout == nil {
		p.CallTimeout = ptr.To(Duration(p.AttemptTimeout()))
	}
	if p.MaxRetryAttempts == nil {
		p.MaxRetryAttempts = ptr.To(p.Retries())
	}
	b := &p.RetryBackoff
	if b.Base == nil {
		b.Base = ptr.To(Duration(b.BaseDelay()))
	}
	if b.Multiplier == nil {
		b.Multiplier = ptr.To(b.Factor())
	}
	if b.Max == nil {
		b.Max = ptr.To(Duration(b.MaxDelay()))
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// DefaultConfig returns a configuration with every default applied and no routes.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{}
	cfg.ApplyDefaults()
	return cfg
}
