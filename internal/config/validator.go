package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

// ErrConfigurationInvalid is matched by every load or validation failure.
var ErrConfigurationInvalid = errors.New("configuration invalid")

var routeIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var supportedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
	"EdDSA": true,
}

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodOptions: true, http.MethodConnect: true, http.MethodTrace: true,
}

// ValidationError represents a single configuration problem.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return fmt.Sprintf("%s: %s", ErrConfigurationInvalid, e[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d validation errors:\n", ErrConfigurationInvalid, len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrConfigurationInvalid) hold.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrConfigurationInvalid
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// Validate checks cfg and returns ValidationErrors, or nil when it is usable.
func Validate(cfg *GatewayConfig) error {
	return (&Validator{}).Validate(cfg)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validatePolicies(cfg.BreakerPolicies)
	v.validateRoutes(cfg)
	v.validateAuth(cfg)
	v.validateCORS(&cfg.CORS)
	v.validateObservability(&cfg.Observability)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, format string, args ...interface{}) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Port < 1 || s.Port > 65535 {
		v.addError("server.port", "must be between 1 and 65535, got %d", s.Port)
	}
	if s.MaxBodyBytes < 0 {
		v.addError("server.maxBodyBytes", "must not be negative")
	}
	for name, d := range map[string]Duration{
		"readTimeout":     s.ReadTimeout,
		"writeTimeout":    s.WriteTimeout,
		"idleTimeout":     s.IdleTimeout,
		"shutdownTimeout": s.ShutdownTimeout,
		"requestSlack":    s.RequestSlack,
	} {
		if d < 0 {
			v.addError("server."+name, "must not be negative")
		}
	}
}

func (v *Validator) validatePolicies(policies map[string]BreakerPolicy) {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := policies[name]
		prefix := "breakerPolicies." + name

		if n := p.WindowSize(); n < 1 {
			v.addError(prefix+".slidingWindowSize", "must be positive, got %d", n)
		}
		if r := p.FailureThreshold(); r <= 0 || r > 100 {
			v.addError(prefix+".failureRateThreshold", "must be in (0, 100], got %g", r)
		}
		if p.SlowCallRateThreshold < 0 || p.SlowCallRateThreshold > 100 {
			v.addError(prefix+".slowCallRateThreshold", "must be in [0, 100], got %g", p.SlowCallRateThreshold)
		}
		if p.SlowCallRateThreshold > 0 && p.SlowCallDurationThreshold <= 0 {
			v.addError(prefix+".slowCallDurationThreshold", "is required when slowCallRateThreshold is set")
		}
		if p.SlowCallDurationThreshold < 0 {
			v.addError(prefix+".slowCallDurationThreshold", "must not be negative")
		}
		if p.OpenWait() <= 0 {
			v.addError(prefix+".openStateWaitDuration", "must be positive")
		}
		if p.AttemptTimeout() <= 0 {
			v.addError(prefix+".callTimeout", "must be positive")
		}
		if p.Retries() < 0 {
			v.addError(prefix+".maxRetryAttempts", "must not be negative, got %d", p.Retries())
		}
		b := p.RetryBackoff
		if b.BaseDelay() < 0 {
			v.addError(prefix+".retryBackoff.base", "must not be negative")
		}
		if f := b.Factor(); f < 1 {
			v.addError(prefix+".retryBackoff.multiplier", "must be at least 1, got %g", f)
		}
		if b.MaxDelay() < b.BaseDelay() {
			v.addError(prefix+".retryBackoff.max", "must not be less than base")
		}
		for i, m := range p.RetryMethods {
			if !httpMethods[m] {
				v.addError(fmt.Sprintf("%s.retryMethods[%d]", prefix, i), "unknown HTTP method %q", m)
			}
		}
	}
}

func (v *Validator) validateRoutes(cfg *GatewayConfig) {
	if len(cfg.Routes) == 0 {
		v.addError("routes", "at least one route is required")
		return
	}

	ids := make(map[string]int, len(cfg.Routes))
	prefixes := make(map[string]int, len(cfg.Routes))
	policyByTarget := make(map[string]string, len(cfg.Routes))

	for i, r := range cfg.Routes {
		prefix := fmt.Sprintf("routes[%d]", i)

		switch {
		case r.ID == "":
			v.addError(prefix+".id", "is required")
		case !routeIDPattern.MatchString(r.ID):
			v.addError(prefix+".id", "must match %s, got %q", routeIDPattern, r.ID)
		default:
			if j, dup := ids[r.ID]; dup {
				v.addError(prefix+".id", "duplicates routes[%d]", j)
			}
			ids[r.ID] = i
		}

		if v.validatePathPrefix(prefix+".pathPrefix", r.PathPrefix) {
			if j, dup := prefixes[r.PathPrefix]; dup {
				v.addError(prefix+".pathPrefix", "duplicates routes[%d]", j)
			}
			prefixes[r.PathPrefix] = i
		}

		v.validateTarget(prefix+".target", r.Target)

		policyName := r.BreakerPolicy
		if policyName == "" {
			policyName = DefaultPolicyName
		}
		if _, ok := cfg.BreakerPolicies[policyName]; !ok {
			v.addError(prefix+".breakerPolicy", "references unknown policy %q", policyName)
		}
		if other, seen := policyByTarget[r.Target]; seen && other != policyName {
			v.addError(prefix+".breakerPolicy",
				"target %s is already guarded by policy %q; routes sharing a backend must share its policy",
				r.Target, other)
		} else if !seen {
			policyByTarget[r.Target] = policyName
		}

		if !r.DisableDocs && !strings.HasPrefix(r.DocsPath, "/") {
			v.addError(prefix+".docsPath", "must start with '/'")
		}
	}

	v.validatePrefixContainment(cfg.Routes)
}

func (v *Validator) validatePathPrefix(field, p string) bool {
	switch {
	case p == "":
		v.addError(field, "is required")
	case !strings.HasPrefix(p, "/"):
		v.addError(field, "must start with '/', got %q", p)
	case p != "/" && strings.HasSuffix(p, "/"):
		v.addError(field, "must not end with '/', got %q", p)
	case path.Clean(p) != p:
		v.addError(field, "must be a clean path, got %q", p)
	case isReserved(p):
		v.addError(field, "%q is served by the gateway itself", p)
	default:
		return true
	}
	return false
}

// ReservedPrefixes are answered by the gateway and can never be routed.
var ReservedPrefixes = []string{"/actuator", "/aggregate", "/v3/api-docs"}

func isReserved(p string) bool {
	for _, r := range ReservedPrefixes {
		if p == r || strings.HasPrefix(p, r+"/") {
			return true
		}
	}
	return false
}

// validatePrefixContainment rejects prefixes where one is a string prefix of
// another without being a parent path of it, e.g. /api/order and /api/orders.
func (v *Validator) validatePrefixContainment(routes []RouteConfig) {
	for i, a := range routes {
		for j, b := range routes {
			if i == j || a.PathPrefix == "/" || a.PathPrefix == b.PathPrefix || a.PathPrefix == "" {
				continue
			}
			if strings.HasPrefix(b.PathPrefix, a.PathPrefix) && b.PathPrefix[len(a.PathPrefix)] != '/' {
				v.addError(fmt.Sprintf("routes[%d].pathPrefix", j),
					"%q overlaps %q (routes[%d]) without a path segment boundary", b.PathPrefix, a.PathPrefix, i)
			}
		}
	}
}

func (v *Validator) validateTarget(field, target string) {
	if target == "" {
		v.addError(field, "is required")
		return
	}
	u, err := url.Parse(target)
	if err != nil {
		v.addError(field, "invalid URL: %v", err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.addError(field, "scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		v.addError(field, "host is required")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		v.addError(field, "must not contain a query or fragment")
	}
}

func (v *Validator) validateAuth(cfg *GatewayConfig) {
	a := &cfg.Auth

	needsAuth := false
	for _, r := range cfg.Routes {
		if r.RequiresAuth() {
			needsAuth = true
			break
		}
	}

	if !a.Enabled() {
		if needsAuth {
			v.addError("auth.issuer", "is required when any route requires authentication")
		}
		return
	}

	if u, err := url.Parse(a.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		v.addError("auth.issuer", "must be an absolute URL, got %q", a.Issuer)
	}
	if a.JWKSURL == "" && !a.Discovery {
		v.addError("auth.jwksUrl", "is required unless discovery is enabled")
	}
	if a.JWKSURL != "" {
		if u, err := url.Parse(a.JWKSURL); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("auth.jwksUrl", "must be an absolute URL, got %q", a.JWKSURL)
		}
	}
	for i, alg := range a.Algorithms {
		if !supportedAlgorithms[alg] {
			v.addError(fmt.Sprintf("auth.algorithms[%d]", i), "unsupported algorithm %q", alg)
		}
	}
	if a.RefreshInterval <= 0 {
		v.addError("auth.refreshInterval", "must be positive")
	}
	if a.FetchTimeout <= 0 {
		v.addError("auth.fetchTimeout", "must be positive")
	}
	if a.MaxStaleness < a.RefreshInterval {
		v.addError("auth.maxStaleness", "must not be shorter than refreshInterval")
	}
	if a.MissRefreshInterval < 0 {
		v.addError("auth.missRefreshInterval", "must not be negative")
	}
	if http.CanonicalHeaderKey(a.SubjectHeader) == "Authorization" {
		v.addError("auth.subjectHeader", "must not be Authorization")
	}
}

func (v *Validator) validateCORS(c *CORSConfig) {
	for i, o := range c.AllowedOrigins {
		if o == "*" {
			if c.AllowCredentials {
				v.addError(fmt.Sprintf("cors.allowedOrigins[%d]", i), "wildcard origin cannot be combined with allowCredentials")
			}
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" || u.Path != "" {
			v.addError(fmt.Sprintf("cors.allowedOrigins[%d]", i), "must be scheme://host[:port], got %q", o)
		}
	}
	for i, m := range c.AllowedMethods {
		if m != "*" && !httpMethods[strings.ToUpper(m)] {
			v.addError(fmt.Sprintf("cors.allowedMethods[%d]", i), "unknown HTTP method %q", m)
		}
	}
	if c.MaxAge < 0 {
		v.addError("cors.maxAge", "must not be negative")
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	switch o.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("observability.logging.level", "must be one of debug, info, warn, error; got %q", o.Logging.Level)
	}
	switch o.Logging.Format {
	case "json", "console":
	default:
		v.addError("observability.logging.format", "must be json or console, got %q", o.Logging.Format)
	}
	if r := o.Tracing.SamplingRate; r < 0 || r > 1 {
		v.addError("observability.tracing.samplingRate", "must be in [0, 1], got %g", r)
	}
}
