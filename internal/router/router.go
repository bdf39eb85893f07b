package router

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/vyrodovalexey/microgw/internal/config"
)

// ErrRouteNotFound is returned when no prefix matches the path.
var ErrRouteNotFound = errors.New("no matching route")

// Route is an immutable, resolved route.
type Route struct {
	ID           string
	PathPrefix   string
	Target       string
	TargetURL    *url.URL
	AuthRequired bool
	PolicyName   string
	Policy       config.BreakerPolicy
	DocsPath     string
	DocsEnabled  bool
}

// DocsURL is the location of the backend's OpenAPI document.
func (r *Route) DocsURL() string {
	return r.Target + r.DocsPath
}

// Table maps path prefixes to routes. It is safe for concurrent use because
// it is never modified after NewTable returns.
type Table struct {
	byPrefix map[string]*Route
	byID     map[string]*Route
	routes   []*Route
}

// NewTable builds a table from a validated configuration.
func NewTable(cfg *config.GatewayConfig) (*Table, error) {
	t := &Table{
		byPrefix: make(map[string]*Route, len(cfg.Routes)),
		byID:     make(map[string]*Route, len(cfg.Routes)),
		routes:   make([]*Route, 0, len(cfg.Routes)),
	}

	for _, rc := range cfg.Routes {
		policy, ok := cfg.Policy(rc)
		if !ok {
			return nil, fmt.Errorf("route %s: unknown breaker policy %q", rc.ID, rc.BreakerPolicy)
		}
		target, err := url.Parse(rc.Target)
		if err != nil {
			return nil, fmt.Errorf("route %s: invalid target: %w", rc.ID, err)
		}
		if _, dup := t.byPrefix[rc.PathPrefix]; dup {
			return nil, fmt.Errorf("route %s: duplicate path prefix %s", rc.ID, rc.PathPrefix)
		}

		policyName := rc.BreakerPolicy
		if policyName == "" {
			policyName = config.DefaultPolicyName
		}

		r := &Route{
			ID:           rc.ID,
			PathPrefix:   rc.PathPrefix,
			Target:       rc.Target,
			TargetURL:    target,
			AuthRequired: rc.RequiresAuth(),
			PolicyName:   policyName,
			Policy:       policy,
			DocsPath:     rc.DocsPath,
			DocsEnabled:  !rc.DisableDocs,
		}
		t.byPrefix[r.PathPrefix] = r
		t.byID[r.ID] = r
		t.routes = append(t.routes, r)
	}

	sort.Slice(t.routes, func(i, j int) bool { return t.routes[i].ID < t.routes[j].ID })
	return t, nil
}

// Resolve returns the route with the longest prefix covering p. Repeated
// calls for the same path return the same *Route.
func (t *Table) Resolve(p string) (*Route, error) {
	candidate := CleanPath(p)
	if candidate != "/" {
		candidate = strings.TrimSuffix(candidate, "/")
	}
	for ; ; candidate = parent(candidate) {
		if r, ok := t.byPrefix[candidate]; ok {
			return r, nil
		}
		if candidate == "/" {
			return nil, ErrRouteNotFound
		}
	}
}

// Lookup returns the route with the given id.
func (t *Table) Lookup(id string) (*Route, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// Routes returns all routes ordered by id.
func (t *Table) Routes() []*Route {
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// CleanPath normalises a request path: dot segments and duplicate slashes are
// removed and the result is rooted. A trailing slash is preserved.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}
