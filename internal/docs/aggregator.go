package docs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/observability"
	"github.com/vyrodovalexey/microgw/internal/router"
)

// maxDocumentSize bounds a backend's OpenAPI document.
const maxDocumentSize = 8 << 20

// maxConcurrentFetches bounds the fan-out of Aggregate.
const maxConcurrentFetches = 8

var (
	// ErrUnknownService is returned for a service id that no route has.
	ErrUnknownService = errors.New("unknown service")
	// ErrDocsDisabled is returned for a route that publishes no document.
	ErrDocsDisabled = errors.New("documentation disabled for service")
	// ErrFetchFailed wraps every failure to obtain a usable document.
	ErrFetchFailed = errors.New("fetch api docs")
)

// RouteSource gives access to the current routes.
type RouteSource interface {
	Lookup(id string) (*router.Route, bool)
	Routes() []*router.Route
}

// Aggregator fetches backend OpenAPI documents.
type Aggregator struct {
	routes    RouteSource
	client    *http.Client
	timeout   time.Duration
	serverURL string
	logger    observability.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithHTTPClient sets the client used for document fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Aggregator) {
		a.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// NewAggregator creates an aggregator over routes.
func NewAggregator(routes RouteSource, cfg config.DocsConfig, opts ...Option) *Aggregator {
	a := &Aggregator{
		routes:    routes,
		client:    &http.Client{},
		timeout:   cfg.FetchTimeout.Duration(),
		serverURL: cfg.ServerURL,
		logger:    observability.NopLogger(),
	}
	if a.timeout <= 0 {
		a.timeout = config.DefaultDocsFetchTimeout
	}
	if a.serverURL == "" {
		a.serverURL = "/"
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Document returns the OpenAPI document of service id with its servers
// replaced by the gateway's URL.
func (a *Aggregator) Document(ctx context.Context, id string) (*openapi3.T, error) {
	route, ok := a.routes.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, id)
	}
	if !route.DocsEnabled {
		return nil, fmt.Errorf("%w: %q", ErrDocsDisabled, id)
	}

	doc, err := a.fetch(ctx, route)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, id, err)
	}
	return doc, nil
}

// Aggregate fetches every published document concurrently. Services whose
// document cannot be fetched are left out.
func (a *Aggregator) Aggregate(ctx context.Context) map[string]*openapi3.T {
	var (
		mu   sync.Mutex
		docs = make(map[string]*openapi3.T)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, route := range a.routes.Routes() {
		if !route.DocsEnabled {
			continue
		}
		route := route
		g.Go(func() error {
			doc, err := a.Document(gctx, route.ID)
			if err != nil {
				a.logger.Warn("omitting api docs",
					observability.String("service", route.ID),
					observability.Error(err),
				)
				return nil
			}
			mu.Lock()
			docs[route.ID] = doc
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return docs
}

// SwaggerURL is one entry of the Swagger UI configuration.
type SwaggerURL struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SwaggerConfig is the document Swagger UI reads to list the services.
type SwaggerConfig struct {
	URLs []SwaggerURL `json:"urls"`
}

// SwaggerConfig lists the aggregated document of every route publishing one.
func (a *Aggregator) SwaggerConfig() SwaggerConfig {
	cfg := SwaggerConfig{URLs: []SwaggerURL{}}
	for _, route := range a.routes.Routes() {
		if route.DocsEnabled {
			cfg.URLs = append(cfg.URLs, SwaggerURL{Name: route.ID, URL: DocumentPath(route.ID)})
		}
	}
	sort.Slice(cfg.URLs, func(i, j int) bool { return cfg.URLs[i].Name < cfg.URLs[j].Name })
	return cfg
}

// DocumentPath is the gateway path serving the document of service id.
func DocumentPath(id string) string {
	return "/aggregate/" + id + "/v3/api-docs"
}

func (a *Aggregator) fetch(ctx context.Context, route *router.Route) (*openapi3.T, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route.DocsURL(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if doc.OpenAPI == "" {
		return nil, errors.New("not an OpenAPI 3 document")
	}
	if err := doc.Validate(ctx); err != nil {
		a.logger.Warn("backend api docs failed validation",
			observability.String("service", route.ID),
			observability.Error(err),
		)
	}

	doc.Servers = openapi3.Servers{{URL: a.serverURL}}
	return doc, nil
}
