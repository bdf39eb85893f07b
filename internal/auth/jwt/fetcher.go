package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/microgw/internal/observability"
)

// maxKeySetSize bounds the size of key set and discovery documents.
const maxKeySetSize = 1 << 20

// Fetch circuit breaker defaults.
const (
	fetchBreakerFailures = 3
	fetchBreakerTimeout  = 30 * time.Second
)

// KeyFetcher retrieves the issuer's current key set.
type KeyFetcher interface {
	FetchKeys(ctx context.Context) (jwk.Set, error)
}

// KeyFetcherFunc adapts a function to KeyFetcher.
type KeyFetcherFunc func(ctx context.Context) (jwk.Set, error)

// FetchKeys implements KeyFetcher.
func (f KeyFetcherFunc) FetchKeys(ctx context.Context) (jwk.Set, error) {
	return f(ctx)
}

// StaticKeys returns a fetcher that always yields set.
func StaticKeys(set jwk.Set) KeyFetcher {
	return KeyFetcherFunc(func(context.Context) (jwk.Set, error) {
		return set, nil
	})
}

// HTTPFetcher downloads a JWKS document, optionally locating it through the
// issuer's OpenID discovery document. Repeated failures trip a circuit
// breaker so an unavailable identity provider is not hammered.
type HTTPFetcher struct {
	client    *http.Client
	issuer    string
	jwksURL   string
	discovery bool
	breaker   *gobreaker.CircuitBreaker
	logger    observability.Logger

	mu         sync.Mutex
	discovered string
}

// HTTPFetcherOption configures an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(l observability.Logger) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.logger = l
	}
}

// WithDiscovery resolves the JWKS location from
// {issuer}/.well-known/openid-configuration instead of a fixed URL.
func WithDiscovery(issuer string) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.issuer = strings.TrimSuffix(issuer, "/")
		f.discovery = true
	}
}

// NewHTTPFetcher creates a fetcher for jwksURL.
func NewHTTPFetcher(jwksURL string, opts ...HTTPFetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:  &http.Client{},
		jwksURL: jwksURL,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jwks",
		MaxRequests: 1,
		Timeout:     fetchBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= fetchBreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("key set fetch breaker state changed",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return f
}

// FetchKeys implements KeyFetcher.
func (f *HTTPFetcher) FetchKeys(ctx context.Context) (jwk.Set, error) {
	res, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeySetUnavailable, err)
	}
	return res.(jwk.Set), nil
}

func (f *HTTPFetcher) fetch(ctx context.Context) (jwk.Set, error) {
	location := f.jwksURL
	if f.discovery {
		var err error
		if location, err = f.jwksLocation(ctx); err != nil {
			return nil, err
		}
	}

	body, err := f.get(ctx, location)
	if err != nil {
		return nil, err
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse key set: %w", err)
	}
	if set.Len() == 0 {
		return nil, errors.New("key set is empty")
	}
	return set, nil
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// jwksLocation returns the discovered jwks_uri, fetching the discovery
// document on first use.
func (f *HTTPFetcher) jwksLocation(ctx context.Context) (string, error) {
	f.mu.Lock()
	cached := f.discovered
	f.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	body, err := f.get(ctx, f.issuer+"/.well-known/openid-configuration")
	if err != nil {
		return "", fmt.Errorf("discovery: %w", err)
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("discovery: decode: %w", err)
	}
	if strings.TrimSuffix(doc.Issuer, "/") != f.issuer {
		return "", fmt.Errorf("discovery: document issuer %q does not match %q", doc.Issuer, f.issuer)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("discovery: jwks_uri missing")
	}

	f.mu.Lock()
	f.discovered = doc.JWKSURI
	f.mu.Unlock()

	f.logger.Info("discovered key set location", observability.String("jwks_uri", doc.JWKSURI))
	return doc.JWKSURI, nil
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxKeySetSize))
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxKeySetSize {
		return nil, fmt.Errorf("GET %s: document exceeds %d bytes", url, maxKeySetSize)
	}
	return body, nil
}
