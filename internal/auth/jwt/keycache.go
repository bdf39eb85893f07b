package jwt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/vyrodovalexey/microgw/internal/config"
	"github.com/vyrodovalexey/microgw/internal/observability"
)

// KeyResolver finds the verification key for a token's key id.
type KeyResolver interface {
	LookupKey(ctx context.Context, kid string) (jwk.Key, error)
}

// Option configures a KeyCache or a Validator.
type Option func(*options)

type options struct {
	clock   clock.PassiveClock
	logger  observability.Logger
	metrics *Metrics
}

func newOptions(opts []Option) options {
	o := options{
		clock:  clock.RealClock{},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// KeyCache holds the issuer's key set. The set is refreshed lazily once it is
// older than the refresh interval, and at most once per miss interval when a
// token names an unknown key. Concurrent refreshes collapse into one fetch.
// When a refresh fails, the previous set keeps serving until it exceeds the
// maximum staleness.
type KeyCache struct {
	fetcher         KeyFetcher
	refreshInterval time.Duration
	fetchTimeout    time.Duration
	maxStaleness    time.Duration
	missLimiter     *rate.Limiter
	group           singleflight.Group
	options

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
}

// NewKeyCache creates an empty cache. Zero durations in cfg take defaults.
func NewKeyCache(fetcher KeyFetcher, cfg config.AuthConfig, opts ...Option) *KeyCache {
	c := &KeyCache{
		fetcher:         fetcher,
		refreshInterval: orDefault(cfg.RefreshInterval, config.DefaultKeyRefreshInterval),
		fetchTimeout:    orDefault(cfg.FetchTimeout, config.DefaultKeyFetchTimeout),
		maxStaleness:    orDefault(cfg.MaxStaleness, config.DefaultKeyMaxStaleness),
		options:         newOptions(opts),
	}
	missInterval := orDefault(cfg.MissRefreshInterval, config.DefaultKeyMissRefreshLimit)
	c.missLimiter = rate.NewLimiter(rate.Every(missInterval), 1)
	return c
}

func orDefault(d config.Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d.Duration()
}

// LookupKey returns the key with id kid. A token without a kid matches the
// only key of a single-key set.
func (c *KeyCache) LookupKey(ctx context.Context, kid string) (jwk.Key, error) {
	set, err := c.current(ctx)
	if err != nil {
		return nil, err
	}

	if key, ok := findKey(set, kid); ok {
		return key, nil
	}

	if !c.missLimiter.AllowN(c.clock.Now(), 1) {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}

	c.logger.Debug("unknown key id, refreshing key set", observability.String("kid", kid))
	if set, err = c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	if key, ok := findKey(set, kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// current returns a usable set, refreshing it when due.
func (c *KeyCache) current(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	set, fetchedAt := c.set, c.fetchedAt
	c.mu.RUnlock()

	age := c.clock.Since(fetchedAt)
	if set != nil && age < c.refreshInterval {
		return set, nil
	}

	fresh, err := c.refresh(ctx)
	if err == nil {
		return fresh, nil
	}
	if set != nil && age < c.maxStaleness {
		c.logger.Warn("serving stale key set",
			observability.Duration("age", age),
			observability.Error(err),
		)
		return set, nil
	}
	return nil, err
}

// Refresh fetches the key set now.
func (c *KeyCache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

// refresh runs one fetch shared by all concurrent callers. The fetch is
// detached from the caller's cancellation so one abandoned request cannot
// fail it for the others.
func (c *KeyCache) refresh(ctx context.Context) (jwk.Set, error) {
	ch := c.group.DoChan("jwks", func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		start := time.Now()
		set, err := c.fetcher.FetchKeys(fctx)
		now := c.clock.Now()
		c.metrics.recordRefresh(err, time.Since(start), now)
		if err != nil {
			c.logger.Warn("key set refresh failed", observability.Error(err))
			return nil, err
		}

		c.mu.Lock()
		c.set = set
		c.fetchedAt = now
		c.mu.Unlock()

		c.logger.Debug("key set refreshed", observability.Int("keys", set.Len()))
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrKeySetUnavailable) {
				return nil, res.Err
			}
			return nil, fmt.Errorf("%w: %w", ErrKeySetUnavailable, res.Err)
		}
		return res.Val.(jwk.Set), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LastRefresh returns the time of the last successful fetch.
func (c *KeyCache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func findKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid == "" {
		if set.Len() == 1 {
			return set.Key(0)
		}
		return nil, false
	}
	return set.LookupKeyID(kid)
}
