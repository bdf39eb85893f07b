package retry

import (
	"math"
	"time"

	"github.com/vyrodovalexey/microgw/internal/config"
)

// Backoff computes the delay before a retry.
type Backoff interface {
	// Next returns the wait before retry number attempt, counted from zero.
	Next(attempt int) time.Duration
}

// ExponentialBackoff waits Base * Multiplier^attempt, capped at Max.
type ExponentialBackoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewExponentialBackoff builds a backoff from configuration.
func NewExponentialBackoff(cfg config.BackoffConfig) ExponentialBackoff {
	return ExponentialBackoff{
		Base:       cfg.BaseDelay(),
		Multiplier: cfg.Factor(),
		Max:        cfg.MaxDelay(),
	}
}

// Next implements Backoff.
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.Base) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Total returns the sum of the waits before retries 0..retries-1.
func Total(b Backoff, retries int) time.Duration {
	var total time.Duration
	for i := 0; i < retries; i++ {
		total += b.Next(i)
	}
	return total
}
