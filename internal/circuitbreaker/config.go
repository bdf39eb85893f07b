package circuitbreaker

import (
	"time"

	"github.com/vyrodovalexey/microgw/internal/config"
)

// Config holds the tuning of one breaker.
type Config struct {
	// SlidingWindowSize is the number of most recent outcomes considered.
	SlidingWindowSize int

	// FailureRateThreshold in percent; the breaker opens when the rate is at or above it.
	FailureRateThreshold float64

	// SlowCallDurationThreshold marks calls at or above this latency as slow. Zero disables.
	SlowCallDurationThreshold time.Duration

	// SlowCallRateThreshold in percent. Zero disables.
	SlowCallRateThreshold float64

	// OpenStateWaitDuration is how long the breaker rejects calls before allowing a probe.
	OpenStateWaitDuration time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		SlidingWindowSize:     config.DefaultSlidingWindowSize,
		FailureRateThreshold:  config.DefaultFailureRateThreshold,
		OpenStateWaitDuration: config.DefaultOpenStateWaitDuration,
	}
}

// ConfigFromPolicy extracts the breaker settings of a policy.
func ConfigFromPolicy(p config.BreakerPolicy) Config {
	return Config{
		SlidingWindowSize:         p.WindowSize(),
		FailureRateThreshold:      p.FailureThreshold(),
		SlowCallDurationThreshold: p.SlowCallDurationThreshold.Duration(),
		SlowCallRateThreshold:     p.SlowCallRateThreshold,
		OpenStateWaitDuration:     p.OpenWait(),
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.SlidingWindowSize <= 0 {
		c.SlidingWindowSize = def.SlidingWindowSize
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 100 {
		c.FailureRateThreshold = def.FailureRateThreshold
	}
	if c.OpenStateWaitDuration <= 0 {
		c.OpenStateWaitDuration = def.OpenStateWaitDuration
	}
	return c
}
