package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New("http://orders:8081", cfg, WithClock(clk)), clk
}

func tenAtFifty() Config {
	return Config{
		SlidingWindowSize:     10,
		FailureRateThreshold:  50,
		OpenStateWaitDuration: 30 * time.Second,
	}
}

func call(t *testing.T, b *Breaker, o Outcome) {
	t.Helper()
	p, err := b.Acquire()
	require.NoError(t, err)
	p.Record(o, time.Millisecond)
}

// ============================================================================
// Closed state
// ============================================================================

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, tenAtFifty())
	for i := 0; i < 6; i++ {
		call(t, b, OutcomeSuccess)
	}
	for i := 0; i < 4; i++ {
		call(t, b, OutcomeServerError)
	}

	assert.Equal(t, StateClosed, b.State())
	st := b.Stats()
	assert.Equal(t, 10, st.BufferedCalls)
	assert.Equal(t, 4, st.FailedCalls)
	assert.Equal(t, 40.0, st.FailureRate)
}

func TestBreaker_OpensWhenWindowReachesThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, tenAtFifty())
	for i := 0; i < 6; i++ {
		call(t, b, OutcomeSuccess)
	}
	for i := 0; i < 4; i++ {
		call(t, b, OutcomeTimeout)
	}
	require.Equal(t, StateClosed, b.State())

	// Evicts the oldest success: 5 of the last 10 failed.
	call(t, b, OutcomeUnreachable)
	assert.Equal(t, StateOpen, b.State())

	for i := 0; i < 5; i++ {
		p, err := b.Acquire()
		assert.Nil(t, p)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, int64(5), b.Stats().NotPermittedCalls)
}

func TestBreaker_PartialWindowNeverTrips(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, tenAtFifty())
	for i := 0; i < 9; i++ {
		call(t, b, OutcomeServerError)
	}

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, -1.0, b.Stats().FailureRate)

	call(t, b, OutcomeServerError)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ClientErrorsAreNotFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, tenAtFifty())
	for i := 0; i < 20; i++ {
		call(t, b, OutcomeClientError)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().FailedCalls)
}

func TestBreaker_SlowCallsTrip(t *testing.T) {
	t.Parallel()

	cfg := tenAtFifty()
	cfg.SlowCallDurationThreshold = time.Second
	cfg.SlowCallRateThreshold = 80
	b, _ := newTestBreaker(t, cfg)

	for i := 0; i < 2; i++ {
		p, err := b.Acquire()
		require.NoError(t, err)
		p.Record(OutcomeSuccess, 10*time.Millisecond)
	}
	for i := 0; i < 8; i++ {
		p, err := b.Acquire()
		require.NoError(t, err)
		p.Record(OutcomeSuccess, 2*time.Second)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 8, b.Stats().SlowCalls)
}

// ============================================================================
// Open and half-open states
// ============================================================================

func tripped(t *testing.T) (*Breaker, *clocktesting.FakeClock) {
	t.Helper()
	b, clk := newTestBreaker(t, tenAtFifty())
	for i := 0; i < 10; i++ {
		call(t, b, OutcomeServerError)
	}
	require.Equal(t, StateOpen, b.State())
	return b, clk
}

func TestBreaker_OpenUntilWaitElapses(t *testing.T) {
	t.Parallel()

	b, clk := tripped(t)

	clk.Step(29 * time.Second)
	_, err := b.Acquire()
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, b.State())

	clk.Step(time.Second)
	p, err := b.Acquire()
	require.NoError(t, err)
	assert.True(t, p.Probe())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_SingleProbe(t *testing.T) {
	t.Parallel()

	b, clk := tripped(t)
	clk.Step(30 * time.Second)

	probe, err := b.Acquire()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := b.Acquire()
		assert.ErrorIs(t, err, ErrProbeInFlight)
	}

	probe.Record(OutcomeSuccess, time.Millisecond)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().BufferedCalls)

	// A fresh window: one failure does not re-open.
	call(t, b, OutcomeServerError)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b, clk := tripped(t)
	clk.Step(30 * time.Second)

	probe, err := b.Acquire()
	require.NoError(t, err)
	probe.Record(OutcomeTimeout, time.Second)

	assert.Equal(t, StateOpen, b.State())
	openedAt := b.Stats().OpenedAt
	require.NotNil(t, openedAt)
	assert.Equal(t, clk.Now(), *openedAt)

	clk.Step(29 * time.Second)
	_, err = b.Acquire()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_ReleasedProbeFreesSlot(t *testing.T) {
	t.Parallel()

	b, clk := tripped(t)
	clk.Step(30 * time.Second)

	probe, err := b.Acquire()
	require.NoError(t, err)
	probe.Release()
	probe.Record(OutcomeSuccess, 0)
	assert.Equal(t, StateHalfOpen, b.State())

	next, err := b.Acquire()
	require.NoError(t, err)
	assert.True(t, next.Probe())
}

func TestBreaker_StaleOutcomesIgnored(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(t, tenAtFifty())

	// Issued while closed, completes after the breaker has opened and closed again.
	slow, err := b.Acquire()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		call(t, b, OutcomeServerError)
	}
	clk.Step(30 * time.Second)
	probe, err := b.Acquire()
	require.NoError(t, err)
	probe.Record(OutcomeSuccess, 0)
	require.Equal(t, StateClosed, b.State())

	slow.Record(OutcomeServerError, time.Minute)
	assert.Equal(t, 0, b.Stats().BufferedCalls)
}

func TestBreaker_RecordOnce(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, tenAtFifty())
	p, err := b.Acquire()
	require.NoError(t, err)
	p.Record(OutcomeServerError, 0)
	p.Record(OutcomeServerError, 0)

	assert.Equal(t, 1, b.Stats().BufferedCalls)
}

func TestBreaker_ConcurrentRecording(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, Config{SlidingWindowSize: 100, FailureRateThreshold: 100, OpenStateWaitDuration: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := b.Acquire()
			if err != nil {
				return
			}
			if i%2 == 0 {
				p.Record(OutcomeServerError, 0)
			} else {
				p.Record(OutcomeSuccess, 0)
			}
		}(i)
	}
	wg.Wait()

	st := b.Stats()
	assert.Equal(t, 50, st.BufferedCalls)
	assert.Equal(t, 25, st.FailedCalls)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Metrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	clk := clocktesting.NewFakeClock(time.Now())
	b := New("backend-a", tenAtFifty(), WithClock(clk), WithMetrics(m))

	for i := 0; i < 10; i++ {
		call(t, b, OutcomeServerError)
	}
	_, _ = b.Acquire()

	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(m.state.WithLabelValues("backend-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("backend-a", "CLOSED", "OPEN")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.calls.WithLabelValues("backend-a", "server_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notPermitted.WithLabelValues("backend-a")))
	assert.Len(t, m.Collectors(), 4)
}

func TestNew_NormalizesConfig(t *testing.T) {
	t.Parallel()

	b := New("x", Config{FailureRateThreshold: 250})
	assert.Equal(t, DefaultConfig(), b.Config())
	assert.Equal(t, "x", b.Name())
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.False(t, OutcomeSuccess.Failed())
	assert.False(t, OutcomeClientError.Failed())
	assert.True(t, OutcomeServerError.Failed())
	assert.True(t, OutcomeTimeout.Failed())
	assert.True(t, OutcomeUnreachable.Failed())
	assert.Equal(t, "unreachable", OutcomeUnreachable.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
