package circuitbreaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow_Evicts(t *testing.T) {
	t.Parallel()

	w := newWindow(3)
	w.add(sample{failed: true, slow: true})
	w.add(sample{})
	assert.False(t, w.full())
	w.add(sample{failed: true})
	assert.True(t, w.full())
	assert.Equal(t, 2, w.failures)
	assert.Equal(t, 1, w.slow)

	w.add(sample{})
	assert.Equal(t, 1, w.failures)
	assert.Equal(t, 0, w.slow)
	assert.Equal(t, 3, w.count)
	assert.InDelta(t, 33.33, w.failureRate(), 0.01)

	w.reset()
	assert.Equal(t, 0, w.count)
	assert.Zero(t, w.failureRate())
	assert.Zero(t, w.slowRate())
}
