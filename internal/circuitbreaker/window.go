package circuitbreaker

// window is a fixed-size ring of the most recent call outcomes with running
// totals. It is not safe for concurrent use; Breaker serialises access.
type window struct {
	entries  []sample
	next     int
	count    int
	failures int
	slow     int
}

type sample struct {
	failed bool
	slow   bool
}

func newWindow(size int) *window {
	return &window{entries: make([]sample, size)}
}

func (w *window) add(s sample) {
	if w.count == len(w.entries) {
		old := w.entries[w.next]
		if old.failed {
			w.failures--
		}
		if old.slow {
			w.slow--
		}
	} else {
		w.count++
	}

	w.entries[w.next] = s
	w.next = (w.next + 1) % len(w.entries)

	if s.failed {
		w.failures++
	}
	if s.slow {
		w.slow++
	}
}

func (w *window) full() bool {
	return w.count == len(w.entries)
}

func (w *window) failureRate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.failures) * 100 / float64(w.count)
}

func (w *window) slowRate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.slow) * 100 / float64(w.count)
}

func (w *window) reset() {
	for i := range w.entries {
		w.entries[i] = sample{}
	}
	w.next, w.count, w.failures, w.slow = 0, 0, 0, 0
}
