// Package circuitbreaker implements per-backend circuit breakers over a
// count-based sliding window.
//
// A breaker is CLOSED until the window holds SlidingWindowSize outcomes and
// the failure rate (or slow call rate) meets its threshold. It then rejects
// every call until OpenStateWaitDuration has passed, after which the next
// caller becomes the single HALF_OPEN probe. The probe's outcome either closes
// the breaker with an empty window or opens it again.
//
// Transitions happen lazily inside Acquire and Permit.Record; there are no
// background timers. Each Permit belongs to the epoch it was issued in, and
// outcomes from an earlier epoch do not influence the current state.
package circuitbreaker
