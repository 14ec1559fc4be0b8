// Package timer implements the stepped back-off and fixed-interval timer
// primitives the socket and channel layers schedule reconnects, rejoins,
// and heartbeats with. Production code runs on the real wall clock; tests
// substitute a fake Clock so time can be advanced deterministically.
package timer

import (
	"sync"
	"time"
)

// CancelFunc stops a previously scheduled callback. It reports whether the
// callback was stopped before it fired, mirroring (*time.Timer).Stop.
type CancelFunc func() bool

// Clock schedules a one-shot callback after a delay. The production
// implementation is RealClock; tests supply a fake that records pending
// callbacks and fires them under an explicit Tick/Advance call instead of
// real wall-clock time.
type Clock interface {
	AfterFunc(d time.Duration, f func()) CancelFunc
}

// RealClock schedules callbacks on the Go runtime's timer heap.
type RealClock struct{}

// AfterFunc implements Clock using time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, f func()) CancelFunc {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// BackoffFunc maps an attempt count (1-indexed) to a delay, per spec §4.1's
// "stepped back-off" tables.
type BackoffFunc func(tries int) time.Duration

// DefaultReconnectBackoff is the socket's default reconnect schedule:
// [0.01, 0.05, 0.10, 0.15, 0.20, 0.25, 0.50, 1.00, 2.00]s indexed by
// tries-1, saturating at 5s for tries >= 10.
func DefaultReconnectBackoff(tries int) time.Duration {
	steps := []float64{0.01, 0.05, 0.10, 0.15, 0.20, 0.25, 0.50, 1.00, 2.00}
	if tries <= 0 {
		tries = 1
	}
	if tries-1 < len(steps) {
		return durationFromSeconds(steps[tries-1])
	}
	return 5 * time.Second
}

// DefaultRejoinBackoff is the channel's default rejoin schedule:
// [1, 2, 5]s, saturating at 10s.
func DefaultRejoinBackoff(tries int) time.Duration {
	steps := []float64{1, 2, 5}
	if tries <= 0 {
		tries = 1
	}
	if tries-1 < len(steps) {
		return durationFromSeconds(steps[tries-1])
	}
	return 10 * time.Second
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// TimeoutTimer is the stepped-back-off timer behind Socket's reconnect
// timer and Channel's rejoin timer (spec §4.4). It tracks an attempt
// counter, schedules a single pending callback at a time, and Reset
// cancels any in-flight callback and zeroes the counter.
//
// TimeoutTimer holds no reference back to its owner; callers pass the
// callback at construction, matching spec §9's "must not hold a strong
// back-reference to its owner."
type TimeoutTimer struct {
	clock    Clock
	backoff  BackoffFunc
	callback func()

	mu      sync.Mutex
	tries   int
	pending CancelFunc
}

// NewTimeoutTimer creates a timer that invokes callback after each
// scheduled delay, computed by backoff.
func NewTimeoutTimer(clock Clock, backoff BackoffFunc, callback func()) *TimeoutTimer {
	if clock == nil {
		clock = RealClock{}
	}
	return &TimeoutTimer{clock: clock, backoff: backoff, callback: callback}
}

// ScheduleTimeout computes the next interval, posts a delayed callback, and
// increments the attempt counter. Any previously pending callback is
// cancelled first so at most one is ever in flight.
func (t *TimeoutTimer) ScheduleTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending()
	}
	t.tries++
	delay := t.backoff(t.tries)
	t.pending = t.clock.AfterFunc(delay, t.callback)
}

// Reset cancels any in-flight callback and zeroes the attempt counter.
func (t *TimeoutTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending()
		t.pending = nil
	}
	t.tries = 0
}

// Tries reports the current attempt counter, mainly for diagnostics/tests.
func (t *TimeoutTimer) Tries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tries
}

// HeartbeatTimer is a fixed-interval repeating timer (spec §4.4). Start is
// idempotent: calling it again replaces the prior schedule. Equality is
// identity — each HeartbeatTimer is distinct from any other, there is no
// value-equality notion.
type HeartbeatTimer struct {
	clock    Clock
	interval time.Duration

	mu      sync.Mutex
	cancel  CancelFunc
	valid   bool
}

// NewHeartbeatTimer creates a heartbeat timer with the given interval.
func NewHeartbeatTimer(clock Clock, interval time.Duration) *HeartbeatTimer {
	if clock == nil {
		clock = RealClock{}
	}
	return &HeartbeatTimer{clock: clock, interval: interval}
}

// Start installs a repeating callback, replacing any previously installed
// one.
func (h *HeartbeatTimer) Start(handler func()) {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.valid = true
	h.mu.Unlock()

	var tick func()
	tick = func() {
		h.mu.Lock()
		if !h.valid {
			h.mu.Unlock()
			return
		}
		h.cancel = h.clock.AfterFunc(h.interval, tick)
		h.mu.Unlock()
		handler()
	}

	h.mu.Lock()
	h.cancel = h.clock.AfterFunc(h.interval, tick)
	h.mu.Unlock()
}

// Stop cancels the repeating callback and marks the timer invalid.
func (h *HeartbeatTimer) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.valid = false
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// IsValid reports whether a live periodic schedule is currently installed.
func (h *HeartbeatTimer) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}
