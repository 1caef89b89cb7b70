// Package traffic keeps sliding windows of weather pipeline outcomes for health reporting.
package traffic

import (
	"sync"
	"time"
)

const maxAge = 30 * time.Minute

// Tracker records pipeline outcomes with their timestamps. Safe for concurrent use.
// The zero value is ready to use.
type Tracker struct {
	mu            sync.Mutex
	now           func() time.Time
	freshTimes    []time.Time
	fallbackTimes []time.Time
	deniedTimes   []time.Time
}

// NewTracker returns a Tracker using the given clock, or time.Now when nil.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// RecordFresh records a fetch that produced a new reading.
func (t *Tracker) RecordFresh() {
	t.recordOutcome(&t.freshTimes)
}

// RecordFallback records a fetch answered from cache or with a sentinel snapshot.
func (t *Tracker) RecordFallback() {
	t.recordOutcome(&t.fallbackTimes)
}

// RecordDenied records a refresh request rejected by the rate limiter.
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// FallbackRate returns (fallbackCount, totalCount) within the window. totalCount counts
// fresh and fallback outcomes; denials are excluded.
func (t *Tracker) FallbackRate(window time.Duration) (fallbacks, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	fb := countInWindow(t.fallbackTimes, cutoff)
	return fb, fb + countInWindow(t.freshTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.deniedTimes, t.clock().Add(-window))
}

// Degraded reports whether at least minSamples outcomes fell in the window and the
// share of fallbacks among them reached threshold (0..1).
func (t *Tracker) Degraded(window time.Duration, threshold float64, minSamples int) bool {
	fb, total := t.FallbackRate(window)
	if total == 0 || total < minSamples {
		return false
	}
	return float64(fb)/float64(total) >= threshold
}

// LastFresh returns the time of the most recent fresh reading still in memory.
func (t *Tracker) LastFresh() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.freshTimes) == 0 {
		return time.Time{}, false
	}
	return t.freshTimes[len(t.freshTimes)-1], true
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.freshTimes = nil
	t.fallbackTimes = nil
	t.deniedTimes = nil
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.freshTimes)
	prune(&t.fallbackTimes)
	prune(&t.deniedTimes)
}
