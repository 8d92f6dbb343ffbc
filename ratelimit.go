package chunking

import (
	"sync"
	"time"
)

// RateLimiter admits calls under a client-side budget: at most maxCalls
// within any trailing window. Admission is non-blocking — a caller that gets
// false skips its call instead of queueing behind the window.
//
// Like CircuitBreaker, a limiter is shared by reference among every client
// talking to the same upstream endpoint, so the budget is process-wide.
type RateLimiter struct {
	maxCalls int
	window   time.Duration

	mu sync.Mutex

	// Sliding window of admitted call timestamps, oldest first.
	calls []time.Time

	// Server-signaled backoff: nothing is admitted before this instant.
	penaltyUntil time.Time
}

// NewRateLimiter creates a limiter. maxCalls <= 0 defaults to 60,
// window <= 0 to one minute.
func NewRateLimiter(maxCalls int, window time.Duration) *RateLimiter {
	if maxCalls <= 0 {
		maxCalls = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{maxCalls: maxCalls, window: window}
}

// CanExecute reports whether the budget admits a call right now. It does not
// record the call — pair with RecordCall once the call is actually sent.
func (r *RateLimiter) CanExecute() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Before(r.penaltyUntil) {
		return false
	}
	r.calls = pruneTime(r.calls, now.Add(-r.window))
	return len(r.calls) < r.maxCalls
}

// RecordCall counts one call against the window.
func (r *RateLimiter) RecordCall() {
	r.mu.Lock()
	r.calls = append(r.calls, time.Now())
	r.mu.Unlock()
}

// WaitTime estimates how long until the next call would be admitted:
// the later of the server penalty expiring and the oldest recorded call
// sliding out of the window. Returns 0 when a call can proceed immediately.
func (r *RateLimiter) WaitTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var wait time.Duration
	if now.Before(r.penaltyUntil) {
		wait = r.penaltyUntil.Sub(now)
	}
	r.calls = pruneTime(r.calls, now.Add(-r.window))
	if len(r.calls) >= r.maxCalls {
		if w := r.calls[0].Add(r.window).Sub(now); w > wait {
			wait = w
		}
	}
	return wait
}

// NoteRetryAfter applies a server-signaled backoff (a 429's Retry-After):
// no call is admitted until d has elapsed, regardless of remaining window
// budget. The longer penalty wins when called repeatedly.
func (r *RateLimiter) NoteRetryAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)
	r.mu.Lock()
	if until.After(r.penaltyUntil) {
		r.penaltyUntil = until
	}
	r.mu.Unlock()
}

// InWindow returns the number of recorded calls currently inside the window.
func (r *RateLimiter) InWindow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = pruneTime(r.calls, time.Now().Add(-r.window))
	return len(r.calls)
}

// pruneTime drops the leading entries of a sorted time slice that fall
// before cutoff.
func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}
