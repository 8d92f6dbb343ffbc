package chunking

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrHTTP is a transport-level failure from the refinement endpoint.
// RetryAfter carries the server's Retry-After header when present (0 if absent).
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value into a duration. Both
// forms are accepted: delta-seconds ("30") and HTTP-date. Absent, negative,
// or unparseable values yield 0.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ErrInvalidResult is a refiner verdict that failed validation: an unknown
// enum value or an out-of-range numeric. Never retried — the payload arrived
// fine, its content is wrong.
type ErrInvalidResult struct {
	Field string
	Value string
}

func (e *ErrInvalidResult) Error() string {
	return fmt.Sprintf("invalid refinement result: %s=%q", e.Field, e.Value)
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call without
// attempting it. RetryIn estimates how long until the breaker admits a probe.
type ErrCircuitOpen struct {
	RetryIn time.Duration
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open (retry in %s)", e.RetryIn.Round(time.Millisecond))
}

// ErrRateLimited is returned when the local rate limiter has no budget for a
// call. Wait estimates how long until the window admits one.
type ErrRateLimited struct {
	Wait time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit exceeded (budget in %s)", e.Wait.Round(time.Millisecond))
}

// ErrJobState is returned when an operation is illegal for a job's current
// status, e.g. cancelling a job that already started running.
type ErrJobState struct {
	ID     string
	Status JobStatus
}

func (e *ErrJobState) Error() string {
	return fmt.Sprintf("job %s: illegal operation in status %q", e.ID, e.Status)
}

// ErrQueueFull is returned by job submission when the pending queue is at
// capacity. Callers should back off and resubmit later.
type ErrQueueFull struct {
	Depth    int
	Capacity int
}

func (e *ErrQueueFull) Error() string {
	return fmt.Sprintf("job queue full (%d/%d)", e.Depth, e.Capacity)
}
