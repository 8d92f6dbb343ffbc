package chunking

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"
)

// RefinementClient wraps a Refiner with the full resilience stack: circuit
// breaker, proactive rate limiting, bounded per-attempt timeouts, and retry
// with exponential backoff. Breaker and limiter are injected so every client
// talking to the same endpoint shares one failure history and one budget.
//
// Every operational failure — open breaker, exhausted budget, exhausted
// retries, permanent HTTP error, malformed verdict — surfaces as a non-nil
// error, and the caller's recovery is always the same: keep the chunk
// unrefined. Nothing here ever blocks a batch.
type RefinementClient struct {
	refiner     Refiner
	breaker     *CircuitBreaker
	limiter     *RateLimiter
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // per-attempt budget; 0 = rely on ctx
	logger      *slog.Logger
}

// RefinementOption configures a RefinementClient.
type RefinementOption func(*RefinementClient)

// RefineMaxAttempts sets the maximum number of attempts per chunk (default: 3).
func RefineMaxAttempts(n int) RefinementOption {
	return func(c *RefinementClient) { c.maxAttempts = n }
}

// RefineBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles, plus up to 50% jitter.
func RefineBaseDelay(d time.Duration) RefinementOption {
	return func(c *RefinementClient) { c.baseDelay = d }
}

// RefineAttemptTimeout bounds each individual attempt (default: 30s).
// The zero value disables the per-attempt deadline.
func RefineAttemptTimeout(d time.Duration) RefinementOption {
	return func(c *RefinementClient) { c.timeout = d }
}

// RefineLogger sets the structured logger. Retries log at WARN, exhausted
// attempts at ERROR. If not set, a no-op logger is used (no output).
func RefineLogger(l *slog.Logger) RefinementOption {
	return func(c *RefinementClient) { c.logger = l }
}

// NewRefinementClient wraps refiner with breaker and limiter. Nil breaker or
// limiter gets a generous default, but production callers should construct
// and share their own:
//
//	breaker := chunking.NewCircuitBreaker(5, 30*time.Second)
//	limiter := chunking.NewRateLimiter(60, time.Minute)
//	client := chunking.NewRefinementClient(refiner, breaker, limiter,
//		chunking.RefineMaxAttempts(3),
//		chunking.RefineLogger(logger),
//	)
func NewRefinementClient(refiner Refiner, breaker *CircuitBreaker, limiter *RateLimiter, opts ...RefinementOption) *RefinementClient {
	c := &RefinementClient{
		refiner:     refiner,
		breaker:     breaker,
		limiter:     limiter,
		maxAttempts: 3,
		baseDelay:   time.Second,
		timeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(5, 60*time.Second)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(60, time.Minute)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// Name delegates to the inner refiner.
func (c *RefinementClient) Name() string { return c.refiner.Name() }

// Breaker returns the shared circuit breaker, for stats and gauge wiring.
func (c *RefinementClient) Breaker() *CircuitBreaker { return c.breaker }

// Limiter returns the shared rate limiter.
func (c *RefinementClient) Limiter() *RateLimiter { return c.limiter }

// Refine implements Refiner. Order of checks per attempt: breaker first
// (don't burn rate budget on an endpoint known to be down), then limiter,
// then the call. Every attempt outcome is recorded on the breaker; a 429's
// Retry-After feeds the limiter so subsequent callers back off proactively.
// Permanent errors (4xx other than 429, malformed verdicts) fail fast.
func (c *RefinementClient) Refine(ctx context.Context, req RefineRequest) (*RefinementResult, error) {
	var last error
	for i := 0; i < c.maxAttempts; i++ {
		if i > 0 {
			delay := retryDelay(c.baseDelay, i-1, last)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		if !c.breaker.CanExecute() {
			c.logger.Warn("refinement skipped, circuit open",
				"refiner", c.refiner.Name(),
				"chunk_index", req.Chunk.Index,
				"retry_in", c.breaker.RetryIn())
			return nil, &ErrCircuitOpen{RetryIn: c.breaker.RetryIn()}
		}
		if !c.limiter.CanExecute() {
			c.logger.Warn("refinement skipped, rate budget exhausted",
				"refiner", c.refiner.Name(),
				"chunk_index", req.Chunk.Index,
				"wait", c.limiter.WaitTime())
			return nil, &ErrRateLimited{Wait: c.limiter.WaitTime()}
		}

		result, err := c.attempt(ctx, req)
		if err == nil {
			c.breaker.RecordSuccess()
			return result, nil
		}
		c.breaker.RecordFailure()
		if ra := retryAfterOf(err); ra > 0 {
			c.limiter.NoteRetryAfter(ra)
		}
		if !isTransient(err) {
			c.logger.Warn("refinement failed, permanent error",
				"refiner", c.refiner.Name(),
				"chunk_index", req.Chunk.Index,
				"error", err)
			return nil, err
		}
		last = err
		c.logger.Warn("retrying transient error",
			"refiner", c.refiner.Name(),
			"chunk_index", req.Chunk.Index,
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", c.maxAttempts)
	}
	c.logger.Error("all retry attempts exhausted",
		"refiner", c.refiner.Name(),
		"chunk_index", req.Chunk.Index,
		"attempts", c.maxAttempts,
		"error", last)
	return nil, last
}

// attempt makes a single bounded call. The rate budget is charged here, per
// attempt — retries are real calls as far as the upstream is concerned.
func (c *RefinementClient) attempt(ctx context.Context, req RefineRequest) (*RefinementResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	c.limiter.RecordCall()
	result, err := c.refiner.Refine(ctx, req)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &ErrInvalidResult{Field: "result", Value: "nil"}
	}
	return result, nil
}

// isTransient reports whether err is worth retrying: HTTP 429 and 5xx,
// attempt timeouts, and network-level failures. Malformed verdicts and the
// remaining 4xx family are permanent.
func isTransient(err error) bool {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	var invalid *ErrInvalidResult
	if errors.As(err, &invalid) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// statusOf returns the HTTP status carried by err, or 0 for non-HTTP errors.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf returns the Retry-After duration carried by err, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay picks the wait before retry i: the exponential backoff, unless
// the server's Retry-After from the last failure asks for longer.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff is base * 2^i plus up to 50% random jitter, i 0-indexed.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time check
var _ Refiner = (*RefinementClient)(nil)
