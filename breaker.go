package chunking

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState is the breaker's current mode.
type CircuitState int

const (
	// StateClosed admits every call.
	StateClosed CircuitState = iota
	// StateOpen rejects every call until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits probe calls; one success closes the circuit,
	// one failure reopens it.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// BreakerOnStateChange registers a hook called after every state transition.
// Called outside the breaker's lock; keep it fast (gauge updates, logging).
func BreakerOnStateChange(fn func(from, to CircuitState)) BreakerOption {
	return func(b *CircuitBreaker) { b.onStateChange = fn }
}

// BreakerLogger sets the structured logger for state transitions.
// If not set, a no-op logger is used (no output).
func BreakerLogger(l *slog.Logger) BreakerOption {
	return func(b *CircuitBreaker) { b.logger = l }
}

// CircuitBreaker guards the refinement endpoint against sustained failure.
// maxFailures consecutive failures open the circuit; after timeout the next
// CanExecute admits a probe (half-open); the probe's outcome decides between
// closing and reopening.
//
// A breaker is shared by reference: construct one per upstream endpoint and
// hand the same instance to every client that talks to it.
//
//	breaker := chunking.NewCircuitBreaker(5, 30*time.Second)
//	client := chunking.NewRefinementClient(refiner, breaker, limiter)
type CircuitBreaker struct {
	maxFailures   int
	timeout       time.Duration
	onStateChange func(from, to CircuitState)
	logger        *slog.Logger

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker. maxFailures <= 0 defaults to 5,
// timeout <= 0 to 60s.
func NewCircuitBreaker(maxFailures int, timeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxFailures <= 0 {
		b.maxFailures = 5
	}
	if b.timeout <= 0 {
		b.timeout = 60 * time.Second
	}
	if b.logger == nil {
		b.logger = nopLogger
	}
	return b
}

// CanExecute reports whether a call may proceed. In the open state it also
// performs the open→half-open transition once the cooldown has elapsed, so
// the first caller after the timeout becomes the probe.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	switch b.state {
	case StateClosed, StateHalfOpen:
		b.mu.Unlock()
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.timeout {
			from := b.setStateLocked(StateHalfOpen)
			b.mu.Unlock()
			b.notify(from, StateHalfOpen)
			return true
		}
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()
	return false
}

// RecordSuccess registers a successful call. In the closed state it resets
// the consecutive-failure count; in half-open it closes the circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	var from, to CircuitState
	fired := false
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.failures = 0
		from = b.setStateLocked(StateClosed)
		to = StateClosed
		fired = true
	}
	b.mu.Unlock()
	if fired {
		b.notify(from, to)
	}
}

// RecordFailure registers a failed call. Opens the circuit when consecutive
// failures reach the threshold, or immediately when a half-open probe fails.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	b.lastFailure = time.Now()
	var from, to CircuitState
	fired := false
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			from = b.setStateLocked(StateOpen)
			to = StateOpen
			fired = true
		}
	case StateHalfOpen:
		from = b.setStateLocked(StateOpen)
		to = StateOpen
		fired = true
	}
	b.mu.Unlock()
	if fired {
		b.notify(from, to)
	}
}

// State returns the current state without side effects. Note that an open
// breaker whose cooldown has elapsed still reports open until the next
// CanExecute performs the transition.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RetryIn estimates how long until an open breaker admits a probe.
// Returns 0 when the breaker is not open.
func (b *CircuitBreaker) RetryIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	d := b.timeout - time.Since(b.lastFailure)
	if d < 0 {
		d = 0
	}
	return d
}

// Reset forces the breaker back to closed with zero failures.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	from := b.setStateLocked(StateClosed)
	b.failures = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// setStateLocked swaps the state and returns the previous one.
// Caller must hold b.mu.
func (b *CircuitBreaker) setStateLocked(to CircuitState) CircuitState {
	from := b.state
	b.state = to
	return from
}

// notify logs a transition and fires the hook. Called without b.mu held.
func (b *CircuitBreaker) notify(from, to CircuitState) {
	if from == to {
		return
	}
	switch to {
	case StateOpen:
		b.logger.Warn("circuit breaker opened", "from", from.String(), "cooldown", b.timeout)
	case StateHalfOpen:
		b.logger.Info("circuit breaker half-open, probing")
	case StateClosed:
		b.logger.Info("circuit breaker closed", "from", from.String())
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
