package chunking

import (
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
	if !b.CanExecute() {
		t.Error("CanExecute() = false for a fresh breaker")
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() = %v after 2 failures, want closed", got)
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v after 3 failures, want open", got)
	}
	if b.CanExecute() {
		t.Error("CanExecute() = true while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// Failures are consecutive: the success above wiped the first two.
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
	if got := b.Failures(); got != 2 {
		t.Errorf("Failures() = %d, want 2", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := NewCircuitBreaker(1, 20*time.Millisecond)

	b.RecordFailure()
	if b.CanExecute() {
		t.Fatal("CanExecute() = true immediately after opening")
	}

	time.Sleep(30 * time.Millisecond)
	if !b.CanExecute() {
		t.Fatal("CanExecute() = false after cooldown elapsed")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("State() = %v after cooldown probe admitted, want half-open", got)
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.CanExecute() {
		t.Fatal("probe not admitted")
	}
	b.RecordSuccess()

	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v after probe success, want closed", got)
	}
	if got := b.Failures(); got != 0 {
		t.Errorf("Failures() = %d after close, want 0", got)
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.CanExecute() {
		t.Fatal("probe not admitted")
	}
	b.RecordFailure()

	if got := b.State(); got != StateOpen {
		t.Errorf("State() = %v after probe failure, want open", got)
	}
	if b.CanExecute() {
		t.Error("CanExecute() = true immediately after reopening")
	}
}

func TestCircuitBreaker_RetryIn(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	if got := b.RetryIn(); got != 0 {
		t.Errorf("RetryIn() = %v while closed, want 0", got)
	}

	b.RecordFailure()
	got := b.RetryIn()
	if got <= 0 || got > time.Minute {
		t.Errorf("RetryIn() = %v while open, want in (0, 1m]", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	b := NewCircuitBreaker(1, time.Hour)
	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v after Reset, want closed", got)
	}
	if !b.CanExecute() {
		t.Error("CanExecute() = false after Reset")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b := NewCircuitBreaker(1, 10*time.Millisecond,
		BreakerOnStateChange(func(from, to CircuitState) {
			transitions = append(transitions, from.String()+">"+to.String())
		}))

	b.RecordFailure()                 // closed > open
	time.Sleep(20 * time.Millisecond) //
	b.CanExecute()                    // open > half-open
	b.RecordSuccess()                 // half-open > closed

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("got %d transitions %v, want %v", len(transitions), transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
