package chunking

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinBudget(t *testing.T) {
	r := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !r.CanExecute() {
			t.Fatalf("CanExecute() = false on call %d, want true", i+1)
		}
		r.RecordCall()
	}
	if got := r.InWindow(); got != 3 {
		t.Errorf("InWindow() = %d, want 3", got)
	}
}

func TestRateLimiter_DeniesAtBudget(t *testing.T) {
	// Two calls per minute: the third must be denied with a positive wait.
	r := NewRateLimiter(2, time.Minute)

	r.RecordCall()
	r.RecordCall()

	if r.CanExecute() {
		t.Error("CanExecute() = true at budget, want false")
	}
	wait := r.WaitTime()
	if wait <= 0 || wait > time.Minute {
		t.Errorf("WaitTime() = %v, want in (0, 1m]", wait)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	r := NewRateLimiter(1, 20*time.Millisecond)

	r.RecordCall()
	if r.CanExecute() {
		t.Fatal("CanExecute() = true at budget")
	}

	time.Sleep(30 * time.Millisecond)
	if !r.CanExecute() {
		t.Error("CanExecute() = false after the call slid out of the window")
	}
	if got := r.WaitTime(); got != 0 {
		t.Errorf("WaitTime() = %v after window slid, want 0", got)
	}
}

func TestRateLimiter_CanExecuteDoesNotRecord(t *testing.T) {
	r := NewRateLimiter(1, time.Minute)

	// Checking admission repeatedly must not consume budget.
	for i := 0; i < 5; i++ {
		if !r.CanExecute() {
			t.Fatalf("CanExecute() = false on check %d with empty window", i+1)
		}
	}
	if got := r.InWindow(); got != 0 {
		t.Errorf("InWindow() = %d after checks only, want 0", got)
	}
}

func TestRateLimiter_NoteRetryAfterBlocksAdmission(t *testing.T) {
	r := NewRateLimiter(10, time.Minute)

	r.NoteRetryAfter(30 * time.Millisecond)
	if r.CanExecute() {
		t.Error("CanExecute() = true under server penalty, want false")
	}
	if got := r.WaitTime(); got <= 0 {
		t.Errorf("WaitTime() = %v under penalty, want > 0", got)
	}

	time.Sleep(40 * time.Millisecond)
	if !r.CanExecute() {
		t.Error("CanExecute() = false after penalty expired, want true")
	}
}

func TestRateLimiter_LongerPenaltyWins(t *testing.T) {
	r := NewRateLimiter(10, time.Minute)

	r.NoteRetryAfter(50 * time.Millisecond)
	r.NoteRetryAfter(10 * time.Millisecond) // shorter: must not shrink the penalty

	if got := r.WaitTime(); got < 20*time.Millisecond {
		t.Errorf("WaitTime() = %v, want >= 20ms (longer penalty kept)", got)
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	r := NewRateLimiter(0, 0)
	if r.maxCalls != 60 {
		t.Errorf("maxCalls = %d, want default 60", r.maxCalls)
	}
	if r.window != time.Minute {
		t.Errorf("window = %v, want default 1m", r.window)
	}
}
