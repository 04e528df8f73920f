package search

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	if !cb.CanProceed() {
		t.Fatal("fresh breaker must allow requests")
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if !cb.CanProceed() {
		t.Error("breaker must stay closed below the threshold")
	}

	cb.RecordFailure()
	if cb.CanProceed() {
		t.Error("breaker must open at the threshold")
	}

	isOpen, failures, total := cb.GetStatus()
	if !isOpen || failures != 3 || total != 3 {
		t.Errorf("status = open %v failures %d total %d", isOpen, failures, total)
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if !cb.CanProceed() {
		t.Error("non-consecutive failures must not open the breaker")
	}
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.CanProceed() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.CanProceed() {
		t.Error("breaker should half-open after the reset timeout")
	}

	// Counters start over in the half-open probe.
	_, failures, total := cb.GetStatus()
	if failures != 0 || total != 0 {
		t.Errorf("counters = failures %d total %d, want reset", failures, total)
	}
}
