package breaker

import (
	"errors"
	"testing"
	"time"
)

func testBreaker(cfg Config) (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newBreaker("svc", "op", merge(cfg))
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerDefaults(t *testing.T) {
	cfg := merge(Config{})
	if cfg.TimeoutMs != 10000 {
		t.Errorf("expected timeout 10000, got %d", cfg.TimeoutMs)
	}
	if cfg.ResetTimeoutMs != 30000 {
		t.Errorf("expected reset timeout 30000, got %d", cfg.ResetTimeoutMs)
	}
	if cfg.FailureThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.FailureThreshold)
	}
}

func TestBreakerMergeOverrides(t *testing.T) {
	cfg := merge(Config{FailureThreshold: 2, TimeoutMs: 500})
	if cfg.FailureThreshold != 2 {
		t.Errorf("expected threshold 2, got %d", cfg.FailureThreshold)
	}
	if cfg.TimeoutMs != 500 {
		t.Errorf("expected timeout 500, got %d", cfg.TimeoutMs)
	}
	if cfg.ResetTimeoutMs != 30000 {
		t.Errorf("expected default reset timeout, got %d", cfg.ResetTimeoutMs)
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	cb, _ := testBreaker(Config{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if cb.State() != Closed {
			t.Fatalf("expected Closed after %d failures, got %s", i+1, cb.State())
		}
	}

	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("expected Open at threshold, got %s", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb, now := testBreaker(Config{FailureThreshold: 1, ResetTimeoutMs: 1000})

	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("expected Open, got %s", cb.State())
	}

	// Before the reset timeout calls are rejected
	if err := cb.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen before reset timeout, got %v", err)
	}

	// After the reset timeout one probe is admitted
	*now = now.Add(1500 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe to be admitted, got %v", err)
	}
	if cb.State() != HalfOpen {
		t.Fatalf("expected HalfOpen, got %s", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, now := testBreaker(Config{FailureThreshold: 1, ResetTimeoutMs: 1000})

	cb.RecordFailure()
	*now = now.Add(2 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("probe: %v", err)
	}

	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("expected Open after failed probe, got %s", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen after failed probe, got %v", err)
	}
}

func TestBreakerSuccessCloses(t *testing.T) {
	cb, now := testBreaker(Config{FailureThreshold: 1, ResetTimeoutMs: 1000})

	cb.RecordFailure()
	*now = now.Add(2 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("probe: %v", err)
	}

	cb.RecordSuccess()
	if cb.State() != Closed {
		t.Fatalf("expected Closed after successful probe, got %s", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected calls admitted after close, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(Config{FailureThreshold: 2})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != Closed {
		t.Fatalf("expected Closed, success should reset the count, got %s", cb.State())
	}
}
