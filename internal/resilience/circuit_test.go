package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testBreaker(threshold int, reset time.Duration, clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker("companydata", CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	return cb.WithNow(func() time.Time { return *clock })
}

func failLookup(ctx context.Context) (string, error) {
	return "", NewTransientError(errors.New("upstream unavailable"), 503)
}

func okLookup(ctx context.Context) (string, error) {
	return "record", nil
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := testBreaker(3, time.Minute, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := Execute(ctx, cb, failLookup); err == nil {
			t.Fatal("failing call returned nil error")
		}
	}
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v after threshold failures, want open", got)
	}

	calls := 0
	_, err := Execute(ctx, cb, func(ctx context.Context) (string, error) {
		calls++
		return okLookup(ctx)
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Error("open circuit must reject before reaching the upstream")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := testBreaker(3, time.Minute, &now)
	ctx := context.Background()

	_, _ = Execute(ctx, cb, failLookup)
	_, _ = Execute(ctx, cb, failLookup)
	_, _ = Execute(ctx, cb, okLookup)
	_, _ = Execute(ctx, cb, failLookup)
	_, _ = Execute(ctx, cb, failLookup)

	if got := cb.State(); got != CircuitClosed {
		t.Errorf("State() = %v, want closed (success cleared the tally)", got)
	}
}

func TestCircuitBreaker_ClosesAfterSuccessfulRecovery(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := testBreaker(2, time.Minute, &now)
	ctx := context.Background()

	_, _ = Execute(ctx, cb, failLookup)
	_, _ = Execute(ctx, cb, failLookup)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	now = now.Add(61 * time.Second)
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("State() = %v after reset timeout, want half-open", got)
	}

	got, err := Execute(ctx, cb, okLookup)
	if err != nil {
		t.Fatalf("recovery call error = %v", err)
	}
	if got != "record" {
		t.Errorf("recovery call = %q, want record", got)
	}
	if st := cb.State(); st != CircuitClosed {
		t.Errorf("State() = %v after recovery, want closed", st)
	}

	// A single new failure must not reopen a freshly closed circuit.
	_, _ = Execute(ctx, cb, failLookup)
	if st := cb.State(); st != CircuitClosed {
		t.Errorf("State() = %v after one failure, want closed", st)
	}
}

func TestCircuitBreaker_FailedRecoveryReopens(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cb := testBreaker(2, time.Minute, &now)
	ctx := context.Background()

	_, _ = Execute(ctx, cb, failLookup)
	_, _ = Execute(ctx, cb, failLookup)
	now = now.Add(61 * time.Second)

	if _, err := Execute(ctx, cb, failLookup); err == nil {
		t.Fatal("recovery call returned nil error")
	}
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v after failed recovery, want open", got)
	}

	// The reset timeout restarts from the failed recovery attempt.
	now = now.Add(30 * time.Second)
	if _, err := Execute(ctx, cb, okLookup); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want ErrCircuitOpen until the timeout elapses again", err)
	}
}

func TestNewCircuitBreaker_DefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{})
	want := DefaultCircuitBreakerConfig()
	if cb.cfg.FailureThreshold != want.FailureThreshold {
		t.Errorf("FailureThreshold = %d, want %d", cb.cfg.FailureThreshold, want.FailureThreshold)
	}
	if cb.cfg.ResetTimeout != want.ResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", cb.cfg.ResetTimeout, want.ResetTimeout)
	}
	if cb.cfg.HalfOpenMaxProbes != want.HalfOpenMaxProbes {
		t.Errorf("HalfOpenMaxProbes = %d, want %d", cb.cfg.HalfOpenMaxProbes, want.HalfOpenMaxProbes)
	}
}
