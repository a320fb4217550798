package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_NoPatterns(t *testing.T) {
	calls := 0
	err := NewExecutor().Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("Execute() = %v after %d calls", err, calls)
	}
}

func TestExecutor_BreakerSeesOneOutcomePerRetriedCall(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	e := NewExecutor(
		WithCircuitBreaker(cb),
		WithRetry(NewRetry(RetryConfig{MaxRetries: 2, Unit: time.Millisecond})),
	)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) error {
		calls++
		return errBoom
	}

	if err := e.Execute(ctx, op); !errors.Is(err, errBoom) {
		t.Fatalf("first Execute() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 attempts", calls)
	}
	if got := cb.Metrics().Failures; got != 1 {
		t.Fatalf("breaker failures = %d, want 1", got)
	}

	_ = e.Execute(ctx, op)
	if err := e.Execute(ctx, op); !IsCircuitOpen(err) {
		t.Fatalf("third Execute() error = %v, want circuit open", err)
	}
	if calls != 6 {
		t.Errorf("calls = %d, want 6", calls)
	}
}

func TestExecutor_TimeoutAppliesPerAttempt(t *testing.T) {
	e := NewExecutor(
		WithRetry(NewRetry(RetryConfig{MaxRetries: 1, Unit: time.Millisecond})),
		WithTimeout(10*time.Millisecond),
	)
	attempts := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want success on the second attempt", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestExecutor_RateLimiterOutermost(t *testing.T) {
	e := NewExecutor(
		WithRateLimiter(NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1})),
		WithBulkhead(NewBulkhead(BulkheadConfig{MaxConcurrent: 1})),
	)
	ctx := context.Background()

	if err := e.Execute(ctx, succeeding); err != nil {
		t.Fatal(err)
	}
	if err := e.Execute(ctx, succeeding); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("error = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRun_ReturnsValue(t *testing.T) {
	e := NewExecutor(WithRetry(NewRetry(RetryConfig{MaxRetries: 1, Unit: time.Millisecond})))
	got, err := Run(context.Background(), e, func(context.Context) (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("Run() = %q, %v", got, err)
	}
}
