package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout is used when NewTimeout is given a non-positive limit.
const DefaultTimeout = 30 * time.Second

// Timeout bounds the wall-clock time of one call. Retry and CircuitBreaker
// have no deadline of their own; an Executor applies a Timeout per attempt.
type Timeout struct {
	limit time.Duration
}

// NewTimeout returns a Timeout with the given limit.
func NewTimeout(limit time.Duration) *Timeout {
	if limit <= 0 {
		limit = DefaultTimeout
	}
	return &Timeout{limit: limit}
}

// Limit returns the configured limit.
func (t *Timeout) Limit() time.Duration { return t.limit }

// TimeoutError is returned when a call outlives its Timeout. It matches both
// ErrTimeout and context.DeadlineExceeded.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s after %s", ErrTimeout, e.Limit)
}

func (e *TimeoutError) Unwrap() []error {
	return []error{ErrTimeout, context.DeadlineExceeded}
}

// Execute runs op under a deadline of t.Limit. When the deadline passes
// first, Execute returns a *TimeoutError at once; op keeps running until it
// observes its cancelled context. Cancellation of the parent ctx is returned
// as ctx.Err().
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, t.limit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(attemptCtx) }()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
			errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Limit: t.limit}
		}
		return err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return &TimeoutError{Limit: t.limit}
	}
}

// ExecuteWithTimeout runs op once under limit.
func ExecuteWithTimeout(ctx context.Context, limit time.Duration, op func(context.Context) error) error {
	return NewTimeout(limit).Execute(ctx, op)
}
