package resilience

import (
	"context"
	"sync"
	"time"
)

// Operation is the unit of work every pattern in this package wraps.
type Operation func(ctx context.Context) error

// pattern is implemented by every resilience pattern in this package.
type pattern interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Executor composes multiple resilience patterns.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.rateLimiter = rl }
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithTimeout bounds each attempt with timeout.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = NewTimeout(timeout) }
}

// Wrap returns op composed with every configured pattern.
//
// From outermost to innermost the order is: rate limiter, bulkhead, circuit
// breaker, retry, timeout. The breaker therefore sees one outcome per
// retried call, and the timeout applies to each attempt.
func (e *Executor) Wrap(op Operation) Operation {
	// Innermost first.
	var layers []pattern
	if e.timeout != nil {
		layers = append(layers, e.timeout)
	}
	if e.retry != nil {
		layers = append(layers, e.retry)
	}
	if e.circuitBreaker != nil {
		layers = append(layers, e.circuitBreaker)
	}
	if e.bulkhead != nil {
		layers = append(layers, e.bulkhead)
	}
	if e.rateLimiter != nil {
		layers = append(layers, e.rateLimiter)
	}

	wrapped := op
	for _, p := range layers {
		p := p
		inner := wrapped
		wrapped = func(ctx context.Context) error { return p.Execute(ctx, inner) }
	}
	return wrapped
}

// Execute runs the operation through all configured resilience patterns.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	return e.Wrap(op)(ctx)
}

// Run executes op through e and returns its result. A result produced by an
// attempt that has already been abandoned by a Timeout is discarded once Run
// has returned.
func Run[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var (
		mu       sync.Mutex
		out      T
		returned bool
	)
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			mu.Lock()
			if !returned {
				out = v
			}
			mu.Unlock()
		}
		return err
	})

	mu.Lock()
	defer mu.Unlock()
	returned = true
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
