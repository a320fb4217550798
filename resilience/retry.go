package resilience

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means a single attempt. Negative values are treated as zero.
	MaxRetries int

	// BackoffFactor is the base of the exponential delay. The delay before
	// retry i (starting at 0) is Unit * BackoffFactor^i.
	// Default: 2.0
	BackoffFactor float64

	// Unit is the delay before the first retry.
	// Default: 1 second
	Unit time.Duration

	// RetryIf determines if an error should trigger a retry.
	// Default: all non-nil errors trigger retry.
	RetryIf func(err error) bool

	// OnRetry is called before sleeping ahead of each retry. attempt is the
	// 1-based number of the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry runs operations with bounded retries and exponential backoff.
//
// Contract:
//   - Concurrency: safe for concurrent use; each Execute has its own backoff state.
//   - Errors: when every attempt fails, the last attempt's error is returned
//     unchanged. Earlier errors are only passed to OnRetry.
//   - Context: cancellation during a backoff sleep returns ctx.Err(). There is
//     no other deadline.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2.0
	}
	if config.Unit <= 0 {
		config.Unit = time.Second
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}

	return &Retry{config: config}
}

// Execute runs op until it succeeds or the retry budget is spent.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do runs op through r and returns its result.
func Do[T any](ctx context.Context, r *Retry, op func(context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !r.config.RetryIf(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, delay time.Duration) {
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
	}
	return backoff.RetryNotifyWithData(operation, r.newBackOff(ctx), notify)
}

func (r *Retry) newBackOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.config.Unit,
		RandomizationFactor: 0,
		Multiplier:          r.config.BackoffFactor,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.config.MaxRetries)), ctx)
}

// Delay returns the sleep before retry i (starting at 0).
func (r *Retry) Delay(i int) time.Duration {
	d := float64(r.config.Unit) * math.Pow(r.config.BackoffFactor, float64(i))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// WithOnRetry returns a copy of r whose OnRetry also calls fn after the
// existing hook.
func (r *Retry) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) *Retry {
	cfg := r.config
	prev := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		if prev != nil {
			prev(attempt, err, delay)
		}
		fn(attempt, err, delay)
	}
	return &Retry{config: cfg}
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
