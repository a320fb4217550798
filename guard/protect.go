package guard

import (
	"context"
	"time"

	"github.com/jonwraymond/callguard/failure"
	"github.com/jonwraymond/callguard/observe"
	"github.com/jonwraymond/callguard/resilience"
)

// Call classifies a guarded call and selects the patterns applied to each
// attempt.
type Call struct {
	// Service names the circuit breaker. Empty runs without a breaker.
	Service string

	// Name identifies the operation in telemetry. Defaults to "call".
	Name string

	Category failure.Category
	Severity failure.Severity
	Info     failure.ErrorInfo

	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration

	// RateLimiter and Bulkhead, when set, admit each attempt. Share one
	// instance between the calls that should draw on the same budget.
	RateLimiter *resilience.RateLimiter
	Bulkhead    *resilience.Bulkhead
}

// executor builds the per-attempt executor: rate limiter, bulkhead, the
// service's circuit breaker, then the attempt timeout.
func (r *Runtime) executor(call Call) *resilience.Executor {
	var opts []resilience.ExecutorOption
	if call.RateLimiter != nil {
		opts = append(opts, resilience.WithRateLimiter(call.RateLimiter))
	}
	if call.Bulkhead != nil {
		opts = append(opts, resilience.WithBulkhead(call.Bulkhead))
	}
	if call.Service != "" {
		opts = append(opts, resilience.WithCircuitBreaker(r.breakers.Get(call.Service)))
	}
	if call.Timeout > 0 {
		opts = append(opts, resilience.WithTimeout(call.Timeout))
	}
	return resilience.NewExecutor(opts...)
}

// Protect runs op through the Runtime's guards. Each attempt passes the
// call's rate limiter and bulkhead, the service's circuit breaker and the
// attempt timeout; attempts are retried under the category's policy, and a
// terminal failure is recorded by the failure Handler. The whole call is
// timed by the Runtime's middleware.
//
// A short-circuited attempt returns an error satisfying
// resilience.IsCircuitOpen; an attempt past its deadline returns a
// *resilience.TimeoutError.
func Protect[T any](ctx context.Context, r *Runtime, call Call, op func(context.Context) (T, error)) (T, error) {
	exec := r.executor(call)
	attempt := func(ctx context.Context) (T, error) {
		return resilience.Run(ctx, exec, op)
	}

	info := call.Info
	if info.Module == "" {
		info.Module = call.Service
	}
	meta := observe.OpMeta{Component: call.Service, Name: call.Name, Category: call.Category.String()}
	if meta.Name == "" {
		meta.Name = "call"
	}
	if info.Function == "" {
		info.Function = meta.Name
	}

	timed := observe.Timed(r.mw, meta, func(ctx context.Context) (T, error) {
		return failure.ExecuteWithErrorHandling(ctx, r.handler, attempt, call.Category, call.Severity, info)
	})
	return timed(ctx)
}
