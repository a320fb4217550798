// Package resilience protects calls to unreliable dependencies.
//
// # Patterns
//
//   - Retry: bounded retries with exponential backoff. The delay before
//     retry i is Unit * BackoffFactor^i and the last error is returned
//     unchanged once the budget is spent.
//
//   - CircuitBreaker: a Closed/Open/HalfOpen state machine. Open calls fail
//     immediately with an *OpenError; the move to HalfOpen happens lazily on
//     the first call after OpenTimeout.
//
//   - BreakerRegistry: one breaker per service name for the life of the
//     registry.
//
//   - RateLimiter, Bulkhead and Timeout: token bucket admission, bounded
//     concurrency and per-call deadlines.
//
// # Usage
//
//	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    OpenTimeout:      time.Minute,
//	})
//
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(breakers.Get("github")),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxRetries:    3,
//	        BackoffFactor: 2,
//	    })),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	repos, err := resilience.Run(ctx, executor, listRepos)
//	if resilience.IsCircuitOpen(err) {
//	    // serve a fallback
//	}
package resilience
