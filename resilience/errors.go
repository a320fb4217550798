package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// OpenError is returned by a CircuitBreaker that short-circuits a call.
// It matches ErrCircuitOpen with errors.Is.
type OpenError struct {
	// Breaker is the name of the breaker that rejected the call.
	Breaker string

	// RetryAfter is how long until the breaker admits a trial call.
	// Zero while a trial call is already in flight.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.Breaker == "" {
		return ErrCircuitOpen.Error()
	}
	return fmt.Sprintf("resilience: circuit breaker %q is open", e.Breaker)
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// IsCircuitOpen reports whether err was caused by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
