package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 60 * time.Second
)

var errPanicked = errors.New("resilience: operation panicked")

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in errors and callbacks.
	Name string

	// FailureThreshold is the number of consecutive counted failures that
	// opens the circuit.
	// Default: 5
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open after the last failure
	// before a trial call is admitted.
	// Default: 60 seconds
	OpenTimeout time.Duration

	// IsFailure determines if an error counts toward FailureThreshold.
	// Errors it rejects are returned to the caller but leave the breaker
	// untouched.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// OnStateChange is called after the circuit state changes, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// OnReject is called when a call is short-circuited.
	OnReject func(name string)

	// Clock returns the current time.
	// Default: time.Now
	Clock func() time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
//
// The Open to HalfOpen transition is evaluated lazily when a call arrives,
// never by a timer. In HalfOpen exactly one trial call runs at a time.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trial       bool
}

type transition struct{ from, to State }

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultOpenTimeout
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Execute runs the operation through the circuit breaker. While the circuit
// is open it returns an *OpenError without calling op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	trial, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			cb.afterRequest(trial, errPanicked)
		}
	}()

	err = op(ctx)
	done = true
	cb.afterRequest(trial, err)
	return err
}

// Call runs op through cb and returns its result.
func Call[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = op(ctx)
		return err
	})
	return out, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	state, changes := cb.currentStateLocked()
	cb.mu.Unlock()

	cb.notify(changes)
	return state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	old := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.lastFailure = time.Time{}
	cb.trial = false
	cb.mu.Unlock()

	if old != StateClosed {
		cb.notify([]transition{{old, StateClosed}})
	}
}

func (cb *CircuitBreaker) beforeRequest() (trial bool, err error) {
	cb.mu.Lock()
	state, changes := cb.currentStateLocked()

	switch state {
	case StateOpen:
		err = &OpenError{
			Breaker:    cb.config.Name,
			RetryAfter: cb.config.OpenTimeout - cb.config.Clock().Sub(cb.lastFailure),
		}
	case StateHalfOpen:
		if cb.trial {
			err = &OpenError{Breaker: cb.config.Name}
		} else {
			cb.trial = true
			trial = true
		}
	}
	cb.mu.Unlock()

	cb.notify(changes)
	if err != nil && cb.config.OnReject != nil {
		cb.config.OnReject(cb.config.Name)
	}
	return trial, err
}

func (cb *CircuitBreaker) afterRequest(trial bool, err error) {
	cb.mu.Lock()

	old := cb.state
	switch {
	case err == nil:
		cb.onSuccessLocked(trial)
	case cb.config.IsFailure(err):
		cb.onFailureLocked(trial)
	case trial:
		// Not counted: free the slot for the next trial.
		cb.trial = false
	}
	state := cb.state
	cb.mu.Unlock()

	if old != state {
		cb.notify([]transition{{old, state}})
	}
}

func (cb *CircuitBreaker) onSuccessLocked(trial bool) {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if trial {
			cb.state = StateClosed
			cb.failures = 0
			cb.trial = false
		}
	}
	// Results arriving while open belong to calls admitted earlier.
}

func (cb *CircuitBreaker) onFailureLocked(trial bool) {
	switch cb.state {
	case StateClosed:
		cb.failures++
		cb.lastFailure = cb.config.Clock()
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		if trial {
			cb.failures++
			cb.lastFailure = cb.config.Clock()
			cb.state = StateOpen
			cb.trial = false
		}
	}
}

func (cb *CircuitBreaker) currentStateLocked() (State, []transition) {
	if cb.state == StateOpen && cb.config.Clock().Sub(cb.lastFailure) >= cb.config.OpenTimeout {
		cb.state = StateHalfOpen
		cb.trial = false
		return cb.state, []transition{{StateOpen, StateHalfOpen}}
	}
	return cb.state, nil
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		cb.config.OnStateChange(cb.config.Name, c.from, c.to)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	state, changes := cb.currentStateLocked()
	m := CircuitBreakerMetrics{
		Name:             cb.config.Name,
		State:            state,
		Failures:         cb.failures,
		LastFailure:      cb.lastFailure,
		FailureThreshold: cb.config.FailureThreshold,
		OpenTimeout:      cb.config.OpenTimeout,
	}
	cb.mu.Unlock()

	cb.notify(changes)
	return m
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	Name             string
	State            State
	Failures         int
	LastFailure      time.Time
	FailureThreshold int
	OpenTimeout      time.Duration
}
