package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/callguard/resilience"
)

// BreakerChecker reports on every breaker in a registry.
type BreakerChecker struct {
	registry *resilience.BreakerRegistry
}

// NewBreakerChecker creates a checker over registry.
func NewBreakerChecker(registry *resilience.BreakerRegistry) *BreakerChecker {
	return &BreakerChecker{registry: registry}
}

func (c *BreakerChecker) Name() string { return "circuit_breakers" }

// Check is Healthy when every breaker is closed, Degraded when some are open
// or half-open, and Unhealthy when all of them are open.
func (c *BreakerChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	snapshot := c.registry.Snapshot()
	if len(snapshot) == 0 {
		return Healthy("no circuit breakers")
	}

	var open, halfOpen int
	details := make(map[string]any, len(snapshot))
	for name, m := range snapshot {
		switch m.State {
		case resilience.StateOpen:
			open++
		case resilience.StateHalfOpen:
			halfOpen++
		}
		details[name] = map[string]any{
			"state":             m.State.String(),
			"failure_count":     m.Failures,
			"failure_threshold": m.FailureThreshold,
		}
	}

	switch {
	case open == len(snapshot):
		return Unhealthy(fmt.Sprintf("all %d circuit breakers open", open), ErrCircuitOpen).WithDetails(details)
	case open+halfOpen > 0:
		return Degraded(fmt.Sprintf("%d open, %d half-open of %d circuit breakers", open, halfOpen, len(snapshot))).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("%d circuit breakers closed", len(snapshot))).WithDetails(details)
	}
}
