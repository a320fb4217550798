package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds one CheckAll run.
const DefaultCheckTimeout = 10 * time.Second

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout is the maximum time to wait for all checks.
	// Default: 10 seconds
	Timeout time.Duration

	// Concurrency bounds how many checks run at once. Zero runs them all in
	// parallel; one runs them sequentially in registration order.
	Concurrency int
}

// Aggregator combines several checkers into one report.
type Aggregator struct {
	config   AggregatorConfig
	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	var cfg AggregatorConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCheckTimeout
	}
	if cfg.Concurrency < 0 {
		cfg.Concurrency = 0
	}
	return &Aggregator{
		config:   cfg,
		checkers: make(map[string]Checker),
	}
}

// Register adds checker under name, replacing any checker of the same name.
func (a *Aggregator) Register(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.checkers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checkers[name] = checker
}

// Unregister removes the checker registered under name.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.checkers, name)
	a.order = slices.DeleteFunc(a.order, func(n string) bool { return n == name })
}

// CheckerNames returns the registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Check runs a single named health check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()

	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return runCheck(ctx, checker), nil
}

// CheckAll runs every registered check and returns the results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	names := slices.Clone(a.order)
	checkers := make([]Checker, len(names))
	for i, name := range names {
		checkers[i] = a.checkers[name]
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(names))
	if len(names) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if a.config.Concurrency > 0 {
		g.SetLimit(a.config.Concurrency)
	}
	for i, checker := range checkers {
		i, checker := i, checker
		g.Go(func() error {
			result := runCheck(ctx, checker)
			mu.Lock()
			results[names[i]] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// OverallStatus returns the worst status in results, or Healthy when there
// are none.
func OverallStatus(results map[string]Result) Status {
	status := StatusHealthy
	for _, r := range results {
		status = status.worse(r.Status)
	}
	return status
}

// Report is the aggregated health of every registered checker.
type Report struct {
	Status    Status            `json:"status"`
	Checks    map[string]Result `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

// Report runs every check and folds the results.
func (a *Aggregator) Report(ctx context.Context) Report {
	results := a.CheckAll(ctx)
	return Report{
		Status:    OverallStatus(results),
		Checks:    results,
		Timestamp: time.Now(),
	}
}

func runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()

	resultCh := make(chan Result, 1)
	go func() {
		result := checker.Check(ctx)
		result.Duration = time.Since(start)
		if result.Timestamp.IsZero() {
			result.Timestamp = start
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}

// Checker returns the aggregator as a single Checker named "aggregate".
func (a *Aggregator) Checker() Checker {
	return NewCheckerFunc("aggregate", func(ctx context.Context) Result {
		report := a.Report(ctx)

		details := make(map[string]any, len(report.Checks))
		for name, r := range report.Checks {
			details[name] = r.Status.String()
		}

		r := Result{Status: report.Status, Details: details, Timestamp: report.Timestamp}
		switch report.Status {
		case StatusHealthy:
			r.Message = "all checks passed"
		case StatusDegraded:
			r.Message = "some checks degraded"
		default:
			r.Message = "some checks failed"
		}
		return r
	})
}
