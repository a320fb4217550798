package failure

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/callguard/observe"
	"github.com/jonwraymond/callguard/resilience"
)

// Metrics is the telemetry a Handler records. *observe.Instruments satisfies it.
type Metrics interface {
	observe.FailureMetrics
	observe.ResilienceMetrics
}

// AlertFunc delivers a High or Critical record to an external sink.
type AlertFunc func(ctx context.Context, rec Record) error

// Options configures a Handler.
type Options struct {
	// LogDir holds the per-day error files. Defaults to DefaultLogDir.
	LogDir string

	Logger  observe.Logger
	Metrics Metrics
	Tracer  observe.Tracer

	// Alert receives every High and Critical record. Optional.
	Alert AlertFunc

	// Breakers backs CircuitBreaker and the breaker section of summaries.
	// When nil a registry is created whose breakers log and record their
	// transitions through Logger and Metrics.
	Breakers *resilience.BreakerRegistry

	// RetryUnit scales the delays of the default retry policies.
	// Default: 1 second
	RetryUnit time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Handler records terminal failures and runs operations under the retry
// policy of their category.
//
// Contract:
//   - Concurrency: safe for concurrent use. Readers may miss records added
//     concurrently but never see a partial one.
//   - Errors: persistence and alert failures are logged, never returned.
type Handler struct {
	logger   observe.Logger
	metrics  Metrics
	tracer   observe.Tracer
	alert    AlertFunc
	breakers *resilience.BreakerRegistry
	store    *FileStore
	now      func() time.Time

	retryMu sync.RWMutex
	retries map[Category]*resilience.Retry

	mu      sync.RWMutex
	history []Record

	exportMu sync.Mutex
}

// New creates a Handler with the default retry policies registered.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = observe.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.NopInstruments()
	}
	if opts.Tracer == nil {
		opts.Tracer = observe.NopTracer()
	}
	if opts.RetryUnit <= 0 {
		opts.RetryUnit = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	h := &Handler{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		alert:   opts.Alert,
		store:   NewFileStore(opts.LogDir),
		now:     opts.Clock,
		retries: DefaultRetries(opts.RetryUnit),
	}
	h.breakers = opts.Breakers
	if h.breakers == nil {
		h.breakers = resilience.NewBreakerRegistry(BreakerDefaults(opts.Logger, opts.Metrics))
	}
	return h
}

// DefaultRetries returns the built-in retry policy per category, with delays
// measured in unit. Short-circuited calls are not retried.
func DefaultRetries(unit time.Duration) map[Category]*resilience.Retry {
	policy := func(maxRetries int, factor float64) *resilience.Retry {
		return resilience.NewRetry(resilience.RetryConfig{
			MaxRetries:    maxRetries,
			BackoffFactor: factor,
			Unit:          unit,
			RetryIf:       retryable,
		})
	}
	return map[Category]*resilience.Retry{
		CategoryNetwork:         policy(3, 2.0),
		CategoryExternalService: policy(2, 3.0),
		CategoryResource:        policy(1, 1.0),
		CategoryAuthentication:  policy(1, 1.0),
	}
}

func retryable(err error) bool {
	return err != nil && !resilience.IsCircuitOpen(err)
}

// BreakerDefaults returns a breaker configuration whose callbacks log state
// changes and rejections and record them on metrics.
func BreakerDefaults(logger observe.Logger, metrics observe.ResilienceMetrics) resilience.CircuitBreakerConfig {
	ctx := context.Background()
	return resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			metrics.RecordBreakerTransition(ctx, name, from.String(), to.String())
			fields := []observe.Field{
				{Key: "breaker", Value: name},
				{Key: "from", Value: from.String()},
				{Key: "to", Value: to.String()},
			}
			if to == resilience.StateOpen {
				logger.Warn(ctx, "circuit breaker opened", fields...)
				return
			}
			logger.Info(ctx, "circuit breaker state changed", fields...)
		},
		OnReject: func(name string) {
			metrics.RecordBreakerRejection(ctx, name)
			logger.Debug(ctx, "circuit breaker rejected call", observe.Field{Key: "breaker", Value: name})
		},
	}
}

// Store returns the handler's persistence layer.
func (h *Handler) Store() *FileStore { return h.store }

// Breakers returns the handler's breaker registry.
func (h *Handler) Breakers() *resilience.BreakerRegistry { return h.breakers }

// CircuitBreaker returns the breaker for name, created with the registry
// defaults on first use. The same name always yields the same breaker.
func (h *Handler) CircuitBreaker(name string) *resilience.CircuitBreaker {
	return h.breakers.Get(name)
}

// RegisterRetry sets the retry policy for category. A nil r removes it, so
// operations of that category run once.
func (h *Handler) RegisterRetry(category Category, r *resilience.Retry) {
	h.retryMu.Lock()
	defer h.retryMu.Unlock()
	if r == nil {
		delete(h.retries, category)
		return
	}
	h.retries[category] = r
}

// Retry returns the retry policy registered for category, or nil.
func (h *Handler) Retry(category Category) *resilience.Retry {
	h.retryMu.RLock()
	defer h.retryMu.RUnlock()
	return h.retries[category]
}

// HandleError records err as a terminal failure and returns the record.
func (h *Handler) HandleError(ctx context.Context, err error, info ErrorInfo, severity Severity, category Category) Record {
	rec := newRecord(err, info, severity, category, h.now())

	h.mu.Lock()
	h.history = append(h.history, rec)
	h.mu.Unlock()

	h.metrics.RecordFailure(ctx, severity.String(), category.String())
	h.log(ctx, rec)

	if err := h.store.Append(rec); err != nil {
		h.logger.Error(ctx, "failed to persist error record",
			observe.Field{Key: "error_id", Value: rec.ErrorID},
			observe.Field{Key: "error", Value: err},
		)
	}

	if h.alert != nil && severity.Alerting() {
		if err := h.alert(ctx, rec.clone()); err != nil {
			h.logger.Warn(ctx, "failed to deliver alert",
				observe.Field{Key: "error_id", Value: rec.ErrorID},
				observe.Field{Key: "error", Value: err},
			)
		}
	}

	return rec.clone()
}

func (h *Handler) log(ctx context.Context, rec Record) {
	fields := []observe.Field{
		{Key: "error_id", Value: rec.ErrorID},
		{Key: "severity", Value: rec.Severity.String()},
		{Key: "category", Value: rec.Category.String()},
		{Key: "exception_type", Value: rec.ExceptionType},
	}
	if rec.Function != "" {
		fields = append(fields, observe.Field{Key: "function", Value: rec.Function})
	}
	if rec.WorkflowID != "" {
		fields = append(fields, observe.Field{Key: "workflow_id", Value: rec.WorkflowID})
	}

	msg := "operation failed: " + rec.Message
	switch rec.Severity {
	case SeverityCritical:
		h.logger.Critical(ctx, msg, fields...)
	case SeverityHigh:
		h.logger.Error(ctx, msg, fields...)
	case SeverityMedium:
		h.logger.Warn(ctx, msg, fields...)
	default:
		h.logger.Info(ctx, msg, fields...)
	}
	h.logger.Debug(ctx, "error record", observe.Field{Key: "record", Value: rec})
}

// Execute runs op under the retry policy of category. When every attempt
// fails the failure is recorded and op's last error is returned unchanged.
func (h *Handler) Execute(ctx context.Context, op func(context.Context) error, category Category, severity Severity, info ErrorInfo) error {
	_, err := ExecuteWithErrorHandling(ctx, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, category, severity, info)
	return err
}

// ExecuteWithErrorHandling is the value-returning form of Handler.Execute.
func ExecuteWithErrorHandling[T any](ctx context.Context, h *Handler, op func(context.Context) (T, error), category Category, severity Severity, info ErrorInfo) (T, error) {
	meta := observe.OpMeta{Component: info.Module, Name: info.Function, Category: category.String()}
	if meta.Name == "" {
		meta.Name = "execute"
	}
	ctx, span := h.tracer.StartSpan(ctx, meta)

	var (
		out T
		err error
	)
	if r := h.Retry(category); r != nil {
		r = r.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			h.metrics.RecordRetry(ctx, category.String(), attempt)
			h.logger.Warn(ctx, "attempt failed, retrying",
				observe.Field{Key: "op.id", Value: meta.ID()},
				observe.Field{Key: "attempt", Value: attempt},
				observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
				observe.Field{Key: "error", Value: err},
			)
		})
		out, err = resilience.Do(ctx, r, op)
	} else {
		out, err = op(ctx)
	}

	h.tracer.EndSpan(span, err)
	if err != nil {
		h.HandleError(ctx, err, info, severity, category)
	}
	return out, err
}

// History returns a copy of the records handled since the last export.
func (h *Handler) History() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, len(h.history))
	for i, rec := range h.history {
		out[i] = rec.clone()
	}
	return out
}

// RecentLimit is the number of records listed in Summary.RecentErrors.
const RecentLimit = 10

// Summary aggregates the current history.
type Summary struct {
	TotalErrors     int                         `json:"total_errors"`
	BySeverity      map[Severity]int            `json:"errors_by_severity"`
	ByCategory      map[Category]int            `json:"errors_by_category"`
	RecentErrors    []Record                    `json:"recent_errors"`
	CircuitBreakers map[string]resilience.State `json:"circuit_breaker_states"`
}

// Summary returns counts by severity and category, the most recent records
// and the state of every breaker.
func (h *Handler) Summary() Summary {
	return summarize(h.History(), h.breakers)
}

func summarize(history []Record, breakers *resilience.BreakerRegistry) Summary {
	s := Summary{
		TotalErrors:     len(history),
		BySeverity:      make(map[Severity]int),
		ByCategory:      make(map[Category]int),
		RecentErrors:    slices.Clone(history[max(0, len(history)-RecentLimit):]),
		CircuitBreakers: make(map[string]resilience.State),
	}
	for _, rec := range history {
		s.BySeverity[rec.Severity]++
		s.ByCategory[rec.Category]++
	}
	for name, m := range breakers.Snapshot() {
		s.CircuitBreakers[name] = m.State
	}
	return s
}
