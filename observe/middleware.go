package observe

import (
	"context"
	"errors"
	"time"
)

// Middleware wraps operations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: wrapped functions are safe for concurrent use when the
//     underlying function is.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics OpMetrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics OpMetrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopInstruments()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, errors.New("observe: observer is nil")
	}
	return NewMiddleware(NewTracer(obs.Tracer()), obs.Instruments(), obs.Logger()), nil
}

// Wrap returns op instrumented under meta.
func (m *Middleware) Wrap(meta OpMeta, op func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		err := op(ctx)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordOperation(ctx, meta, duration, err)

		fields := []Field{
			{Key: "op.id", Value: meta.ID()},
			{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
		}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			m.logger.Warn(ctx, "operation failed", fields...)
		} else {
			m.logger.Debug(ctx, "operation completed", fields...)
		}
		return err
	}
}

// Timed wraps a value-returning operation with m. It is the typed form of Wrap.
func Timed[T any](m *Middleware, meta OpMeta, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var out T
		err := m.Wrap(meta, func(ctx context.Context) error {
			var err error
			out, err = op(ctx)
			return err
		})(ctx)
		return out, err
	}
}
