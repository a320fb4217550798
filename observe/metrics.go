package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics records cache activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type CacheMetrics interface {
	// RecordLookup records one Get. tier is "memory", "disk" or "" for a miss.
	RecordLookup(ctx context.Context, cache, tier string, hit bool)

	// RecordRemoval records an entry leaving the cache. reason is "capacity" or "expired".
	RecordRemoval(ctx context.Context, cache, reason string, n int)

	// RecordStorageError records a swallowed storage-layer failure.
	RecordStorageError(ctx context.Context, cache, op string)
}

// ResilienceMetrics records retry and circuit breaker activity.
type ResilienceMetrics interface {
	RecordRetry(ctx context.Context, category string, attempt int)
	RecordBreakerTransition(ctx context.Context, breaker, from, to string)
	RecordBreakerRejection(ctx context.Context, breaker string)
}

// FailureMetrics records terminal failures handed to the error handler.
type FailureMetrics interface {
	RecordFailure(ctx context.Context, severity, category string)
}

// OpMetrics records the duration and outcome of a wrapped operation.
type OpMetrics interface {
	RecordOperation(ctx context.Context, meta OpMeta, duration time.Duration, err error)
}

// Instruments implements every metrics interface in this package on top of
// an OpenTelemetry meter.
type Instruments struct {
	cacheRequests      metric.Int64Counter
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	cacheRemovals      metric.Int64Counter
	cacheStorageErrors metric.Int64Counter
	retries            metric.Int64Counter
	breakerTransitions metric.Int64Counter
	breakerRejections  metric.Int64Counter
	failures           metric.Int64Counter
	opTotal            metric.Int64Counter
	opErrors           metric.Int64Counter
	opDuration         metric.Float64Histogram
}

// NewInstruments creates the instrument set on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&in.cacheRequests, "cache.requests", "Total number of cache lookups", "{request}"},
		{&in.cacheHits, "cache.hits", "Number of cache lookups served from a tier", "{hit}"},
		{&in.cacheMisses, "cache.misses", "Number of cache lookups that missed every tier", "{miss}"},
		{&in.cacheRemovals, "cache.removals", "Entries removed by eviction or expiry", "{entry}"},
		{&in.cacheStorageErrors, "cache.storage_errors", "Swallowed cache storage failures", "{error}"},
		{&in.retries, "resilience.retries", "Retry attempts scheduled after a failure", "{retry}"},
		{&in.breakerTransitions, "resilience.breaker.transitions", "Circuit breaker state transitions", "{transition}"},
		{&in.breakerRejections, "resilience.breaker.rejections", "Calls short-circuited by an open breaker", "{call}"},
		{&in.failures, "failure.errors", "Terminal failures recorded by the error handler", "{error}"},
		{&in.opTotal, "op.total", "Total number of wrapped operations", "{call}"},
		{&in.opErrors, "op.errors", "Number of wrapped operations that failed", "{error}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, err
		}
	}

	in.opDuration, err = meter.Float64Histogram(
		"op.duration_ms",
		metric.WithDescription("Wrapped operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &in, nil
}

func (in *Instruments) RecordLookup(ctx context.Context, cache, tier string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("cache.name", cache))
	in.cacheRequests.Add(ctx, 1, attrs)
	if !hit {
		in.cacheMisses.Add(ctx, 1, attrs)
		return
	}
	in.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.name", cache),
		attribute.String("cache.tier", tier),
	))
}

func (in *Instruments) RecordRemoval(ctx context.Context, cache, reason string, n int) {
	if n <= 0 {
		return
	}
	in.cacheRemovals.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("cache.name", cache),
		attribute.String("cache.reason", reason),
	))
}

func (in *Instruments) RecordStorageError(ctx context.Context, cache, op string) {
	in.cacheStorageErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.name", cache),
		attribute.String("cache.op", op),
	))
}

func (in *Instruments) RecordRetry(ctx context.Context, category string, attempt int) {
	in.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("failure.category", category),
		attribute.Int("retry.attempt", attempt),
	))
}

func (in *Instruments) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	in.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", breaker),
		attribute.String("breaker.from", from),
		attribute.String("breaker.to", to),
	))
}

func (in *Instruments) RecordBreakerRejection(ctx context.Context, breaker string) {
	in.breakerRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker.name", breaker)))
}

func (in *Instruments) RecordFailure(ctx context.Context, severity, category string) {
	in.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("failure.severity", severity),
		attribute.String("failure.category", category),
	))
}

func (in *Instruments) RecordOperation(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("op.id", meta.ID()),
		attribute.String("op.name", meta.Name),
	}
	if meta.Category != "" {
		attrs = append(attrs, attribute.String("op.category", meta.Category))
	}
	opt := metric.WithAttributes(attrs...)

	in.opTotal.Add(ctx, 1, opt)
	if err != nil {
		in.opErrors.Add(ctx, 1, opt)
	}
	in.opDuration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

// NopInstruments returns an instrument set that records nothing.
func NopInstruments() *NoopInstruments {
	return &NoopInstruments{}
}

// NoopInstruments implements every metrics interface and does nothing.
type NoopInstruments struct{}

func (*NoopInstruments) RecordLookup(context.Context, string, string, bool)              {}
func (*NoopInstruments) RecordRemoval(context.Context, string, string, int)              {}
func (*NoopInstruments) RecordStorageError(context.Context, string, string)              {}
func (*NoopInstruments) RecordRetry(context.Context, string, int)                        {}
func (*NoopInstruments) RecordBreakerTransition(context.Context, string, string, string) {}
func (*NoopInstruments) RecordBreakerRejection(context.Context, string)                  {}
func (*NoopInstruments) RecordFailure(context.Context, string, string)                   {}
func (*NoopInstruments) RecordOperation(context.Context, OpMeta, time.Duration, error)   {}

var (
	_ CacheMetrics      = (*Instruments)(nil)
	_ ResilienceMetrics = (*Instruments)(nil)
	_ FailureMetrics    = (*Instruments)(nil)
	_ OpMetrics         = (*Instruments)(nil)
	_ CacheMetrics      = (*NoopInstruments)(nil)
	_ ResilienceMetrics = (*NoopInstruments)(nil)
	_ FailureMetrics    = (*NoopInstruments)(nil)
	_ OpMetrics         = (*NoopInstruments)(nil)
)
