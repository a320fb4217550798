package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OpMeta describes a guarded operation for telemetry purposes.
type OpMeta struct {
	Component string // Owning component, e.g. "github" or "cache" (optional)
	Name      string // Operation name (required)
	Category  string // Failure category the operation is classified under (optional)
}

// ID returns the fully qualified operation identifier.
func (m OpMeta) ID() string {
	if m.Component != "" {
		return m.Component + "." + m.Name
	}
	return m.Name
}

// SpanName returns the deterministic span name for this operation.
// Format: callguard.<component>.<name> or callguard.<name>
func (m OpMeta) SpanName() string {
	return "callguard." + m.ID()
}

// Validate reports whether the metadata is usable.
func (m OpMeta) Validate() error {
	if m.Name == "" {
		return ErrMissingOpName
	}
	return nil
}

// Tracer wraps OpenTelemetry tracing with operation-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("op.id", meta.ID()),
		attribute.String("op.name", meta.Name),
		attribute.Bool("op.error", false),
	}
	if meta.Component != "" {
		attrs = append(attrs, attribute.String("op.component", meta.Component))
	}
	if meta.Category != "" {
		attrs = append(attrs, attribute.String("op.category", meta.Category))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("op.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a tracer whose spans are never recorded.
func NopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
