package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with lifecycle helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance. nil restores the no-op
// tracer.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NoopTracer()
	}
	return globalTracer
}

// NewTracer creates a tracer backed by the global OpenTelemetry provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer backed by tp.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Lifecycle Spans ---

// LifecycleSpanOptions contains attributes for lifecycle spans.
type LifecycleSpanOptions struct {
	Env  string
	Host string
	Port int
}

// StartLifecycleSpan starts a span for a controller operation such as
// "start" or "stop". The span is named "server.<op>".
func (t *Tracer) StartLifecycleSpan(ctx context.Context, op string, opts LifecycleSpanOptions) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "server."+op, trace.WithSpanKind(trace.SpanKindInternal))

	attrs := []attribute.KeyValue{
		attribute.String("tasktracker.env", opts.Env),
	}
	if opts.Host != "" {
		attrs = append(attrs, attribute.String("server.address", opts.Host))
	}
	if opts.Port != 0 {
		attrs = append(attrs, attribute.Int("server.port", opts.Port))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

// RecordStateChange adds a state transition event to span.
func RecordStateChange(span trace.Span, from, to string) {
	span.AddEvent("state_change", trace.WithAttributes(
		attribute.String("state.from", from),
		attribute.String("state.to", to),
	))
}

// StartCleanupSpan starts a span for a single cleanup task.
func (t *Tracer) StartCleanupSpan(ctx context.Context, task string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "cleanup."+task, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("cleanup.task", task))
	return ctx, span
}

// EndSpan records err (if any), sets the span status and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// ExtractContext extracts trace context from a carrier such as
// propagation.HeaderCarrier(r.Header).
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
