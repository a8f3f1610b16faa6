// Package telemetry provides OpenTelemetry tracing for the tasktracker
// lifecycle. Tracing is off unless an OTLP endpoint is configured; until then
// every span goes to a no-op tracer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/vinayprograms/tasktracker/config"
)

// DefaultServiceName is reported when telemetry.serviceName is empty.
const DefaultServiceName = "tasktracker"

// Sentinel errors.
var (
	ErrNoEndpoint      = errors.New("telemetry endpoint not configured")
	ErrUnknownProtocol = errors.New("unknown telemetry protocol")
)

// exporterFunc builds the span exporter for one telemetry.protocol value.
type exporterFunc func(ctx context.Context, endpoint string, s config.TelemetrySection) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFunc{
	"grpc": func(ctx context.Context, endpoint string, s config.TelemetrySection) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if s.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	"http": func(ctx context.Context, endpoint string, s config.TelemetrySection) (sdktrace.SpanExporter, error) {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if s.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	},
}

// Option adjusts InitProvider.
type Option func(*providerOptions)

type providerOptions struct {
	version     string
	environment string
	processors  []sdktrace.SpanProcessor
}

// WithVersion reports the build version as service.version.
func WithVersion(version string) Option {
	return func(o *providerOptions) { o.version = version }
}

// WithEnvironment reports env (development, production, test) as
// deployment.environment.
func WithEnvironment(env string) Option {
	return func(o *providerOptions) { o.environment = env }
}

// WithSpanProcessor adds a processor next to the OTLP batcher.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *providerOptions) { o.processors = append(o.processors, sp) }
}

// Provider owns the trace pipeline installed by InitProvider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider builds the OTLP pipeline described by the [telemetry] table
// and installs it as the global tracer. The returned Provider must be shut
// down; boot registers it as a controller finalizer.
func InitProvider(ctx context.Context, s config.TelemetrySection, opts ...Option) (*Provider, error) {
	var o providerOptions
	for _, opt := range opts {
		opt(&o)
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(s.Endpoint, "http://"), "https://")
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}

	protocol := s.Protocol
	if protocol == "" {
		protocol = "grpc"
	}
	newExporter, ok := exporters[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %q (use grpc or http)", ErrUnknownProtocol, protocol)
	}

	serviceName := s.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	// Schemaless, so the semconv version here never conflicts with the one
	// resource.Default reports.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(o.version),
		semconv.DeploymentEnvironment(o.environment),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	exporter, err := newExporter(ctx, endpoint, s)
	if err != nil {
		return nil, fmt.Errorf("%s exporter: %w", protocol, err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	}
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p := &Provider{tp: tp, tracer: NewTracerFromProvider(tp, serviceName)}
	SetGlobalTracer(p.tracer)
	return p, nil
}

// Tracer returns the tracer for this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown exports pending spans and closes the exporter. The global tracer
// falls back to a no-op tracer afterwards.
func (p *Provider) Shutdown(ctx context.Context) error {
	SetGlobalTracer(nil)
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}
