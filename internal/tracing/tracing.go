// Package tracing provides OpenTelemetry spans for datasource routing.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name of the tracer used by this package.
	TracerName = "dynamic-datasource"

	// SpanNameIntercept is the span covering one routed unit of work.
	SpanNameIntercept = "datasource.intercept"

	// SpanNameDetermine is the span for resolving the current key to a datasource.
	SpanNameDetermine = "datasource.determine"

	// SpanNameAcquire is the span for borrowing a connection from a provider.
	SpanNameAcquire = "datasource.acquire"

	// SpanNameHealthCheck is the span for one health check round.
	SpanNameHealthCheck = "datasource.health_check"
)

// Attribute keys for tracing.
const (
	AttrRoutingKey     = "datasource.routing_key"
	AttrDataSource     = "datasource.name"
	AttrGroup          = "datasource.group"
	AttrStrategy       = "datasource.strategy"
	AttrScopeID        = "datasource.scope_id"
	AttrStackDepth     = "datasource.stack_depth"
	AttrDegraded       = "datasource.degraded"
	AttrFallbackUsed   = "datasource.fallback_used"
	AttrFallbackReason = "datasource.fallback_reason"
	AttrCandidates     = "datasource.candidates"
	AttrChecked        = "datasource.checked"
	AttrUnhealthy      = "datasource.unhealthy"
)

// Tracer wraps the OpenTelemetry tracer with convenience methods.
type Tracer struct {
	tracer  trace.Tracer
	enabled bool
}

// NewTracer creates a new Tracer on the global provider.
// If enabled is false, all operations use a noop tracer.
func NewTracer(enabled bool) *Tracer {
	if enabled {
		return FromTracer(otel.Tracer(TracerName))
	}
	return &Tracer{tracer: noop.NewTracerProvider().Tracer(TracerName)}
}

// FromTracer wraps an existing OpenTelemetry tracer.
func FromTracer(tracer trace.Tracer) *Tracer {
	return &Tracer{tracer: tracer, enabled: true}
}

// Noop returns a disabled tracer.
func Noop() *Tracer {
	return NewTracer(false)
}

// IsEnabled returns whether tracing is enabled.
func (t *Tracer) IsEnabled() bool {
	return t.enabled
}

// StartIntercept starts a span for a routed unit of work.
func (t *Tracer) StartIntercept(ctx context.Context, routingKey, scopeID string, depth int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNameIntercept,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrRoutingKey, routingKey),
			attribute.String(AttrScopeID, scopeID),
			attribute.Int(AttrStackDepth, depth),
		),
	)
}

// StartDetermine starts a span for datasource resolution.
func (t *Tracer) StartDetermine(ctx context.Context, routingKey string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNameDetermine,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrRoutingKey, routingKey),
		),
	)
}

// StartAcquire starts a span for connection acquisition.
func (t *Tracer) StartAcquire(ctx context.Context, dataSource string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNameAcquire,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrDataSource, dataSource),
		),
	)
}

// StartHealthCheck starts a span for a health check round.
func (t *Tracer) StartHealthCheck(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNameHealthCheck, trace.WithSpanKind(trace.SpanKindInternal))
}

// RecordSelected records the chosen datasource on the span.
func (t *Tracer) RecordSelected(span trace.Span, dataSource, group, strategy string, candidates int) {
	attrs := []attribute.KeyValue{attribute.String(AttrDataSource, dataSource)}
	if group != "" {
		attrs = append(attrs,
			attribute.String(AttrGroup, group),
			attribute.String(AttrStrategy, strategy),
			attribute.Int(AttrCandidates, candidates),
		)
	}
	span.SetAttributes(attrs...)
}

// RecordDegraded marks the span as served from an all-unhealthy group.
func (t *Tracer) RecordDegraded(span trace.Span) {
	span.SetAttributes(attribute.Bool(AttrDegraded, true))
}

// RecordFallback records that the default datasource was used instead.
func (t *Tracer) RecordFallback(span trace.Span, reason string) {
	span.SetAttributes(
		attribute.Bool(AttrFallbackUsed, true),
		attribute.String(AttrFallbackReason, reason),
	)
}

// RecordHealthRound records the outcome of a health check round.
func (t *Tracer) RecordHealthRound(span trace.Span, checked, unhealthy int) {
	span.SetAttributes(
		attribute.Int(AttrChecked, checked),
		attribute.Int(AttrUnhealthy, unhealthy),
	)
}

// RecordError records an error on the span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// EndSpan ends the span.
func (t *Tracer) EndSpan(span trace.Span) {
	span.End()
}

// Config configures the trace provider.
type Config struct {
	// Enabled controls whether spans are recorded at all.
	Enabled bool
	// Exporter is "none" or "stdout".
	Exporter string
	// SampleRate is the fraction of root spans sampled. <= 0 means 1.
	SampleRate float64
	// ServiceName identifies this process in traces.
	ServiceName string
}

// Provider owns the SDK tracer provider, if one was created.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   *Tracer
}

// NewProvider builds a trace provider from cfg and installs it globally.
// A disabled config yields a noop tracer and no global change.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: Noop()}, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	case "none", "":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = TracerName
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &Provider{
		provider: provider,
		tracer:   FromTracer(provider.Tracer(TracerName)),
	}, nil
}

// Tracer returns the routing tracer backed by this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}
