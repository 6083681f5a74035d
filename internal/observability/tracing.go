package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "agentrt"

// TraceConfig selects where spans go. An empty Endpoint disables export.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is an OTLP/gRPC collector address such as "localhost:4317".
	Endpoint       string
	// SamplingRate is the fraction of runs recorded; zero means all of them.
	SamplingRate   float64
	Attributes     map[string]string
	EnableInsecure bool
}

// Tracer opens the spans of an agent run: one per loop run, provider
// request, tool execution and compression pass. A nil *Tracer records
// nothing, so callers never need to check for one.
type Tracer struct {
	sdk     *sdktrace.TracerProvider
	spans   trace.Tracer
	service string
}

var disabledSpans = noop.NewTracerProvider().Tracer("")

// NewTracer builds a tracer exporting to cfg.Endpoint and returns it with the
// flush function to run at exit. Without an endpoint, or when the exporter
// cannot be created, spans go to the global provider and flushing is a no-op.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	fallback := &Tracer{spans: otel.Tracer(cfg.ServiceName), service: cfg.ServiceName}
	noFlush := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return fallback, noFlush
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return fallback, noFlush
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(cfg)),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return &Tracer{sdk: sdk, spans: sdk.Tracer(cfg.ServiceName), service: cfg.ServiceName}, sdk.Shutdown
}

func newExporter(cfg TraceConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
}

func newResource(cfg TraceConfig) *resource.Resource {
	kv := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		kv = append(kv, semconv.DeploymentEnvironment(cfg.Environment))
	}
	for k, v := range cfg.Attributes {
		kv = append(kv, attribute.String(k, v))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(kv...))
	if err != nil {
		return resource.Default()
	}
	return res
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate == 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (t *Tracer) open(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spans := disabledSpans
	if t != nil && t.spans != nil {
		spans = t.spans
	}
	return spans.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// TraceLoopRun opens the root span of one loop run.
func (t *Tracer) TraceLoopRun(ctx context.Context, sessionID, agent string) (context.Context, trace.Span) {
	return t.open(ctx, "agent.loop", trace.SpanKindInternal,
		attribute.String("session_id", sessionID),
		attribute.String("agent", agent))
}

// TraceLLMRequest opens a client span for one streamed provider request.
func (t *Tracer) TraceLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.open(ctx, "llm."+provider, trace.SpanKindClient,
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model))
}

// TraceToolExecution opens a span around one tool call.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	return t.open(ctx, "tool."+toolName, trace.SpanKindInternal,
		attribute.String("tool.name", toolName),
		attribute.String("tool.call_id", callID))
}

// TraceCompression opens a span for a compression pass over messages.
func (t *Tracer) TraceCompression(ctx context.Context, kind string, messages int) (context.Context, trace.Span) {
	return t.open(ctx, "context.compress", trace.SpanKindInternal,
		attribute.String("compression.kind", kind),
		attribute.Int("compression.messages", messages))
}

// RecordError marks span failed with err. A nil err is ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value pairs on span, e.g.
// SetAttributes(span, "iterations", 3, "state", "completed"). Pairs whose
// key is not a string are skipped.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	var attrs []attribute.KeyValue
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			attrs = append(attrs, toAttribute(key, keyvals[i+1]))
		}
	}
	span.SetAttributes(attrs...)
}

func toAttribute(key string, val any) attribute.KeyValue {
	k := attribute.Key(key)
	switch v := val.(type) {
	case string:
		return k.String(v)
	case bool:
		return k.Bool(v)
	case int:
		return k.Int(v)
	case int64:
		return k.Int64(v)
	case float64:
		return k.Float64(v)
	case []string:
		return k.StringSlice(v)
	case fmt.Stringer:
		return k.String(v.String())
	default:
		return k.String(fmt.Sprint(v))
	}
}

// GetTraceID returns the active trace ID in ctx, or "" outside a span.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
