package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{sdk: provider, spans: provider.Tracer("test"), service: "test"}, recorder
}

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil || tracer.spans == nil {
		t.Fatal("expected a usable no-op tracer")
	}
	if tracer.service != defaultServiceName {
		t.Errorf("expected default service name, got %q", tracer.service)
	}
	if tracer.sdk != nil {
		t.Error("no SDK provider should be built without an endpoint")
	}
}

func TestNilTracerIsSafe(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.TraceLoopRun(context.Background(), "s", "lead")
	tracer.RecordError(span, errors.New("boom"))
	tracer.SetAttributes(span, "k", "v")
	span.End()
	if GetTraceID(ctx) != "" {
		t.Errorf("expected no trace id from a nil tracer")
	}
}

func TestTraceSpans(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	ctx, root := tracer.TraceLoopRun(context.Background(), "sess-1", "lead")
	_, llm := tracer.TraceLLMRequest(ctx, "anthropic", "claude")
	llm.End()
	_, tool := tracer.TraceToolExecution(ctx, "read_file", "call-1")
	tracer.RecordError(tool, errors.New("missing file"))
	tool.End()
	_, comp := tracer.TraceCompression(ctx, "full", 42)
	tracer.SetAttributes(comp, "ratio", 0.9, "compressed", true)
	comp.End()
	root.End()

	if GetTraceID(ctx) == "" {
		t.Error("expected a trace id inside the loop span")
	}

	spans := recorder.Ended()
	if len(spans) != 4 {
		t.Fatalf("expected 4 spans, got %d", len(spans))
	}
	names := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		names[s.Name()] = s
	}
	for _, want := range []string{"agent.loop", "llm.anthropic", "tool.read_file", "context.compress"} {
		if _, ok := names[want]; !ok {
			t.Errorf("expected span %q", want)
		}
	}
	if st := names["tool.read_file"].Status(); st.Code != codes.Error {
		t.Errorf("expected error status on tool span, got %v", st.Code)
	}
	if parent := names["llm.anthropic"].Parent(); parent.SpanID() != names["agent.loop"].SpanContext().SpanID() {
		t.Errorf("expected llm span to be a child of the loop span")
	}
	found := false
	for _, kv := range names["context.compress"].Attributes() {
		if kv.Key == attribute.Key("compression.messages") && kv.Value.AsInt64() == 42 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected compression.messages attribute")
	}
}

func TestToAttribute(t *testing.T) {
	tests := []struct {
		val  any
		want attribute.Type
	}{
		{"s", attribute.STRING},
		{1, attribute.INT64},
		{int64(2), attribute.INT64},
		{1.5, attribute.FLOAT64},
		{true, attribute.BOOL},
		{[]string{"a"}, attribute.STRINGSLICE},
		{struct{}{}, attribute.STRING},
	}
	for _, tt := range tests {
		if got := toAttribute("k", tt.val).Value.Type(); got != tt.want {
			t.Errorf("expected %v for %T, got %v", tt.want, tt.val, got)
		}
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}
