package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/agentrt/pkg/models"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordLLMRequest("anthropic", "m", "success", nil, nil)
	m.RecordToolExecution("read_file", "success", 0.1)
	m.RecordCompression("pre", "compressed")
	m.RecordApproval("allowed")
	m.RecordAutoTrigger("triggered")
	m.RecordError("loop", "panic")
	m.LoopStarted()
	m.LoopEnded()
}

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	usage := &models.TokenUsage{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 50}
	timing := &models.RequestTiming{Duration: 2 * time.Second, TimeToFirst: 300 * time.Millisecond}
	m.RecordLLMRequest("anthropic", "claude", "success", usage, timing)
	m.RecordLLMRequest("anthropic", "claude", "error", nil, nil)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude", "success")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude", "error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}

	expected := `
		# HELP agentrt_llm_tokens_total Total number of tokens used by provider, model, and type
		# TYPE agentrt_llm_tokens_total counter
		agentrt_llm_tokens_total{model="claude",provider="anthropic",type="cache_read"} 50
		agentrt_llm_tokens_total{model="claude",provider="anthropic",type="input"} 100
		agentrt_llm_tokens_total{model="claude",provider="anthropic",type="output"} 20
	`
	if err := testutil.CollectAndCompare(m.LLMTokensUsed, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected token metrics: %v", err)
	}
	if count := testutil.CollectAndCount(m.LLMTimeToFirstToken); count != 1 {
		t.Errorf("expected 1 ttft series, got %d", count)
	}
}

func TestRecordCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordToolExecution("shell", "success", 0.2)
	m.RecordToolExecution("shell", "error", 0.1)
	m.RecordCompression("full", "compressed")
	m.RecordCompression("full", "compressed")
	m.RecordApproval("denied")
	m.RecordAutoTrigger("paused")
	m.RecordError("provider", "rate_limit")

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"tool success", m.ToolExecutionCounter.WithLabelValues("shell", "success"), 1},
		{"compression", m.CompressionCounter.WithLabelValues("full", "compressed"), 2},
		{"approval", m.ApprovalCounter.WithLabelValues("denied"), 1},
		{"auto trigger", m.TeamAutoTriggers.WithLabelValues("paused"), 1},
		{"error", m.ErrorCounter.WithLabelValues("provider", "rate_limit"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.collector); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestActiveLoopsGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.LoopStarted()
	m.LoopStarted()
	m.LoopEnded()
	if got := testutil.ToFloat64(m.ActiveLoops); got != 1 {
		t.Errorf("expected 1 active loop, got %v", got)
	}
}
