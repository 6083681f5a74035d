package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance, token usage and time-to-first-token
//   - Tool execution patterns and latencies
//   - Compression passes by kind and outcome
//   - Approval decisions and team auto-triggers
//   - Running loop counts for capacity planning
//
// All methods are safe on a nil *Metrics, so components can take metrics as
// an optional dependency.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", usage, timing)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTimeToFirstToken measures latency to the first streamed token.
	// Labels: provider, model
	LLMTimeToFirstToken *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error|aborted)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_creation|reasoning)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// CompressionCounter counts compression passes.
	// Labels: kind (pre|full), outcome (compressed|declined|failed)
	CompressionCounter *prometheus.CounterVec

	// ApprovalCounter counts approval outcomes.
	// Labels: decision (allowed|always|denied|timeout|cancelled|auto)
	ApprovalCounter *prometheus.CounterVec

	// TeamAutoTriggers counts lead turns started by queued peer messages.
	// Labels: outcome (triggered|paused)
	TeamAutoTriggers *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (loop|provider|tool|compression|store), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveLoops is a gauge of running agent loops.
	ActiveLoops prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrt_llm_request_duration_seconds",
				Help:    "Duration of streamed LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		LLMTimeToFirstToken: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrt_llm_time_to_first_token_seconds",
				Help:    "Latency from request start to the first streamed token",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrt_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrt_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrt_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrt_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		CompressionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrt_compressions_total",
				Help: "Total number of context compression passes by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		ApprovalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrt_approvals_total",
				Help: "Total number of tool approval outcomes",
			},
			[]string{"decision"},
		),

		TeamAutoTriggers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrt_team_auto_triggers_total",
				Help: "Lead turns triggered by peer messages, and triggers suppressed by the cap",
			},
			[]string{"outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrt_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),

		ActiveLoops: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentrt_active_loops",
				Help: "Number of agent loops currently running",
			},
		),
	}
}

// RecordLLMRequest records one streamed call. usage and timing may be nil
// for failed calls.
func (m *Metrics) RecordLLMRequest(provider, model, status string, usage *models.TokenUsage, timing *models.RequestTiming) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if timing != nil {
		m.LLMRequestDuration.WithLabelValues(provider, model).Observe(timing.Duration.Seconds())
		if timing.TimeToFirst > 0 {
			m.LLMTimeToFirstToken.WithLabelValues(provider, model).Observe(timing.TimeToFirst.Seconds())
		}
	}
	if usage == nil {
		return
	}
	for kind, n := range map[string]int{
		"input":          usage.InputTokens,
		"output":         usage.OutputTokens,
		"cache_read":     usage.CacheReadTokens,
		"cache_creation": usage.CacheCreationTokens,
		"reasoning":      usage.ReasoningTokens,
	} {
		if n > 0 {
			m.LLMTokensUsed.WithLabelValues(provider, model, kind).Add(float64(n))
		}
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("read_file", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCompression counts one compression pass.
func (m *Metrics) RecordCompression(kind, outcome string) {
	if m == nil {
		return
	}
	m.CompressionCounter.WithLabelValues(kind, outcome).Inc()
}

// RecordApproval counts one approval outcome.
func (m *Metrics) RecordApproval(decision string) {
	if m == nil {
		return
	}
	m.ApprovalCounter.WithLabelValues(decision).Inc()
}

// RecordAutoTrigger counts a team auto-trigger or a suppressed one.
func (m *Metrics) RecordAutoTrigger(outcome string) {
	if m == nil {
		return
	}
	m.TeamAutoTriggers.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("provider", "rate_limit")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// LoopStarted increments the active loop gauge.
func (m *Metrics) LoopStarted() {
	if m == nil {
		return
	}
	m.ActiveLoops.Inc()
}

// LoopEnded decrements the active loop gauge.
func (m *Metrics) LoopEnded() {
	if m == nil {
		return
	}
	m.ActiveLoops.Dec()
}
