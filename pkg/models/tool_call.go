package models

import (
	"encoding/json"
	"time"
)

// ToolCallStatus is the lifecycle status of one model-issued tool call.
type ToolCallStatus string

const (
	ToolCallStreaming       ToolCallStatus = "streaming"
	ToolCallPendingApproval ToolCallStatus = "pending_approval"
	ToolCallRunning         ToolCallStatus = "running"
	ToolCallCompleted       ToolCallStatus = "completed"
	ToolCallError           ToolCallStatus = "error"
)

// IsTerminal reports whether no further transitions are possible.
func (s ToolCallStatus) IsTerminal() bool {
	return s == ToolCallCompleted || s == ToolCallError
}

// ToolCallState tracks one tool call from first fragment to result.
type ToolCallState struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Input       json.RawMessage `json:"input,omitempty"`
	Status      ToolCallStatus  `json:"status"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// Complete marks the call completed with output.
func (t *ToolCallState) Complete(output string, now time.Time) {
	t.Status = ToolCallCompleted
	t.Output = output
	t.CompletedAt = now
}

// Fail marks the call errored with a message.
func (t *ToolCallState) Fail(msg string, now time.Time) {
	t.Status = ToolCallError
	t.Error = msg
	t.CompletedAt = now
}
