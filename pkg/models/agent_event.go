// Package models provides the provider-agnostic domain types of the agent
// runtime: messages, stream events, tool calls, usage and loop events.
package models

import (
	"time"
)

// AgentEvent is the presentation event emitted by an agent loop.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
//   - Deltas are coalesced before they become events; structural events are
//     emitted only after pending deltas have been flushed
type AgentEvent struct {
	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a loop run.
	Sequence uint64 `json:"seq"`

	// RunID identifies one loop run.
	RunID string `json:"run_id,omitempty"`

	// SessionID identifies the conversation the loop is driving.
	SessionID string `json:"session_id,omitempty"`

	// Agent names the loop within a team ("lead" or a peer name).
	Agent string `json:"agent,omitempty"`

	// IterIndex is the 0-based loop iteration.
	IterIndex int `json:"iter_index,omitempty"`

	// State is set on state changes.
	State LoopState `json:"state,omitempty"`

	// Delta carries coalesced text, thinking or tool argument fragments.
	Delta *DeltaPayload `json:"delta,omitempty"`

	// Tool is a snapshot of a tool call after a status change.
	Tool *ToolCallState `json:"tool,omitempty"`

	// Message is set when a message is appended to the conversation.
	Message *Message `json:"message,omitempty"`

	// Usage is the accumulated run usage on iteration and loop end.
	Usage *TokenUsage `json:"usage,omitempty"`

	Compression *CompressionPayload `json:"compression,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`
}

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	// Run lifecycle
	AgentEventRunStarted  AgentEventType = "run.started"
	AgentEventRunFinished AgentEventType = "run.finished"
	AgentEventStateChange AgentEventType = "run.state"

	// Iteration lifecycle
	AgentEventIterStarted  AgentEventType = "iter.started"
	AgentEventIterFinished AgentEventType = "iter.finished"

	// Coalesced model output
	AgentEventTextDelta     AgentEventType = "model.text"
	AgentEventThinkingDelta AgentEventType = "model.thinking"
	AgentEventToolArgsDelta AgentEventType = "tool.args"

	// Tool lifecycle
	AgentEventToolInserted      AgentEventType = "tool.inserted"
	AgentEventToolStatus        AgentEventType = "tool.status"
	AgentEventApprovalRequested AgentEventType = "approval.requested"

	// Conversation changes
	AgentEventMessageAppended AgentEventType = "message.appended"
	AgentEventCompressed      AgentEventType = "context.compressed"

	// AgentEventError is a visible, non-fatal notice; the run may continue
	// or may already be finishing.
	AgentEventError AgentEventType = "error"
)

// LoopState is the agent loop's state machine position.
type LoopState string

const (
	LoopIdle         LoopState = "idle"
	LoopRequesting   LoopState = "requesting"
	LoopStreaming    LoopState = "streaming"
	LoopExecuting    LoopState = "executing"
	LoopIterationEnd LoopState = "iteration_end"
	LoopCompleted    LoopState = "completed"
	LoopErrored      LoopState = "errored"
	LoopAborted      LoopState = "aborted"
)

// IsTerminal reports whether the loop has exited.
func (s LoopState) IsTerminal() bool {
	return s == LoopCompleted || s == LoopErrored || s == LoopAborted
}

// DeltaPayload carries a run of coalesced fragments.
type DeltaPayload struct {
	Text       string `json:"text"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// CompressionPayload describes a compression pass.
type CompressionPayload struct {
	// Kind is "pre" or "full".
	Kind          string  `json:"kind"`
	Ratio         float64 `json:"ratio"`
	Compressed    bool    `json:"compressed"`
	OriginalCount int     `json:"original_count"`
	NewCount      int     `json:"new_count"`
	// Cleared counts blocks replaced with placeholders by pre-compression.
	Cleared int    `json:"cleared,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload contains error information.
type ErrorPayload struct {
	Message string `json:"message"`
	// Phase is the loop phase the error occurred in, when known.
	Phase     string `json:"phase,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}
