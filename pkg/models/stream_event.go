package models

import "encoding/json"

// StreamEventType discriminates StreamEvent variants.
type StreamEventType string

const (
	EventMessageStart  StreamEventType = "message_start"
	EventTextDelta     StreamEventType = "text_delta"
	EventThinkingDelta StreamEventType = "thinking_delta"
	EventToolCallStart StreamEventType = "tool_call_start"
	EventToolCallDelta StreamEventType = "tool_call_delta"
	EventToolCallEnd   StreamEventType = "tool_call_end"
	EventMessageEnd    StreamEventType = "message_end"
	EventError         StreamEventType = "error"
	EventRequestDebug  StreamEventType = "request_debug"
)

// RequestDebug describes an outbound request with secrets masked.
type RequestDebug struct {
	RequestID string            `json:"request_id"`
	Provider  string            `json:"provider"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
}

// StreamEvent is the unified event emitted while consuming one streamed model
// response, regardless of the upstream dialect.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// text_delta, thinking_delta
	Text string `json:"text,omitempty"`
	// thinking signature, when the dialect provides one
	Signature string `json:"signature,omitempty"`

	// tool_call_*
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ArgsFragment string          `json:"args_fragment,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`

	// message_start carries the upstream message id when known
	MessageID string `json:"message_id,omitempty"`

	// message_end
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *TokenUsage    `json:"usage,omitempty"`
	Timing     *RequestTiming `json:"timing,omitempty"`

	// error
	Err error `json:"-"`

	// request_debug
	Debug *RequestDebug `json:"debug,omitempty"`
}

// Stop reasons normalized across dialects.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopError     = "error"
)
