package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// Adapter converts one upstream streaming dialect into the unified
// StreamEvent sequence.
//
// Implementations never return an error for ordinary upstream failures once
// the stream is open; those are delivered as an EventError. A transport
// failure before the first byte is returned as *transport.TransportError.
// The channel is closed after the final event.
//
// Every Stream call emits exactly one EventRequestDebug first, carrying the
// outbound request with credentials masked.
//
// Thread Safety:
// Implementations must be safe for concurrent use by independent loops.
//
// See Also:
//   - providers.AnthropicAdapter (block-indexed)
//   - providers.OpenAIAdapter (delta-merge)
//   - providers.ResponsesAdapter (item-addressed)
//   - providers.GeminiAdapter (candidate-parts)
type Adapter interface {
	// Name returns the registry tag of the dialect.
	Name() string

	// Stream sends req upstream and returns its unified event sequence.
	Stream(ctx context.Context, req *Request) (<-chan *models.StreamEvent, error)
}

// Request is everything an adapter needs to build one outbound call.
//
// Example:
//
//	req := &Request{
//	    Config:   models.ProviderConfig{Type: "anthropic", Model: "claude-sonnet-4-20250514"},
//	    System:   "You are a helpful coding assistant.",
//	    Messages: history,
//	    Tools:    registry.Specs(),
//	}
type Request struct {
	Config models.ProviderConfig

	// System overrides Config.SystemPrompt when non-empty.
	System string

	Messages []*models.Message
	Tools    []ToolSpec

	// RequestID correlates transport signals; adapters generate one when empty.
	RequestID string
}

// SystemPrompt returns the effective system prompt.
func (r *Request) SystemPrompt() string {
	if r.System != "" {
		return r.System
	}
	return r.Config.SystemPrompt
}

// ToolSpec is the provider-facing declaration of a tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

// Tool is a named, schema-declared capability the model can invoke.
//
// Example:
//
//	type Clock struct{}
//
//	func (Clock) Name() string            { return "clock" }
//	func (Clock) Description() string     { return "Returns the current time" }
//	func (Clock) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
//	func (Clock) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
//	    return &ToolResult{Content: time.Now().Format(time.RFC3339)}, nil
//	}
type Tool interface {
	// Name returns the tool name for function calling.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. A returned error is captured as a ToolError and
	// fed back to the model; it never aborts the loop.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// SpecOf converts a Tool to its provider-facing declaration.
func SpecOf(t Tool) ToolSpec {
	return ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.Schema()}
}
