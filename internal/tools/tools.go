// Package tools holds the built-in tool backends and the helpers they share.
//
// Input schemas are reflected from Go input structs so the declared schema
// and the decoding type cannot drift apart:
//
//	type readInput struct {
//	    Path string `json:"path" jsonschema:"description=File path relative to the workspace"`
//	}
//
//	func (t *ReadTool) Schema() json.RawMessage { return tools.SchemaFor[readInput]() }
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/agentrt/internal/agent"
)

// SchemaFor reflects the JSON schema of T's JSON form. Fields without
// omitempty are required and unknown properties are rejected.
func SchemaFor[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(new(T))
	// providers reject the meta-schema and id keywords
	schema.Version = ""
	schema.ID = ""
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Decode unmarshals tool parameters into T. The registry has already
// validated them against SchemaFor[T], so a failure here is a bug in the
// caller's input type.
func Decode[T any](params json.RawMessage) (T, error) {
	var input T
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return input, fmt.Errorf("invalid parameters: %w", err)
	}
	return input, nil
}

// Result encodes v as an indented JSON tool result.
func Result(v any) *agent.ToolResult {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Error(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(payload)}
}

// Error returns an is_error tool result carrying message.
func Error(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
