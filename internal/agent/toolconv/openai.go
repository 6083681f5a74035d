package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentrt/internal/agent"
)

// ToOpenAITools converts tool declarations to OpenAI function schema.
func ToOpenAITools(specs []agent.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap(spec.Schema),
			},
		}
	}
	return result
}

// ResponsesTool is a function tool in the Responses API request shape, which
// flattens the function definition into the tool object.
type ResponsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ToResponsesTools converts tool declarations to Responses API function tools.
func ToResponsesTools(specs []agent.ToolSpec) []ResponsesTool {
	if len(specs) == 0 {
		return nil
	}
	result := make([]ResponsesTool, len(specs))
	for i, spec := range specs {
		result[i] = ResponsesTool{
			Type:        "function",
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schemaMap(spec.Schema),
		}
	}
	return result
}

func schemaMap(schema json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil || m == nil {
		m = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return m
}
