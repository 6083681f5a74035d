package toolconv

import (
	"strings"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/haasonsaas/agentrt/internal/agent"
)

// ToGeminiTools groups the declarations into the single genai.Tool Gemini
// expects. A declaration whose schema is not valid JSON is dropped.
func ToGeminiTools(specs []agent.ToolSpec) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, spec := range specs {
		raw := schemaOrEmpty(spec.Schema)
		if !gjson.ValidBytes(raw) {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  geminiSchema(gjson.ParseBytes(raw)),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema maps the JSON Schema subset Gemini understands: type,
// description, string enums, properties, required and items.
func geminiSchema(node gjson.Result) *genai.Schema {
	if !node.IsObject() {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(node.Get("type").String())),
		Description: node.Get("description").String(),
	}
	node.Get("enum").ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			out.Enum = append(out.Enum, v.Str)
		}
		return true
	})
	if props := node.Get("properties"); props.IsObject() {
		out.Properties = map[string]*genai.Schema{}
		props.ForEach(func(name, prop gjson.Result) bool {
			if child := geminiSchema(prop); child != nil {
				out.Properties[name.String()] = child
			}
			return true
		})
	}
	node.Get("required").ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			out.Required = append(out.Required, v.Str)
		}
		return true
	})
	out.Items = geminiSchema(node.Get("items"))
	return out
}
