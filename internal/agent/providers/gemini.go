package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/agent/toolconv"
	"github.com/haasonsaas/agentrt/internal/transport"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter speaks the Gemini streamGenerateContent SSE dialect. Every
// frame is a complete GenerateContentResponse; function calls arrive whole,
// so each is emitted as start, one delta, and end in sequence.
type GeminiAdapter struct {
	BaseAdapter
}

// NewGeminiAdapter creates the Gemini adapter.
func NewGeminiAdapter(t *transport.Transport, logger *slog.Logger) *GeminiAdapter {
	return &GeminiAdapter{BaseAdapter: NewBaseAdapter("gemini", t, logger)}
}

type geminiRequest struct {
	Contents          []*genai.Content `json:"contents"`
	SystemInstruction *genai.Content   `json:"systemInstruction,omitempty"`
	Tools             []*genai.Tool    `json:"tools,omitempty"`
	GenerationConfig  map[string]any   `json:"generationConfig,omitempty"`
}

// Stream implements agent.Adapter.
func (a *GeminiAdapter) Stream(ctx context.Context, req *agent.Request) (<-chan *models.StreamEvent, error) {
	body, err := a.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	base := strings.TrimRight(req.Config.BaseURL, "/")
	if base == "" {
		base = defaultGeminiBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", base, url.PathEscape(req.Config.Model))
	headers := map[string]string{"x-goog-api-key": req.Config.APIKey}
	c := a.newCall(req.RequestID, endpoint, headers, body, req.Config.Model)

	st := &streamState{}
	dec := &geminiDecoder{st: st}
	return a.run(ctx, c, st, dec.handle, dec.finish)
}

func (a *GeminiAdapter) buildBody(req *agent.Request) ([]byte, error) {
	r := geminiRequest{
		Contents: toGeminiContents(req.Messages),
		Tools:    toolconv.ToGeminiTools(req.Tools),
	}
	if system := req.SystemPrompt(); system != "" {
		r.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	gen := map[string]any{}
	if req.Config.MaxTokens > 0 {
		gen["maxOutputTokens"] = req.Config.MaxTokens
	}
	if req.Config.Temperature != nil {
		gen["temperature"] = *req.Config.Temperature
	}
	if req.Config.Thinking.Enabled {
		thinking := map[string]any{"includeThoughts": true}
		if req.Config.Thinking.BudgetTokens > 0 {
			thinking["thinkingBudget"] = req.Config.Thinking.BudgetTokens
		}
		gen["thinkingConfig"] = thinking
	}
	if len(gen) > 0 {
		r.GenerationConfig = gen
	}
	return json.Marshal(r)
}

// toGeminiContents converts unified messages. Function responses are keyed by
// tool name, so the name is recovered from the matching tool_use block.
func toGeminiContents(messages []*models.Message) []*genai.Content {
	names := make(map[string]string)
	for _, msg := range messages {
		for _, tu := range msg.ToolUses() {
			names[tu.ID] = tu.Name
		}
	}

	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		for _, b := range msg.ContentBlocks() {
			switch b.Type {
			case models.BlockText:
				if b.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				}
			case models.BlockToolUse:
				var args map[string]any
				if err := json.Unmarshal(b.Input, &args); err != nil {
					args = make(map[string]any)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: b.Name, Args: args},
				})
			case models.BlockToolResult:
				var response map[string]any
				if err := json.Unmarshal([]byte(b.Content), &response); err != nil {
					response = map[string]any{
						"result": b.Content,
						"error":  b.IsError,
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{Name: names[b.ToolUseID], Response: response},
				})
			case models.BlockImage:
				if part := geminiImagePart(b.Source); part != nil {
					content.Parts = append(content.Parts, part)
				}
			}
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func geminiImagePart(src *models.ImageSource) *genai.Part {
	if src == nil {
		return nil
	}
	if src.Data != "" {
		data, err := base64.StdEncoding.DecodeString(src.Data)
		if err != nil {
			return nil
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: src.MediaType}}
	}
	if src.URL != "" {
		return &genai.Part{FileData: &genai.FileData{FileURI: src.URL, MIMEType: src.MediaType}}
	}
	return nil
}

type geminiDecoder struct {
	st           *streamState
	started      bool
	usage        models.TokenUsage
	finishReason string
	sawTool      bool
}

// handle reads frames with gjson rather than genai's response types so that
// fields added by newer API versions do not break decoding.
func (d *geminiDecoder) handle(ev transport.Event) (bool, bool) {
	if !gjson.Valid(ev.Data) {
		return false, false
	}
	data := gjson.Parse(ev.Data)
	if !data.Get("candidates").Exists() && !data.Get("usageMetadata").Exists() {
		return false, false
	}

	if !d.started {
		d.started = true
		d.st.emit(&models.StreamEvent{Type: models.EventMessageStart, MessageID: data.Get("responseId").String()})
	}

	if um := data.Get("usageMetadata"); um.Exists() {
		d.usage.InputTokens = int(um.Get("promptTokenCount").Int())
		d.usage.OutputTokens = int(um.Get("candidatesTokenCount").Int())
		d.usage.CacheReadTokens = int(um.Get("cachedContentTokenCount").Int())
		d.usage.ReasoningTokens = int(um.Get("thoughtsTokenCount").Int())
	}

	candidate := data.Get("candidates.0")
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			d.emitCall(part.Get("functionCall"))
		case part.Get("thought").Bool():
			if text := part.Get("text").String(); text != "" {
				d.st.emit(&models.StreamEvent{Type: models.EventThinkingDelta, Text: text})
			}
		case part.Get("text").String() != "":
			d.st.emit(&models.StreamEvent{Type: models.EventTextDelta, Text: part.Get("text").String()})
		}
		if sig := part.Get("thoughtSignature").String(); sig != "" {
			d.st.emit(&models.StreamEvent{Type: models.EventThinkingDelta, Signature: sig})
		}
		return true
	})

	if fr := candidate.Get("finishReason").String(); fr != "" {
		d.finishReason = fr
	}
	return true, false
}

func (d *geminiDecoder) emitCall(fc gjson.Result) {
	id := fc.Get("id").String()
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	name := fc.Get("name").String()
	args := fc.Get("args").Raw
	if args == "" {
		args = "{}"
	}
	d.sawTool = true
	d.st.emit(&models.StreamEvent{Type: models.EventToolCallStart, ToolCallID: id, ToolName: name})
	d.st.emit(&models.StreamEvent{Type: models.EventToolCallDelta, ToolCallID: id, ArgsFragment: args})
	d.st.emit(&models.StreamEvent{Type: models.EventToolCallEnd, ToolCallID: id, ToolName: name, Input: parseToolArgs(args)})
}

func (d *geminiDecoder) finish(err error) {
	if err != nil {
		return
	}
	usage := d.usage
	usage.ContextTokens = usage.InputTokens
	stop := models.StopEndTurn
	switch {
	case d.sawTool:
		stop = models.StopToolUse
	case d.finishReason == "MAX_TOKENS":
		stop = models.StopMaxTokens
	}
	d.st.end(stop, &usage)
}
