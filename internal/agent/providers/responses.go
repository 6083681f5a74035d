package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/agent/toolconv"
	"github.com/haasonsaas/agentrt/internal/transport"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// ResponsesAdapter speaks the item-addressed dialect of the OpenAI Responses
// API. Output items carry stable ids, tool arguments stream per item id, and
// the completed arguments are repeated in a done event, so no index
// bookkeeping is needed.
type ResponsesAdapter struct {
	BaseAdapter
}

// NewResponsesAdapter creates the item-addressed adapter.
func NewResponsesAdapter(t *transport.Transport, logger *slog.Logger) *ResponsesAdapter {
	return &ResponsesAdapter{BaseAdapter: NewBaseAdapter("openai-responses", t, logger)}
}

type responsesRequest struct {
	Model           string                   `json:"model"`
	Instructions    string                   `json:"instructions,omitempty"`
	Input           []map[string]any         `json:"input"`
	Tools           []toolconv.ResponsesTool `json:"tools,omitempty"`
	Stream          bool                     `json:"stream"`
	MaxOutputTokens int                      `json:"max_output_tokens,omitempty"`
	Temperature     *float64                 `json:"temperature,omitempty"`
	Reasoning       *responsesReasoning      `json:"reasoning,omitempty"`
	Store           bool                     `json:"store"`
}

type responsesReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Stream implements agent.Adapter.
func (a *ResponsesAdapter) Stream(ctx context.Context, req *agent.Request) (<-chan *models.StreamEvent, error) {
	body, err := a.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("openai-responses: %w", err)
	}

	base := strings.TrimRight(req.Config.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	headers := map[string]string{}
	if req.Config.APIKey != "" {
		headers["Authorization"] = "Bearer " + req.Config.APIKey
	}
	c := a.newCall(req.RequestID, base+"/responses", headers, body, req.Config.Model)

	st := &streamState{}
	dec := newItemDecoder(st)
	return a.run(ctx, c, st, dec.handle, dec.finish)
}

func (a *ResponsesAdapter) buildBody(req *agent.Request) ([]byte, error) {
	r := responsesRequest{
		Model:           req.Config.Model,
		Instructions:    req.SystemPrompt(),
		Input:           toResponsesInput(req.Messages),
		Tools:           toolconv.ToResponsesTools(req.Tools),
		Stream:          true,
		MaxOutputTokens: req.Config.MaxTokens,
	}
	if req.Config.Thinking.Enabled {
		effort := req.Config.Thinking.Effort
		if effort == "" {
			effort = "medium"
		}
		r.Reasoning = &responsesReasoning{Effort: effort, Summary: "auto"}
	} else {
		r.Temperature = req.Config.Temperature
	}
	return json.Marshal(r)
}

// toResponsesInput flattens messages into input items. Tool calls and their
// results are top-level items rather than message content.
func toResponsesInput(messages []*models.Message) []map[string]any {
	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			items = append(items, map[string]any{
				"role":    "developer",
				"content": msg.Text(),
			})
			continue
		}

		var content []map[string]any
		flush := func() {
			if len(content) == 0 {
				return
			}
			role := "user"
			if msg.Role == models.RoleAssistant {
				role = "assistant"
			}
			items = append(items, map[string]any{
				"type":    "message",
				"role":    role,
				"content": content,
			})
			content = nil
		}

		for _, b := range msg.ContentBlocks() {
			switch b.Type {
			case models.BlockText:
				if b.Text == "" {
					continue
				}
				kind := "input_text"
				if msg.Role == models.RoleAssistant {
					kind = "output_text"
				}
				content = append(content, map[string]any{"type": kind, "text": b.Text})
			case models.BlockImage:
				if url := imageURL(b.Source); url != "" && msg.Role != models.RoleAssistant {
					content = append(content, map[string]any{"type": "input_image", "image_url": url})
				}
			case models.BlockToolUse:
				flush()
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				items = append(items, map[string]any{
					"type":      "function_call",
					"call_id":   b.ID,
					"name":      b.Name,
					"arguments": args,
				})
			case models.BlockToolResult:
				flush()
				items = append(items, map[string]any{
					"type":    "function_call_output",
					"call_id": b.ToolUseID,
					"output":  b.Content,
				})
			}
		}
		flush()
	}
	return items
}

type responsesItem struct {
	callID string
	name   string
	args   strings.Builder
	closed bool
}

// itemDecoder tracks function_call output items by item id.
type itemDecoder struct {
	st      *streamState
	items   map[string]*responsesItem
	order   []string
	usage   models.TokenUsage
	status  string
	sawTool bool
}

func newItemDecoder(st *streamState) *itemDecoder {
	return &itemDecoder{st: st, items: make(map[string]*responsesItem)}
}

func (d *itemDecoder) handle(ev transport.Event) (bool, bool) {
	if !gjson.Valid(ev.Data) {
		return false, false
	}
	data := gjson.Parse(ev.Data)
	kind := data.Get("type").String()
	if kind == "" {
		kind = ev.Name
	}

	switch kind {
	case "response.created":
		d.st.emit(&models.StreamEvent{Type: models.EventMessageStart, MessageID: data.Get("response.id").String()})
		return true, false

	case "response.output_item.added":
		item := data.Get("item")
		if item.Get("type").String() != "function_call" {
			return true, false
		}
		it := &responsesItem{
			callID: item.Get("call_id").String(),
			name:   item.Get("name").String(),
		}
		if it.callID == "" {
			it.callID = item.Get("id").String()
		}
		id := item.Get("id").String()
		d.items[id] = it
		d.order = append(d.order, id)
		d.sawTool = true
		d.st.emit(&models.StreamEvent{Type: models.EventToolCallStart, ToolCallID: it.callID, ToolName: it.name})
		return true, false

	case "response.function_call_arguments.delta":
		it, ok := d.items[data.Get("item_id").String()]
		if !ok || it.closed {
			return false, false
		}
		frag := data.Get("delta").String()
		if frag == "" {
			return false, false
		}
		it.args.WriteString(frag)
		d.st.emit(&models.StreamEvent{Type: models.EventToolCallDelta, ToolCallID: it.callID, ArgsFragment: frag})
		return true, false

	case "response.function_call_arguments.done":
		it, ok := d.items[data.Get("item_id").String()]
		if !ok || it.closed {
			return false, false
		}
		if args := data.Get("arguments"); args.Exists() {
			it.args.Reset()
			it.args.WriteString(args.String())
		}
		d.closeItem(it)
		return true, false

	case "response.output_item.done":
		if it, ok := d.items[data.Get("item.id").String()]; ok && !it.closed {
			if args := data.Get("item.arguments"); args.Exists() {
				it.args.Reset()
				it.args.WriteString(args.String())
			}
			d.closeItem(it)
		}
		return true, false

	case "response.output_text.delta":
		if text := data.Get("delta").String(); text != "" {
			d.st.emit(&models.StreamEvent{Type: models.EventTextDelta, Text: text})
			return true, false
		}
		return false, false

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		if text := data.Get("delta").String(); text != "" {
			d.st.emit(&models.StreamEvent{Type: models.EventThinkingDelta, Text: text})
			return true, false
		}
		return false, false

	case "response.completed", "response.incomplete":
		resp := data.Get("response")
		d.readUsage(resp.Get("usage"))
		d.status = resp.Get("status").String()
		if kind == "response.incomplete" && resp.Get("incomplete_details.reason").String() == "max_output_tokens" {
			d.status = "max_output_tokens"
		}
		d.closeAll()
		d.end()
		return true, true

	case "response.failed":
		d.st.failed = true
		msg := data.Get("response.error.message").String()
		if msg == "" {
			msg = "response failed"
		}
		d.st.emit(&models.StreamEvent{Type: models.EventError, Err: &ProtocolError{
			Reason:   classifyReason(data.Get("response.error.code").String() + " " + msg),
			Provider: "openai-responses",
			Code:     data.Get("response.error.code").String(),
			Message:  msg,
		}})
		return true, true
	}
	return false, false
}

func (d *itemDecoder) readUsage(u gjson.Result) {
	if !u.Exists() {
		return
	}
	d.usage.InputTokens = int(u.Get("input_tokens").Int())
	d.usage.OutputTokens = int(u.Get("output_tokens").Int())
	d.usage.CacheReadTokens = int(u.Get("input_tokens_details.cached_tokens").Int())
	d.usage.ReasoningTokens = int(u.Get("output_tokens_details.reasoning_tokens").Int())
}

func (d *itemDecoder) closeItem(it *responsesItem) {
	it.closed = true
	d.st.emit(&models.StreamEvent{
		Type:       models.EventToolCallEnd,
		ToolCallID: it.callID,
		ToolName:   it.name,
		Input:      parseToolArgs(it.args.String()),
	})
}

func (d *itemDecoder) closeAll() {
	for _, id := range d.order {
		if it := d.items[id]; !it.closed {
			d.closeItem(it)
		}
	}
}

func (d *itemDecoder) finish(err error) {
	if err != nil || d.st.failed {
		return
	}
	d.closeAll()
	d.end()
}

func (d *itemDecoder) end() {
	usage := d.usage
	usage.ContextTokens = usage.InputTokens
	stop := models.StopEndTurn
	switch {
	case d.status == "max_output_tokens":
		stop = models.StopMaxTokens
	case d.sawTool:
		stop = models.StopToolUse
	}
	d.st.end(stop, &usage)
}
