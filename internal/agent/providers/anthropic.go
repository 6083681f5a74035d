package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/sjson"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/agent/toolconv"
	"github.com/haasonsaas/agentrt/internal/transport"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicMaxTokens = 8192
	anthropicVersion          = "2023-06-01"
	minThinkingBudget         = 1024
)

// AnthropicAdapter speaks the block-indexed dialect of the Anthropic
// Messages API.
//
// Content blocks progress concurrently and are addressed by index. Tool
// arguments arrive as input_json_delta fragments that are buffered per block
// until content_block_stop and then parsed as one unit. Usage is split
// between message_start (input and cache counts) and message_delta (output
// count) and is merged into a single message_end.
//
// Event Processing:
//   - message_start: records message id and input/cache usage
//   - content_block_start: opens a block; tool_use blocks emit tool_call_start
//   - content_block_delta: text, thinking, signature, or argument fragments
//   - content_block_stop: closes a block; tool_use blocks emit tool_call_end
//   - message_delta: stop reason and output usage
//   - message_stop: flushes any block still open and emits message_end
type AnthropicAdapter struct {
	BaseAdapter
}

// NewAnthropicAdapter creates the block-indexed adapter.
func NewAnthropicAdapter(t *transport.Transport, logger *slog.Logger) *AnthropicAdapter {
	return &AnthropicAdapter{BaseAdapter: NewBaseAdapter("anthropic", t, logger)}
}

// Stream implements agent.Adapter.
func (a *AnthropicAdapter) Stream(ctx context.Context, req *agent.Request) (<-chan *models.StreamEvent, error) {
	body, err := a.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	base := strings.TrimRight(req.Config.BaseURL, "/")
	if base == "" {
		base = defaultAnthropicBaseURL
	}
	headers := map[string]string{
		"x-api-key":         req.Config.APIKey,
		"anthropic-version": anthropicVersion,
	}
	c := a.newCall(req.RequestID, base+"/v1/messages", headers, body, req.Config.Model)

	st := &streamState{}
	dec := newAnthropicDecoder(st)
	return a.run(ctx, c, st, dec.handle, dec.finish)
}

func (a *AnthropicAdapter) buildBody(req *agent.Request) ([]byte, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Config.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if system := req.SystemPrompt(); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	if req.Config.Thinking.Enabled {
		budget := int64(req.Config.Thinking.BudgetTokens)
		if budget < minThinkingBudget {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	} else if req.Config.Temperature != nil {
		// extended thinking requires the default temperature
		params.Temperature = anthropic.Float(*req.Config.Temperature)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return sjson.SetBytes(body, "stream", true)
}

// toAnthropicMessages converts unified messages. System messages are carried
// separately; tool-role messages become user messages holding tool_result
// blocks. Thinking blocks without a signature came from another dialect and
// cannot be replayed, so they are dropped.
func toAnthropicMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, b := range msg.ContentBlocks() {
			switch b.Type {
			case models.BlockText:
				if b.Text != "" {
					content = append(content, anthropic.NewTextBlock(b.Text))
				}
			case models.BlockThinking:
				if b.Signature != "" && msg.Role == models.RoleAssistant {
					content = append(content, anthropic.NewThinkingBlock(b.Signature, b.Text))
				}
			case models.BlockToolUse:
				var input map[string]any
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &input); err != nil {
						return nil, fmt.Errorf("invalid tool call input for %s: %w", b.ID, err)
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			case models.BlockImage:
				if b.Source == nil {
					continue
				}
				if b.Source.Data != "" {
					content = append(content, anthropic.NewImageBlockBase64(b.Source.MediaType, b.Source.Data))
				} else if b.Source.URL != "" {
					content = append(content, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: b.Source.URL}))
				}
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

type anthropicBlock struct {
	kind string
	id   string
	name string
	args strings.Builder
}

// anthropicDecoder holds per-stream block state keyed by content block index.
type anthropicDecoder struct {
	st         *streamState
	blocks     map[int64]*anthropicBlock
	usage      models.TokenUsage
	stopReason string
	sawTool    bool
}

func newAnthropicDecoder(st *streamState) *anthropicDecoder {
	return &anthropicDecoder{st: st, blocks: make(map[int64]*anthropicBlock)}
}

func (d *anthropicDecoder) handle(ev transport.Event) (bool, bool) {
	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
		return false, false
	}

	switch event.Type {
	case "message_start":
		start := event.AsMessageStart()
		u := start.Message.Usage
		d.usage.InputTokens = int(u.InputTokens)
		d.usage.CacheCreationTokens = int(u.CacheCreationInputTokens)
		d.usage.CacheReadTokens = int(u.CacheReadInputTokens)
		if u.OutputTokens > 0 {
			d.usage.OutputTokens = int(u.OutputTokens)
		}
		d.st.emit(&models.StreamEvent{Type: models.EventMessageStart, MessageID: start.Message.ID})
		return true, false

	case "content_block_start":
		block := event.AsContentBlockStart().ContentBlock
		b := &anthropicBlock{kind: block.Type}
		d.blocks[event.Index] = b
		if block.Type == "tool_use" {
			toolUse := block.AsToolUse()
			b.id, b.name = toolUse.ID, toolUse.Name
			d.sawTool = true
			d.st.emit(&models.StreamEvent{Type: models.EventToolCallStart, ToolCallID: b.id, ToolName: b.name})
		}
		return true, false

	case "content_block_delta":
		delta := event.AsContentBlockDelta().Delta
		switch delta.Type {
		case "text_delta":
			if delta.Text == "" {
				return false, false
			}
			d.st.emit(&models.StreamEvent{Type: models.EventTextDelta, Text: delta.Text})
		case "thinking_delta":
			if delta.Thinking == "" {
				return false, false
			}
			d.st.emit(&models.StreamEvent{Type: models.EventThinkingDelta, Text: delta.Thinking})
		case "signature_delta":
			d.st.emit(&models.StreamEvent{Type: models.EventThinkingDelta, Signature: delta.Signature})
		case "input_json_delta":
			b, ok := d.blocks[event.Index]
			if !ok || b.kind != "tool_use" {
				return false, false
			}
			if delta.PartialJSON == "" {
				return false, false
			}
			b.args.WriteString(delta.PartialJSON)
			d.st.emit(&models.StreamEvent{Type: models.EventToolCallDelta, ToolCallID: b.id, ArgsFragment: delta.PartialJSON})
		default:
			return false, false
		}
		return true, false

	case "content_block_stop":
		b, ok := d.blocks[event.Index]
		if !ok {
			return false, false
		}
		delete(d.blocks, event.Index)
		if b.kind == "tool_use" {
			d.closeTool(b)
		}
		return true, false

	case "message_delta":
		md := event.AsMessageDelta()
		if md.Usage.OutputTokens > 0 {
			d.usage.OutputTokens = int(md.Usage.OutputTokens)
		}
		if md.Usage.InputTokens > 0 {
			d.usage.InputTokens = int(md.Usage.InputTokens)
		}
		if md.Delta.StopReason != "" {
			d.stopReason = string(md.Delta.StopReason)
		}
		return true, false

	case "message_stop":
		d.flushOpen()
		d.end()
		return true, true

	case "ping":
		return false, false
	}
	return false, false
}

// finish runs when the transport ends without message_stop.
func (d *anthropicDecoder) finish(err error) {
	if err != nil {
		return
	}
	d.flushOpen()
	d.end()
}

// flushOpen closes tool blocks left open by a truncated stream, in index order.
func (d *anthropicDecoder) flushOpen() {
	indices := make([]int64, 0, len(d.blocks))
	for idx := range d.blocks {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		if b := d.blocks[idx]; b.kind == "tool_use" {
			d.closeTool(b)
		}
		delete(d.blocks, idx)
	}
}

func (d *anthropicDecoder) closeTool(b *anthropicBlock) {
	d.st.emit(&models.StreamEvent{
		Type:       models.EventToolCallEnd,
		ToolCallID: b.id,
		ToolName:   b.name,
		Input:      parseToolArgs(b.args.String()),
	})
}

func (d *anthropicDecoder) end() {
	usage := d.usage
	usage.ContextTokens = usage.InputTokens + usage.CacheReadTokens + usage.CacheCreationTokens
	d.st.end(normalizeAnthropicStop(d.stopReason, d.sawTool), &usage)
}

func normalizeAnthropicStop(reason string, sawTool bool) string {
	switch reason {
	case "tool_use":
		return models.StopToolUse
	case "max_tokens":
		return models.StopMaxTokens
	case "":
		if sawTool {
			return models.StopToolUse
		}
		return models.StopEndTurn
	default:
		return models.StopEndTurn
	}
}
