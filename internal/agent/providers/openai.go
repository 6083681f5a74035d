package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/agent/toolconv"
	"github.com/haasonsaas/agentrt/internal/transport"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter speaks the delta-merge dialect of OpenAI-compatible chat
// completion endpoints (OpenAI, DeepSeek, OpenRouter, vLLM, Ollama).
//
// Key Differences from the block-indexed dialect:
//   - System messages are included in the messages array
//   - Tool calls are addressed by array index; the id may only appear after
//     the first argument fragment, so fragments are buffered per index and
//     tool_call_start is emitted once the id is known
//   - Tool results require separate tool-role messages, one per call
//   - Usage arrives in a trailing chunk with no choices
type OpenAIAdapter struct {
	BaseAdapter
}

// NewOpenAIAdapter creates the delta-merge adapter.
func NewOpenAIAdapter(t *transport.Transport, logger *slog.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{BaseAdapter: NewBaseAdapter("openai", t, logger)}
}

// Stream implements agent.Adapter.
func (a *OpenAIAdapter) Stream(ctx context.Context, req *agent.Request) (<-chan *models.StreamEvent, error) {
	body, err := a.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	base := strings.TrimRight(req.Config.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	headers := map[string]string{}
	if req.Config.APIKey != "" {
		headers["Authorization"] = "Bearer " + req.Config.APIKey
	}
	c := a.newCall(req.RequestID, base+"/chat/completions", headers, body, req.Config.Model)

	st := &streamState{}
	dec := newDeltaMergeDecoder(st)
	return a.run(ctx, c, st, dec.handle, dec.finish)
}

func (a *OpenAIAdapter) buildBody(req *agent.Request) ([]byte, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:         req.Config.Model,
		Messages:      toOpenAIMessages(req.SystemPrompt(), req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		Tools:         toolconv.ToOpenAITools(req.Tools),
	}
	if req.Config.MaxTokens > 0 {
		chatReq.MaxTokens = req.Config.MaxTokens
	}
	if req.Config.Temperature != nil {
		chatReq.Temperature = float32(*req.Config.Temperature)
	}
	if req.Config.Thinking.Enabled && req.Config.Thinking.Effort != "" {
		chatReq.ReasoningEffort = req.Config.Thinking.Effort
	}
	return json.Marshal(chatReq)
}

// toOpenAIMessages converts unified messages. Every tool_result block becomes
// its own tool-role message placed where the block was; thinking is dropped.
func toOpenAIMessages(system string, messages []*models.Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Text()})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text()}
			for _, tu := range msg.ToolUses() {
				args := string(tu.Input)
				if args == "" {
					args = "{}"
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tu.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tu.Name,
						Arguments: args,
					},
				})
			}
			if oaiMsg.Content == "" && len(oaiMsg.ToolCalls) == 0 {
				continue
			}
			result = append(result, oaiMsg)

		default:
			var parts []openai.ChatMessagePart
			hasImage := false
			for _, b := range msg.ContentBlocks() {
				switch b.Type {
				case models.BlockToolResult:
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    b.Content,
						ToolCallID: b.ToolUseID,
					})
				case models.BlockText:
					if b.Text != "" {
						parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: b.Text})
					}
				case models.BlockImage:
					if url := imageURL(b.Source); url != "" {
						hasImage = true
						parts = append(parts, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    url,
								Detail: openai.ImageURLDetailAuto,
							},
						})
					}
				}
			}
			if len(parts) == 0 {
				continue
			}
			userMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			if hasImage {
				userMsg.MultiContent = parts
			} else {
				var sb strings.Builder
				for _, p := range parts {
					sb.WriteString(p.Text)
				}
				userMsg.Content = sb.String()
			}
			result = append(result, userMsg)
		}
	}
	return result
}

func imageURL(src *models.ImageSource) string {
	if src == nil {
		return ""
	}
	if src.URL != "" {
		return src.URL
	}
	if src.Data != "" {
		return "data:" + src.MediaType + ";base64," + src.Data
	}
	return ""
}

type pendingCall struct {
	id       string
	name     string
	started  bool
	closed   bool
	buffered []string
	args     strings.Builder
}

// deltaMergeDecoder merges index-addressed tool call fragments.
type deltaMergeDecoder struct {
	st         *streamState
	calls      map[int]*pendingCall
	usage      models.TokenUsage
	stopReason string
	started    bool
}

func newDeltaMergeDecoder(st *streamState) *deltaMergeDecoder {
	return &deltaMergeDecoder{st: st, calls: make(map[int]*pendingCall)}
}

func (d *deltaMergeDecoder) handle(ev transport.Event) (bool, bool) {
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
		return false, false
	}

	produced := false
	if !d.started {
		d.started = true
		d.st.emit(&models.StreamEvent{Type: models.EventMessageStart, MessageID: chunk.ID})
		produced = true
	}

	if chunk.Usage != nil {
		d.usage.InputTokens = chunk.Usage.PromptTokens
		d.usage.OutputTokens = chunk.Usage.CompletionTokens
		// detail objects differ across compatible servers
		d.usage.CacheReadTokens = int(gjson.Get(ev.Data, "usage.prompt_tokens_details.cached_tokens").Int())
		d.usage.ReasoningTokens = int(gjson.Get(ev.Data, "usage.completion_tokens_details.reasoning_tokens").Int())
		produced = true
	}

	if len(chunk.Choices) == 0 {
		return produced, false
	}
	choice := chunk.Choices[0]

	// reasoning_content is a DeepSeek/OpenRouter extension outside the typed delta
	if reasoning := gjson.Get(ev.Data, "choices.0.delta.reasoning_content").String(); reasoning != "" {
		d.st.emit(&models.StreamEvent{Type: models.EventThinkingDelta, Text: reasoning})
		produced = true
	}

	if choice.Delta.Content != "" {
		d.st.emit(&models.StreamEvent{Type: models.EventTextDelta, Text: choice.Delta.Content})
		produced = true
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		d.mergeToolDelta(idx, tc)
		produced = true
	}

	if choice.FinishReason != "" {
		d.stopReason = string(choice.FinishReason)
		d.closeCalls()
		produced = true
	}
	return produced, false
}

func (d *deltaMergeDecoder) mergeToolDelta(idx int, tc openai.ToolCall) {
	p, ok := d.calls[idx]
	if !ok {
		p = &pendingCall{}
		d.calls[idx] = p
	}
	if p.closed {
		return
	}
	if tc.ID != "" && p.id == "" {
		p.id = tc.ID
	}
	if tc.Function.Name != "" && p.name == "" {
		p.name = tc.Function.Name
	}
	frag := tc.Function.Arguments
	if frag != "" {
		p.args.WriteString(frag)
	}

	if p.started {
		if frag != "" {
			d.st.emit(&models.StreamEvent{Type: models.EventToolCallDelta, ToolCallID: p.id, ArgsFragment: frag})
		}
		return
	}
	if frag != "" {
		p.buffered = append(p.buffered, frag)
	}
	if p.id != "" {
		d.startCall(p)
	}
}

// startCall emits tool_call_start followed by every fragment buffered while
// the id was still unknown.
func (d *deltaMergeDecoder) startCall(p *pendingCall) {
	p.started = true
	d.st.emit(&models.StreamEvent{Type: models.EventToolCallStart, ToolCallID: p.id, ToolName: p.name})
	for _, frag := range p.buffered {
		d.st.emit(&models.StreamEvent{Type: models.EventToolCallDelta, ToolCallID: p.id, ArgsFragment: frag})
	}
	p.buffered = nil
}

// closeCalls ends every open call in index order. Calls whose id never
// arrived get a synthesized one so the result can still be paired.
func (d *deltaMergeDecoder) closeCalls() {
	indices := make([]int, 0, len(d.calls))
	for idx := range d.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		p := d.calls[idx]
		if p.closed {
			continue
		}
		if !p.started {
			if p.id == "" {
				p.id = "call_" + uuid.NewString()
			}
			d.startCall(p)
		}
		p.closed = true
		d.st.emit(&models.StreamEvent{
			Type:       models.EventToolCallEnd,
			ToolCallID: p.id,
			ToolName:   p.name,
			Input:      parseToolArgs(p.args.String()),
		})
	}
}

func (d *deltaMergeDecoder) finish(err error) {
	if err != nil {
		return
	}
	d.closeCalls()
	usage := d.usage
	usage.ContextTokens = usage.InputTokens
	d.st.end(normalizeOpenAIStop(d.stopReason, len(d.calls) > 0), &usage)
}

func normalizeOpenAIStop(reason string, sawTool bool) string {
	switch reason {
	case "tool_calls", "function_call":
		return models.StopToolUse
	case "length":
		return models.StopMaxTokens
	}
	if sawTool {
		return models.StopToolUse
	}
	return models.StopEndTurn
}
