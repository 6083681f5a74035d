package providers

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/transport"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const responsesTranscript = `event: response.created
data: {"type":"response.created","response":{"id":"resp_1","status":"in_progress"}}

event: response.output_item.added
data: {"type":"response.output_item.added","output_index":0,"item":{"type":"message","id":"msg_1","role":"assistant","content":[]}}

event: response.output_text.delta
data: {"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"content_index":0,"delta":"Checking "}

event: response.output_text.delta
data: {"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"content_index":0,"delta":"the file."}

event: response.output_item.added
data: {"type":"response.output_item.added","output_index":1,"item":{"type":"function_call","id":"fc_1","call_id":"call_abc","name":"read_file","arguments":""}}

event: response.function_call_arguments.delta
data: {"type":"response.function_call_arguments.delta","item_id":"fc_1","output_index":1,"delta":"{\"path\":"}

event: response.function_call_arguments.delta
data: {"type":"response.function_call_arguments.delta","item_id":"fc_1","output_index":1,"delta":"\"go.mod\"}"}

event: response.function_call_arguments.done
data: {"type":"response.function_call_arguments.done","item_id":"fc_1","output_index":1,"arguments":"{\"path\":\"go.mod\"}"}

event: response.output_item.done
data: {"type":"response.output_item.done","output_index":1,"item":{"type":"function_call","id":"fc_1","call_id":"call_abc","name":"read_file","arguments":"{\"path\":\"go.mod\"}"}}

event: response.completed
data: {"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"input_tokens":300,"input_tokens_details":{"cached_tokens":256},"output_tokens":40,"output_tokens_details":{"reasoning_tokens":12},"total_tokens":340}}}

`

func TestResponsesAdapter_Transcript(t *testing.T) {
	var captured capturedRequest
	server := sseServer(t, responsesTranscript, &captured)

	adapter := NewResponsesAdapter(transport.New(), nil)
	req := &agent.Request{
		Config: models.ProviderConfig{
			Type:    "openai-responses",
			APIKey:  "sk-proj-secretsecretsecretsecret",
			BaseURL: server.URL,
			Model:   "gpt-5",
		},
		System:   "be brief",
		Messages: []*models.Message{{Role: models.RoleUser, Content: "show go.mod"}},
	}
	ch, err := adapter.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	events := collectEvents(t, ch)

	if captured.path != "/responses" {
		t.Errorf("expected path /responses, got %s", captured.path)
	}
	if gjson.Get(captured.body, "instructions").String() != "be brief" {
		t.Errorf("expected instructions in body, got %s", captured.body)
	}

	if got := concatText(events); got != "Checking the file." {
		t.Errorf("expected text %q, got %q", "Checking the file.", got)
	}

	deltas := eventsOfType(events, models.EventToolCallDelta)
	if len(deltas) != 2 {
		t.Errorf("expected live argument deltas, got %d", len(deltas))
	}
	ends := eventsOfType(events, models.EventToolCallEnd)
	if len(ends) != 1 {
		t.Fatalf("expected exactly one tool_call_end, got %d", len(ends))
	}
	if ends[0].ToolCallID != "call_abc" || string(ends[0].Input) != `{"path":"go.mod"}` {
		t.Errorf("unexpected tool call end %+v", ends[0])
	}

	end := messageEnd(t, events)
	if end.StopReason != models.StopToolUse {
		t.Errorf("expected stop reason tool_use, got %s", end.StopReason)
	}
	if u := end.Usage; u.InputTokens != 300 || u.OutputTokens != 40 || u.CacheReadTokens != 256 || u.ReasoningTokens != 12 {
		t.Errorf("unexpected usage %+v", u)
	}
}

func TestResponsesDecoder_Failed(t *testing.T) {
	st, out := decoderState(t)
	dec := newItemDecoder(st)
	_, done := dec.handle(dataEvent(`{"type":"response.failed","response":{"status":"failed","error":{"code":"server_error","message":"internal failure"}}}`))
	if !done {
		t.Fatal("expected response.failed to end the stream")
	}
	dec.finish(nil)
	events := drainBuffered(out)
	if len(eventsOfType(events, models.EventError)) != 1 {
		t.Errorf("expected one error event, got %+v", events)
	}
	if len(eventsOfType(events, models.EventMessageEnd)) != 0 {
		t.Error("expected no message_end after failure")
	}
}

func TestToResponsesInput(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			models.TextBlock("let me check"),
			models.ToolUseBlock("call_1", "read_file", json.RawMessage(`{"path":"a"}`)),
		}},
		{Role: models.RoleTool, Blocks: []models.ContentBlock{
			models.ToolResultBlock("call_1", "A", false),
		}},
	}
	items := toResponsesInput(messages)
	raw, _ := json.Marshal(items)
	body := string(raw)

	wantTypes := []string{"message", "message", "function_call", "function_call_output"}
	if len(items) != len(wantTypes) {
		t.Fatalf("expected %d items, got %d: %s", len(wantTypes), len(items), body)
	}
	for i, want := range wantTypes {
		if got := gjson.Get(body, strconv.Itoa(i)+".type").String(); got != want {
			t.Errorf("item %d: expected type %s, got %s", i, want, got)
		}
	}
	if gjson.Get(body, "1.content.0.type").String() != "output_text" {
		t.Errorf("expected assistant text as output_text, got %s", gjson.Get(body, "1").Raw)
	}
}
