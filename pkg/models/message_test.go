package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessage_ContentBlocks(t *testing.T) {
	plain := &Message{Role: RoleUser, Content: "hello"}
	blocks := plain.ContentBlocks()
	if len(blocks) != 1 || blocks[0].Type != BlockText || blocks[0].Text != "hello" {
		t.Fatalf("plain content not promoted: %+v", blocks)
	}

	empty := &Message{Role: RoleUser}
	if got := empty.ContentBlocks(); got != nil {
		t.Errorf("expected nil blocks for empty message, got %+v", got)
	}
}

func TestMessage_Text(t *testing.T) {
	m := &Message{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			ThinkingBlock("hmm", ""),
			TextBlock("Hello, "),
			ToolUseBlock("t1", "read_file", json.RawMessage(`{}`)),
			TextBlock("world"),
		},
	}
	if got := m.Text(); got != "Hello, world" {
		t.Errorf("Text() = %q, want %q", got, "Hello, world")
	}
}

func TestMessage_IsToolOnly(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"plain text", Message{Content: "hi"}, false},
		{"tool result only", Message{Blocks: []ContentBlock{ToolResultBlock("t1", "ok", false)}}, true},
		{"tool use with blank text", Message{Blocks: []ContentBlock{TextBlock("  "), ToolUseBlock("t1", "x", nil)}}, true},
		{"tool use with text", Message{Blocks: []ContentBlock{TextBlock("running"), ToolUseBlock("t1", "x", nil)}}, false},
		{"thinking and tool use", Message{Blocks: []ContentBlock{ThinkingBlock("plan", ""), ToolUseBlock("t1", "x", nil)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsToolOnly(); got != tt.want {
				t.Errorf("IsToolOnly() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage_IsEmpty(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"no content", Message{}, true},
		{"whitespace", Message{Content: " \n"}, true},
		{"blank blocks", Message{Blocks: []ContentBlock{TextBlock(""), ThinkingBlock(" ", "")}}, true},
		{"image", Message{Blocks: []ContentBlock{{Type: BlockImage, Source: &ImageSource{URL: "x"}}}}, false},
		{"text", Message{Content: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	orig := &Message{
		ID:   "m1",
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			ToolUseBlock("t1", "write_file", json.RawMessage(`{"path":"a"}`)),
		},
		Usage:     &TokenUsage{InputTokens: 3, Timings: []RequestTiming{{Duration: time.Second}}},
		CreatedAt: time.Now(),
	}
	cp := orig.Clone()
	cp.Blocks[0].Input[2] = 'X'
	cp.Blocks[0].Name = "other"
	cp.Usage.InputTokens = 99
	cp.Usage.Timings[0].Duration = 0

	if string(orig.Blocks[0].Input) != `{"path":"a"}` {
		t.Errorf("input aliased: %s", orig.Blocks[0].Input)
	}
	if orig.Blocks[0].Name != "write_file" {
		t.Errorf("block aliased")
	}
	if orig.Usage.InputTokens != 3 || orig.Usage.Timings[0].Duration != time.Second {
		t.Errorf("usage aliased: %+v", orig.Usage)
	}
}

func TestTokenUsage_AddKeepsContextTokensAsLastCall(t *testing.T) {
	var total TokenUsage
	total.Add(&TokenUsage{InputTokens: 100, OutputTokens: 10, ContextTokens: 100})
	total.Add(&TokenUsage{InputTokens: 150, OutputTokens: 20, CacheReadTokens: 5, ContextTokens: 150})
	total.Add(nil)

	if total.InputTokens != 250 || total.OutputTokens != 30 {
		t.Errorf("counters = %d/%d, want 250/30", total.InputTokens, total.OutputTokens)
	}
	if total.CacheReadTokens != 5 {
		t.Errorf("CacheReadTokens = %d, want 5", total.CacheReadTokens)
	}
	if total.ContextTokens != 150 {
		t.Errorf("ContextTokens = %d, want 150 (last call only)", total.ContextTokens)
	}
	if total.TotalTokens() != 280 {
		t.Errorf("TotalTokens() = %d, want 280", total.TotalTokens())
	}
}

func TestToolCallStatus_IsTerminal(t *testing.T) {
	for status, want := range map[ToolCallStatus]bool{
		ToolCallStreaming:       false,
		ToolCallPendingApproval: false,
		ToolCallRunning:         false,
		ToolCallCompleted:       true,
		ToolCallError:           true,
	} {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}
