package context

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/haasonsaas/agentrt/pkg/models"
)

func TestPreCompress(t *testing.T) {
	long := strings.Repeat("y", MaxKeptToolResult+1)
	short := strings.Repeat("z", MaxKeptToolResult)

	old := []*models.Message{
		{Role: models.RoleUser, Content: "task"},
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			models.ThinkingBlock("old reasoning", "sig"),
			models.ToolUseBlock("c1", "read_file", json.RawMessage(`{}`)),
			models.ToolUseBlock("c2", "read_file", json.RawMessage(`{}`)),
		}},
		{Role: models.RoleTool, Blocks: []models.ContentBlock{
			models.ToolResultBlock("c1", long, false),
			models.ToolResultBlock("c2", short, false),
		}},
	}
	// task, a0, r0, a1, r1, a2, r2, final; the last six are preserved
	recent := conversation(3)[1:]
	recent[3].Blocks = append([]models.ContentBlock{models.ThinkingBlock("recent reasoning", "sig2")}, recent[3].Blocks...)
	recent[4].Blocks[0].Content = long

	msgs := append(old, recent...)
	out, cleared := PreCompress(msgs)

	if len(out) != len(msgs) {
		t.Fatalf("expected message count unchanged, got %d -> %d", len(msgs), len(out))
	}
	if cleared != 2 {
		t.Errorf("expected 2 cleared blocks, got %d", cleared)
	}
	if got := out[1].Blocks[0]; got.Text != ClearedThinking || got.Signature != "" {
		t.Errorf("expected old thinking cleared, got %+v", got)
	}
	if got := out[2].Blocks[0].Content; got != ClearedToolResult {
		t.Errorf("expected long result cleared, got %q", got)
	}
	if got := out[2].Blocks[1].Content; got != short {
		t.Error("expected short result kept")
	}

	// recent messages are untouched and shared
	for i := len(msgs) - PreserveRecent; i < len(msgs); i++ {
		if out[i] != msgs[i] {
			t.Errorf("expected recent message %d to be shared", i)
		}
	}
	// inputs are not mutated
	if msgs[1].Blocks[0].Text != "old reasoning" || msgs[2].Blocks[0].Content != long {
		t.Error("input messages were modified")
	}
	if out[0] != msgs[0] {
		t.Error("expected unchanged message to be shared")
	}
}

func TestPreCompress_ShortConversation(t *testing.T) {
	msgs := conversation(1)
	out, cleared := PreCompress(msgs)
	if cleared != 0 {
		t.Errorf("expected nothing cleared, got %d", cleared)
	}
	for i := range msgs {
		if out[i] != msgs[i] {
			t.Errorf("expected message %d shared", i)
		}
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name      string
		msgs      []*models.Message
		wantCount int
		check     func(t *testing.T, out []*models.Message)
	}{
		{
			name:      "paired untouched",
			msgs:      conversation(2),
			wantCount: 7,
			check: func(t *testing.T, out []*models.Message) {
				if HasOrphans(out) {
					t.Error("expected no orphans")
				}
			},
		},
		{
			name: "orphan result becomes text",
			msgs: []*models.Message{
				{Role: models.RoleUser, Content: "task"},
				{Role: models.RoleTool, Blocks: []models.ContentBlock{models.ToolResultBlock("gone", "output", true)}},
			},
			wantCount: 2,
			check: func(t *testing.T, out []*models.Message) {
				b := out[1].Blocks[0]
				if b.Type != models.BlockText || !strings.Contains(b.Text, "output") {
					t.Errorf("expected descriptive text, got %+v", b)
				}
				if out[1].Role != models.RoleUser {
					t.Errorf("expected role user, got %s", out[1].Role)
				}
			},
		},
		{
			name: "orphan use becomes text",
			msgs: []*models.Message{
				{Role: models.RoleUser, Content: "task"},
				{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
					models.ToolUseBlock("lost", "shell", json.RawMessage(`{"cmd":"ls"}`)),
				}},
			},
			wantCount: 2,
			check: func(t *testing.T, out []*models.Message) {
				b := out[1].Blocks[0]
				if b.Type != models.BlockText || !strings.Contains(b.Text, "shell") {
					t.Errorf("expected descriptive text, got %+v", b)
				}
			},
		},
		{
			name: "empty messages dropped",
			msgs: []*models.Message{
				{Role: models.RoleUser, Content: "task"},
				{Role: models.RoleAssistant, Content: "   "},
				nil,
			},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Sanitize(tt.msgs)
			if len(out) != tt.wantCount {
				t.Fatalf("expected %d messages, got %d", tt.wantCount, len(out))
			}
			if HasOrphans(out) {
				t.Error("sanitized output still has orphans")
			}
			if tt.check != nil {
				tt.check(t, out)
			}
		})
	}
}

func TestSerialize(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleUser, Source: models.SourceTeam, Content: "note from peer"},
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			models.ThinkingBlock("secret reasoning", ""),
			models.ToolUseBlock("c1", "write_file", json.RawMessage(`{"content":"`+strings.Repeat("a", 1000)+`"}`)),
		}},
		{Role: models.RoleTool, Blocks: []models.ContentBlock{
			models.ToolResultBlock("c1", strings.Repeat("b", 5000), false),
		}},
	}
	out := Serialize(msgs)
	if strings.Contains(out, "secret reasoning") {
		t.Error("expected thinking omitted")
	}
	if !strings.Contains(out, "USER (team)") {
		t.Error("expected source label")
	}
	if strings.Contains(out, strings.Repeat("a", maxArgChars+1)) {
		t.Error("expected tool arguments truncated")
	}
	if strings.Contains(out, strings.Repeat("b", maxResultChars+1)) {
		t.Error("expected tool result truncated")
	}
}

func TestSerialize_BoundsTotal(t *testing.T) {
	var msgs []*models.Message
	for i := 0; i < 100; i++ {
		msgs = append(msgs, &models.Message{Role: models.RoleUser, Content: strings.Repeat("w", maxTextChars)})
	}
	out := Serialize(msgs)
	if len(out) > maxTranscriptChars+100 {
		t.Errorf("expected bounded transcript, got %d chars", len(out))
	}
	if !strings.Contains(out, "characters omitted") {
		t.Error("expected elision marker")
	}
}

func TestSerialize_ElisionKeepsRunesWhole(t *testing.T) {
	// The short first message shifts both cut points into the middle of an "é".
	msgs := []*models.Message{{Role: models.RoleUser, Content: "xy"}}
	for i := 0; i < 100; i++ {
		msgs = append(msgs, &models.Message{Role: models.RoleUser, Content: strings.Repeat("é", maxTextChars/2)})
	}
	out := Serialize(msgs)
	if !utf8.ValidString(out) {
		t.Fatal("expected valid UTF-8 after elision")
	}
	if !strings.Contains(out, "characters omitted") {
		t.Error("expected elision marker")
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 10) // 20 bytes
	got := truncate(s, 5)
	if !strings.HasPrefix(got, "éé") || strings.HasPrefix(got, "ééé") {
		t.Errorf("unexpected truncation %q", got)
	}
}

func TestEstimator(t *testing.T) {
	e := NewEstimator()
	if e.Count("") != 0 {
		t.Error("expected zero for empty text")
	}
	short := e.Count("hello")
	long := e.Count(strings.Repeat("hello world ", 100))
	if short <= 0 || long <= short {
		t.Errorf("expected monotonic counts, got %d and %d", short, long)
	}
	if got := e.CountMessages(conversation(2)); got <= 0 {
		t.Errorf("expected positive message estimate, got %d", got)
	}
}
