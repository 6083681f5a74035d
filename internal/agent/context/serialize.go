package context

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/agentrt/pkg/models"
)

const (
	maxArgChars        = 300
	maxResultChars     = 800
	maxTextChars       = 4000
	maxTranscriptChars = 120000
)

// Serialize renders messages as bounded plain text for the summarizer.
// Thinking is omitted; tool arguments, results and long text are truncated.
// When the whole transcript exceeds its bound, the middle is elided so both
// the opening and the latest context survive.
func Serialize(msgs []*models.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m == nil {
			continue
		}
		writeMessage(&sb, m)
	}
	out := sb.String()
	if len(out) <= maxTranscriptChars {
		return out
	}
	half := maxTranscriptChars / 2
	head, tail := half, len(out)-half
	for head > 0 && !isRuneStart(out[head]) {
		head--
	}
	for tail < len(out) && !isRuneStart(out[tail]) {
		tail++
	}
	return out[:head] + fmt.Sprintf("\n\n[... %d characters omitted ...]\n\n", tail-head) + out[tail:]
}

func writeMessage(sb *strings.Builder, m *models.Message) {
	label := strings.ToUpper(string(m.Role))
	if m.Source != "" {
		label += " (" + m.Source + ")"
	}
	fmt.Fprintf(sb, "[%s]\n", label)
	for _, b := range m.ContentBlocks() {
		switch b.Type {
		case models.BlockText:
			if t := strings.TrimSpace(b.Text); t != "" {
				sb.WriteString(truncate(t, maxTextChars))
				sb.WriteString("\n")
			}
		case models.BlockToolUse:
			fmt.Fprintf(sb, "-> tool %s %s\n", b.Name, truncate(string(b.Input), maxArgChars))
		case models.BlockToolResult:
			status := "ok"
			if b.IsError {
				status = "error"
			}
			fmt.Fprintf(sb, "<- result (%s): %s\n", status, truncate(strings.TrimSpace(b.Content), maxResultChars))
		case models.BlockImage:
			sb.WriteString("[image]\n")
		}
	}
	sb.WriteString("\n")
}

// truncate cuts s to at most n bytes on a rune boundary and marks the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [%d more chars]", len(s)-cut)
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
