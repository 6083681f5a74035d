package context

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// Sanitize repairs tool pairing in a message list. A tool_use whose
// tool_result is missing, or a tool_result whose tool_use is missing, is
// rewritten as a descriptive text block; messages left with no content are
// dropped. The input is not modified.
func Sanitize(msgs []*models.Message) []*models.Message {
	uses := make(map[string]int)
	results := make(map[string]int)
	for _, m := range msgs {
		if m == nil {
			continue
		}
		for _, b := range m.Blocks {
			switch b.Type {
			case models.BlockToolUse:
				uses[b.ID]++
			case models.BlockToolResult:
				results[b.ToolUseID]++
			}
		}
	}

	// a result only counts as paired when its use appeared earlier
	seenUse := make(map[string]bool)
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		var fixed *models.Message
		for j, b := range m.Blocks {
			var text string
			switch b.Type {
			case models.BlockToolUse:
				seenUse[b.ID] = true
				if b.ID != "" && results[b.ID] > 0 {
					continue
				}
				text = describeToolUse(b)
			case models.BlockToolResult:
				if b.ToolUseID != "" && seenUse[b.ToolUseID] && uses[b.ToolUseID] > 0 {
					continue
				}
				text = describeToolResult(b)
			default:
				continue
			}
			if fixed == nil {
				fixed = m.Clone()
			}
			fixed.Blocks[j] = models.TextBlock(text)
		}

		msg := m
		if fixed != nil {
			msg = fixed
			// a message that only held results is no longer a tool message
			if msg.Role == models.RoleTool && len(msg.ToolResults()) == 0 {
				msg.Role = models.RoleUser
			}
		}
		if msg.IsEmpty() {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// HasOrphans reports whether any tool_use or tool_result is unpaired.
func HasOrphans(msgs []*models.Message) bool {
	uses := make(map[string]bool)
	results := make(map[string]bool)
	for _, m := range msgs {
		if m == nil {
			continue
		}
		for _, b := range m.Blocks {
			switch b.Type {
			case models.BlockToolUse:
				uses[b.ID] = true
			case models.BlockToolResult:
				if !uses[b.ToolUseID] {
					return true
				}
				results[b.ToolUseID] = true
			}
		}
	}
	for id := range uses {
		if !results[id] {
			return true
		}
	}
	return false
}

func describeToolUse(b models.ContentBlock) string {
	return fmt.Sprintf("[Earlier tool call %s(%s) whose result is no longer available]",
		b.Name, truncate(string(b.Input), maxArgChars))
}

func describeToolResult(b models.ContentBlock) string {
	status := "result"
	if b.IsError {
		status = "error"
	}
	content := strings.TrimSpace(truncate(b.Content, maxResultChars))
	return fmt.Sprintf("[Earlier tool %s: %s]", status, content)
}
