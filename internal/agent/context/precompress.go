package context

import (
	"github.com/haasonsaas/agentrt/pkg/models"
)

const (
	// PreserveRecent is the number of trailing messages pre-compression
	// leaves untouched.
	PreserveRecent = 6

	// MaxKeptToolResult is the longest tool_result content pre-compression
	// leaves in place.
	MaxKeptToolResult = 200

	ClearedToolResult = "[Tool result cleared to save context]"
	ClearedThinking   = "[Thinking cleared to save context]"
)

// PreCompress clears tool_result content longer than MaxKeptToolResult and
// all thinking outside the most recent PreserveRecent messages. It returns a
// new slice of the same length; changed messages are copies, unchanged ones
// are shared with the input. cleared counts the blocks replaced.
func PreCompress(msgs []*models.Message) (out []*models.Message, cleared int) {
	out = make([]*models.Message, len(msgs))
	copy(out, msgs)

	cutoff := len(msgs) - PreserveRecent
	for i := 0; i < cutoff; i++ {
		msg := msgs[i]
		if msg == nil || len(msg.Blocks) == 0 {
			continue
		}

		var updated *models.Message
		for j, b := range msg.Blocks {
			switch {
			case b.Type == models.BlockToolResult && len(b.Content) > MaxKeptToolResult:
				if updated == nil {
					updated = msg.Clone()
				}
				updated.Blocks[j].Content = ClearedToolResult
				cleared++
			case b.Type == models.BlockThinking && b.Text != ClearedThinking:
				if updated == nil {
					updated = msg.Clone()
				}
				// a cleared block can no longer be replayed as signed thinking
				updated.Blocks[j].Text = ClearedThinking
				updated.Blocks[j].Signature = ""
				cleared++
			}
		}
		if updated != nil {
			out[i] = updated
		}
	}
	return out, cleared
}
