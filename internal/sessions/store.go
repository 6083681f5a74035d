// Package sessions persists the message list of each conversation.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/agentrt/pkg/models"
)

var (
	// ErrMessageNotFound is returned when a message id is not in the session.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidIndex is returned by TruncateFrom for an out-of-range index.
	ErrInvalidIndex = errors.New("invalid message index")

	// ErrDuplicateMessage is returned when appending an id already present.
	ErrDuplicateMessage = errors.New("duplicate message id")
)

// Store is the interface for session message persistence. Messages of a
// session are kept in a stable order; List returns them in that order.
//
// Implementations return copies: callers may not observe later writes
// through a previously returned message and writes never alias the
// caller's values.
type Store interface {
	// Append adds messages to the end of the session, creating it if needed.
	Append(ctx context.Context, sessionID string, msgs ...*models.Message) error

	// List returns the session's messages in order. An unknown session is
	// empty, not an error.
	List(ctx context.Context, sessionID string) ([]*models.Message, error)

	// Patch updates selected fields of one message in place.
	Patch(ctx context.Context, sessionID, msgID string, patch MessagePatch) error

	// Delete removes one message.
	Delete(ctx context.Context, sessionID, msgID string) error

	// TruncateFrom removes the message at index and everything after it.
	TruncateFrom(ctx context.Context, sessionID string, index int) error

	// Replace swaps the whole list atomically, as after full compression.
	Replace(ctx context.Context, sessionID string, msgs []*models.Message) error

	// Sessions lists known sessions, most recently updated first.
	Sessions(ctx context.Context) ([]SessionInfo, error)
}

// MessagePatch carries a partial update. Nil fields are left unchanged.
type MessagePatch struct {
	Content *string
	Blocks  []models.ContentBlock
	Usage   *models.TokenUsage
}

// Apply writes the patch onto msg.
func (p MessagePatch) Apply(msg *models.Message) {
	if p.Content != nil {
		msg.Content = *p.Content
	}
	if p.Blocks != nil {
		msg.Blocks = append([]models.ContentBlock(nil), p.Blocks...)
	}
	if p.Usage != nil {
		msg.Usage = p.Usage.Clone()
	}
}

// SessionInfo summarizes one stored session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

func checkIndex(index, length int) error {
	if index < 0 || index > length {
		return fmt.Errorf("%w: %d (have %d)", ErrInvalidIndex, index, length)
	}
	return nil
}
