package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// maxMessagesPerSession limits messages stored per session to prevent unbounded memory growth.
// When exceeded, old messages are trimmed to maintain the limit.
const maxMessagesPerSession = 5000

type memorySession struct {
	messages  []*models.Message
	updatedAt time.Time
}

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*memorySession{},
		now:      time.Now,
	}
}

func (m *MemoryStore) session(id string) *memorySession {
	s := m.sessions[id]
	if s == nil {
		s = &memorySession{}
		m.sessions[id] = s
	}
	return s
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, msgs ...*models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	for _, msg := range msgs {
		if msg == nil {
			return errors.New("message is required")
		}
		clone := prepare(msg, m.now)
		for _, existing := range s.messages {
			if existing.ID == clone.ID {
				return fmt.Errorf("%w: %s", ErrDuplicateMessage, clone.ID)
			}
		}
		s.messages = append(s.messages, clone)
	}

	// Trim old messages if limit is exceeded to prevent unbounded memory growth
	if len(s.messages) > maxMessagesPerSession {
		excess := len(s.messages) - maxMessagesPerSession
		s.messages = s.messages[excess:]
	}
	s.updatedAt = m.now()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, sessionID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.sessions[sessionID]
	if s == nil {
		return []*models.Message{}, nil
	}
	return models.CloneMessages(s.messages), nil
}

func (m *MemoryStore) Patch(ctx context.Context, sessionID, msgID string, patch MessagePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[sessionID]
	if s != nil {
		for _, msg := range s.messages {
			if msg.ID == msgID {
				patch.Apply(msg)
				s.updatedAt = m.now()
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrMessageNotFound, msgID)
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[sessionID]
	if s != nil {
		for i, msg := range s.messages {
			if msg.ID == msgID {
				s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
				s.updatedAt = m.now()
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrMessageNotFound, msgID)
}

func (m *MemoryStore) TruncateFrom(ctx context.Context, sessionID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(sessionID)
	if err := checkIndex(index, len(s.messages)); err != nil {
		return err
	}
	s.messages = s.messages[:index:index]
	s.updatedAt = m.now()
	return nil
}

func (m *MemoryStore) Replace(ctx context.Context, sessionID string, msgs []*models.Message) error {
	replacement := make([]*models.Message, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			return errors.New("message is required")
		}
		clone := prepare(msg, m.now)
		if seen[clone.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateMessage, clone.ID)
		}
		seen[clone.ID] = true
		replacement = append(replacement, clone)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(sessionID)
	s.messages = replacement
	s.updatedAt = m.now()
	return nil
}

func (m *MemoryStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, SessionInfo{ID: id, Messages: len(s.messages), UpdatedAt: s.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// prepare clones msg and fills generated fields.
func prepare(msg *models.Message, now func() time.Time) *models.Message {
	clone := msg.Clone()
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now()
	}
	return clone
}
