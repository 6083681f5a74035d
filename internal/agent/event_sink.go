package agent

import (
	"context"
	"sync"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// EventSink receives agent events during processing.
// Implementations must be safe to call from multiple goroutines.
type EventSink interface {
	Emit(ctx context.Context, e models.AgentEvent)
}

// ChanSink forwards events into a channel owned by the caller. Fragment
// events are best effort and dropped while the channel is full; every other
// event waits for room or for ctx to end. The owner must not close the
// channel while a loop can still emit.
type ChanSink struct {
	ch chan<- models.AgentEvent
}

// NewChanSink returns a sink writing to ch. Give ch a buffer.
func NewChanSink(ch chan<- models.AgentEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Emit(ctx context.Context, e models.AgentEvent) {
	if isFragment(e.Type) {
		select {
		case s.ch <- e:
		default:
		}
		return
	}
	select {
	case s.ch <- e:
	case <-ctx.Done():
	}
}

// MultiSink delivers each event to several sinks in order.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink combines sinks, skipping nil ones.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Emit(ctx context.Context, e models.AgentEvent) {
	for _, s := range m.sinks {
		s.Emit(ctx, e)
	}
}

// NopSink discards all events silently.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(ctx context.Context, e models.AgentEvent) {}

// RecordingSink keeps every event in memory for later inspection.
type RecordingSink struct {
	mu     sync.Mutex
	events []models.AgentEvent
}

// Emit records the event.
func (s *RecordingSink) Emit(ctx context.Context, e models.AgentEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []models.AgentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AgentEvent(nil), s.events...)
}

// OfType returns the recorded events of one type.
func (s *RecordingSink) OfType(t models.AgentEventType) []models.AgentEvent {
	var out []models.AgentEvent
	for _, e := range s.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// isFragment reports whether t is a coalesced stream fragment. Losing one
// affects presentation only; the message it belongs to is still appended.
func isFragment(t models.AgentEventType) bool {
	switch t {
	case models.AgentEventTextDelta, models.AgentEventThinkingDelta, models.AgentEventToolArgsDelta:
		return true
	}
	return false
}
