package agent

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentrt/pkg/models"
)

func TestChanSink_DropsDeltasWhenFull(t *testing.T) {
	ch := make(chan models.AgentEvent, 1)
	sink := NewChanSink(ch)

	sink.Emit(context.Background(), models.AgentEvent{Type: models.AgentEventTextDelta})
	// Channel is full: a second delta must not block.
	done := make(chan struct{})
	go func() {
		sink.Emit(context.Background(), models.AgentEvent{Type: models.AgentEventTextDelta})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delta emit blocked on a full channel")
	}
	if len(ch) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(ch))
	}
}

func TestChanSink_StructuralEventsWait(t *testing.T) {
	ch := make(chan models.AgentEvent, 1)
	sink := NewChanSink(ch)
	sink.Emit(context.Background(), models.AgentEvent{Type: models.AgentEventRunStarted})

	done := make(chan struct{})
	go func() {
		sink.Emit(context.Background(), models.AgentEvent{Type: models.AgentEventRunFinished})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("structural event should wait for room")
	case <-time.After(20 * time.Millisecond):
	}

	<-ch
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("structural event never delivered")
	}
	if e := <-ch; e.Type != models.AgentEventRunFinished {
		t.Errorf("expected run.finished, got %s", e.Type)
	}
}

func TestChanSink_StructuralEventsRespectContext(t *testing.T) {
	ch := make(chan models.AgentEvent)
	sink := NewChanSink(ch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sink.Emit(ctx, models.AgentEvent{Type: models.AgentEventRunFinished})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit ignored a cancelled context")
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &RecordingSink{}, &RecordingSink{}
	sink := NewMultiSink(a, nil, b)

	sink.Emit(context.Background(), models.AgentEvent{Type: models.AgentEventRunStarted})

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("expected both sinks to receive the event")
	}
}

func TestRecordingSink_OfType(t *testing.T) {
	sink := &RecordingSink{}
	for _, typ := range []models.AgentEventType{
		models.AgentEventRunStarted,
		models.AgentEventTextDelta,
		models.AgentEventTextDelta,
		models.AgentEventRunFinished,
	} {
		sink.Emit(context.Background(), models.AgentEvent{Type: typ})
	}

	if n := len(sink.OfType(models.AgentEventTextDelta)); n != 2 {
		t.Errorf("expected 2 text deltas, got %d", n)
	}
	if n := len(sink.Events()); n != 4 {
		t.Errorf("expected 4 events, got %d", n)
	}
}
