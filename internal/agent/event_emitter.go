package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// EventEmitter generates and dispatches AgentEvents with proper sequencing.
// One emitter belongs to one loop run.
type EventEmitter struct {
	runID     string
	sessionID string
	agent     string
	sequence  uint64 // atomic counter for monotonic sequencing
	iterIndex atomic.Int64

	sink EventSink
}

// NewEventEmitter creates a new event emitter for a loop run.
func NewEventEmitter(runID, sessionID, agent string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{runID: runID, sessionID: sessionID, agent: agent, sink: sink}
}

// SetIter updates the current iteration index.
func (e *EventEmitter) SetIter(iterIndex int) {
	e.iterIndex.Store(int64(iterIndex))
}

func (e *EventEmitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

// base creates the base event with common fields populated.
func (e *EventEmitter) base(eventType models.AgentEventType) models.AgentEvent {
	return models.AgentEvent{
		Type:      eventType,
		Time:      time.Now(),
		Sequence:  e.nextSeq(),
		RunID:     e.runID,
		SessionID: e.sessionID,
		Agent:     e.agent,
		IterIndex: int(e.iterIndex.Load()),
	}
}

func (e *EventEmitter) emit(ctx context.Context, event models.AgentEvent) models.AgentEvent {
	e.sink.Emit(ctx, event)
	return event
}

// RunStarted emits a run.started event.
func (e *EventEmitter) RunStarted(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, e.base(models.AgentEventRunStarted))
}

// RunFinished emits a run.finished event with the terminal state and the
// accumulated usage.
func (e *EventEmitter) RunFinished(ctx context.Context, state models.LoopState, usage *models.TokenUsage) models.AgentEvent {
	event := e.base(models.AgentEventRunFinished)
	event.State = state
	event.Usage = usage.Clone()
	return e.emit(ctx, event)
}

// StateChanged emits a run.state event.
func (e *EventEmitter) StateChanged(ctx context.Context, state models.LoopState) models.AgentEvent {
	event := e.base(models.AgentEventStateChange)
	event.State = state
	return e.emit(ctx, event)
}

// IterStarted emits an iter.started event.
func (e *EventEmitter) IterStarted(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, e.base(models.AgentEventIterStarted))
}

// IterFinished emits an iter.finished event.
func (e *EventEmitter) IterFinished(ctx context.Context, usage *models.TokenUsage) models.AgentEvent {
	event := e.base(models.AgentEventIterFinished)
	event.Usage = usage.Clone()
	return e.emit(ctx, event)
}

// Deltas emits one event per coalesced delta, in order. It is the sink of
// the loop's DeltaBuffer.
func (e *EventEmitter) Deltas(ctx context.Context, batch []Delta) {
	for _, d := range batch {
		var t models.AgentEventType
		switch d.Kind {
		case DeltaText:
			t = models.AgentEventTextDelta
		case DeltaThinking:
			t = models.AgentEventThinkingDelta
		case DeltaToolArgs:
			t = models.AgentEventToolArgsDelta
		default:
			continue
		}
		event := e.base(t)
		event.Delta = &models.DeltaPayload{Text: d.Text, ToolCallID: d.Key}
		e.emit(ctx, event)
	}
}

// ToolInserted emits a tool.inserted event when the model starts a call.
func (e *EventEmitter) ToolInserted(ctx context.Context, call *models.ToolCallState) models.AgentEvent {
	event := e.base(models.AgentEventToolInserted)
	snapshot := *call
	event.Tool = &snapshot
	return e.emit(ctx, event)
}

// ToolStatus emits a tool.status event with a snapshot of the call.
func (e *EventEmitter) ToolStatus(ctx context.Context, call *models.ToolCallState) models.AgentEvent {
	event := e.base(models.AgentEventToolStatus)
	snapshot := *call
	event.Tool = &snapshot
	return e.emit(ctx, event)
}

// ApprovalRequested emits an approval.requested event.
func (e *EventEmitter) ApprovalRequested(ctx context.Context, call *models.ToolCallState) models.AgentEvent {
	event := e.base(models.AgentEventApprovalRequested)
	snapshot := *call
	event.Tool = &snapshot
	return e.emit(ctx, event)
}

// MessageAppended emits a message.appended event.
func (e *EventEmitter) MessageAppended(ctx context.Context, msg *models.Message) models.AgentEvent {
	event := e.base(models.AgentEventMessageAppended)
	event.Message = msg
	return e.emit(ctx, event)
}

// Compressed emits a context.compressed event.
func (e *EventEmitter) Compressed(ctx context.Context, payload models.CompressionPayload) models.AgentEvent {
	event := e.base(models.AgentEventCompressed)
	event.Compression = &payload
	return e.emit(ctx, event)
}

// Error emits a visible error notice.
func (e *EventEmitter) Error(ctx context.Context, err error, phase LoopPhase, retriable bool) models.AgentEvent {
	event := e.base(models.AgentEventError)
	event.Error = &models.ErrorPayload{
		Message:   err.Error(),
		Phase:     string(phase),
		Retriable: retriable,
	}
	return e.emit(ctx, event)
}
