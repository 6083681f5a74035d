package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// scriptedTurn is one canned provider response.
type scriptedTurn struct {
	events []*models.StreamEvent
	// block waits for cancellation after sending events, then reports it.
	block bool
	// err is returned by Stream itself.
	err error
}

// fakeAdapter replays scripted turns and records every request.
type fakeAdapter struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	requests []*Request
	// fallback is replayed when the script is exhausted.
	fallback *scriptedTurn
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Stream(ctx context.Context, req *Request) (<-chan *models.StreamEvent, error) {
	f.mu.Lock()
	recorded := *req
	recorded.Messages = models.CloneMessages(req.Messages)
	f.requests = append(f.requests, &recorded)
	var turn scriptedTurn
	switch {
	case len(f.turns) > 0:
		turn = f.turns[0]
		f.turns = f.turns[1:]
	case f.fallback != nil:
		turn = *f.fallback
	default:
		turn = textTurn("done", 10)
	}
	f.mu.Unlock()

	if turn.err != nil {
		return nil, turn.err
	}
	out := make(chan *models.StreamEvent, len(turn.events)+1)
	go func() {
		defer close(out)
		for _, ev := range turn.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				out <- &models.StreamEvent{Type: models.EventError, Err: ctx.Err()}
				return
			}
		}
		if turn.block {
			<-ctx.Done()
			out <- &models.StreamEvent{Type: models.EventError, Err: ctx.Err()}
		}
	}()
	return out, nil
}

func (f *fakeAdapter) Requests() []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Request(nil), f.requests...)
}

func textTurn(text string, contextTokens int) scriptedTurn {
	half := len(text) / 2
	return scriptedTurn{events: []*models.StreamEvent{
		{Type: models.EventMessageStart},
		{Type: models.EventTextDelta, Text: text[:half]},
		{Type: models.EventTextDelta, Text: text[half:]},
		{Type: models.EventMessageEnd, StopReason: models.StopEndTurn, Usage: &models.TokenUsage{
			InputTokens: contextTokens, OutputTokens: 5, ContextTokens: contextTokens,
		}},
	}}
}

type fakeCall struct {
	id, name, input string
}

func toolTurn(calls ...fakeCall) scriptedTurn {
	events := []*models.StreamEvent{{Type: models.EventMessageStart}}
	for _, c := range calls {
		half := len(c.input) / 2
		events = append(events,
			&models.StreamEvent{Type: models.EventToolCallStart, ToolCallID: c.id, ToolName: c.name},
			&models.StreamEvent{Type: models.EventToolCallDelta, ToolCallID: c.id, ArgsFragment: c.input[:half]},
			&models.StreamEvent{Type: models.EventToolCallDelta, ToolCallID: c.id, ArgsFragment: c.input[half:]},
			&models.StreamEvent{Type: models.EventToolCallEnd, ToolCallID: c.id, ToolName: c.name},
		)
	}
	events = append(events, &models.StreamEvent{
		Type:       models.EventMessageEnd,
		StopReason: models.StopToolUse,
		Usage:      &models.TokenUsage{InputTokens: 20, OutputTokens: 8, ContextTokens: 20},
	})
	return scriptedTurn{events: events}
}

// fakeTool echoes its "text" input, optionally after a delay or a block.
type fakeTool struct {
	name    string
	delay   time.Duration
	block   bool
	started chan string
	fail    bool

	mu    sync.Mutex
	calls int
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "echoes text" }
func (f *fakeTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- f.name
	}
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, err
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail {
		return nil, errors.New("echo failed")
	}
	return &ToolResult{Content: "echo: " + in.Text}, nil
}

func (f *fakeTool) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
