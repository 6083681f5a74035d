// Package providers contains the wire adapters that translate each upstream
// streaming dialect into the unified models.StreamEvent sequence.
package providers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/internal/transport"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// eventBuffer is the adapter output channel capacity.
const eventBuffer = 64

// BaseAdapter holds what every dialect shares: the transport, logging, and
// the request/timing bookkeeping.
type BaseAdapter struct {
	name      string
	transport *transport.Transport
	logger    *slog.Logger
}

// NewBaseAdapter creates the shared adapter core.
func NewBaseAdapter(name string, t *transport.Transport, logger *slog.Logger) BaseAdapter {
	if t == nil {
		t = transport.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return BaseAdapter{name: name, transport: t, logger: logger.With("provider", name)}
}

// Name returns the registry tag.
func (b *BaseAdapter) Name() string {
	return b.name
}

// call is one prepared outbound request.
type call struct {
	req     transport.Request
	model   string
	started time.Time
}

func (b *BaseAdapter) newCall(requestID, url string, headers map[string]string, body []byte, model string) *call {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"
	headers["Accept"] = "text/event-stream"
	return &call{
		req: transport.Request{
			ID:      requestID,
			URL:     url,
			Method:  http.MethodPost,
			Headers: headers,
			Body:    body,
		},
		model: model,
	}
}

func (b *BaseAdapter) debugEvent(c *call) *models.StreamEvent {
	return &models.StreamEvent{
		Type: models.EventRequestDebug,
		Debug: &models.RequestDebug{
			RequestID: c.req.ID,
			Provider:  b.name,
			URL:       transport.MaskURL(c.req.URL),
			Method:    c.req.Method,
			Headers:   transport.MaskHeaders(c.req.Headers),
			Body:      maskBody(c.req.Body),
		},
	}
}

// frameHandler consumes one parsed SSE event. It returns done=true when the
// dialect's terminal frame has been handled, and produced=true when the
// frame yielded at least one unified event.
type frameHandler func(ev transport.Event) (produced, done bool)

// run opens the call and drives handle over its frames on a new goroutine.
// finish runs exactly once after the frame loop, whether it ended normally,
// by an explicit terminal frame, or by a transport error (err != nil); it
// is where dialects flush open tool blocks and emit message_end.
func (b *BaseAdapter) run(ctx context.Context, c *call, st *streamState, handle frameHandler, finish func(err error)) (<-chan *models.StreamEvent, error) {
	sigs, release := b.transport.Subscribe(c.req.ID, eventBuffer)
	c.started = time.Now()
	if err := b.transport.Open(ctx, c.req); err != nil {
		release()
		b.logger.Warn("stream open failed", "request_id", c.req.ID, "error", err)
		return nil, err
	}

	out := make(chan *models.StreamEvent, eventBuffer)
	st.bind(ctx, out, c.started)

	go func() {
		defer close(out)
		defer release()

		st.emit(b.debugEvent(c))

		for {
			var sig transport.Signal
			select {
			case sig = <-sigs:
			case <-ctx.Done():
				b.transport.Abort(c.req.ID)
				// the terminal signal still arrives and is drained below
				sig = <-sigs
				for !sig.Terminal() {
					sig = <-sigs
				}
			}

			switch sig.Kind {
			case transport.SignalChunk:
				ev, ok := transport.ParseFrame(sig.Frame)
				if !ok || ev.Data == "" {
					continue
				}
				if strings.TrimSpace(ev.Data) == "[DONE]" {
					// drain until the transport terminal signal
					continue
				}
				if pe, isErr := errorPayload(b.name, c.model, ev.Data); isErr {
					st.emit(&models.StreamEvent{Type: models.EventError, Err: pe})
					st.failed = true
					b.transport.Abort(c.req.ID)
					drain(sigs)
					finish(pe)
					return
				}
				produced, done := handle(ev)
				if !produced && !done {
					// keep-alive and bookkeeping frames are skipped however many arrive
					b.logger.Debug("skipped frame", "provider", b.name, "event", ev.Name)
				}
				if done {
					b.transport.Abort(c.req.ID)
					drain(sigs)
					finish(nil)
					return
				}
			case transport.SignalEnd:
				finish(nil)
				return
			case transport.SignalError:
				st.emit(&models.StreamEvent{Type: models.EventError, Err: sig.Err})
				st.failed = true
				finish(sig.Err)
				return
			}
		}
	}()
	return out, nil
}

// drain discards signals until the terminal one so the transport can release
// the request.
func drain(sigs <-chan transport.Signal) {
	for sig := range sigs {
		if sig.Terminal() {
			return
		}
	}
}

// streamState tracks emission and timing for one streamed response.
type streamState struct {
	ctx        context.Context
	out        chan<- *models.StreamEvent
	started    time.Time
	firstToken time.Time
	failed     bool
	ended      bool
}

func (s *streamState) bind(ctx context.Context, out chan<- *models.StreamEvent, started time.Time) {
	s.ctx = ctx
	s.out = out
	s.started = started
}

// emit sends ev unless the consumer has gone away.
func (s *streamState) emit(ev *models.StreamEvent) bool {
	switch ev.Type {
	case models.EventTextDelta, models.EventThinkingDelta, models.EventToolCallStart, models.EventToolCallDelta:
		if s.firstToken.IsZero() {
			s.firstToken = time.Now()
		}
	}
	select {
	case s.out <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// timing computes duration, time-to-first-token, and throughput measured
// from the first token to completion.
func (s *streamState) timing(outputTokens int) *models.RequestTiming {
	end := time.Now()
	t := &models.RequestTiming{
		StartedAt: s.started,
		Duration:  end.Sub(s.started),
	}
	if !s.firstToken.IsZero() {
		t.TimeToFirst = s.firstToken.Sub(s.started)
		if gen := end.Sub(s.firstToken).Seconds(); gen > 0 && outputTokens > 0 {
			t.TokensPerSecond = float64(outputTokens) / gen
		}
	}
	return t
}

// end emits message_end once. Nothing is emitted after a transport error.
func (s *streamState) end(stopReason string, usage *models.TokenUsage) {
	if s.ended || s.failed {
		return
	}
	s.ended = true
	if usage == nil {
		usage = &models.TokenUsage{}
	}
	timing := s.timing(usage.OutputTokens)
	usage.Timings = []models.RequestTiming{*timing}
	s.emit(&models.StreamEvent{
		Type:       models.EventMessageEnd,
		StopReason: stopReason,
		Usage:      usage,
		Timing:     timing,
	})
}
