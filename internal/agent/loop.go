package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	agentctx "github.com/haasonsaas/agentrt/internal/agent/context"
	"github.com/haasonsaas/agentrt/internal/observability"
	"github.com/haasonsaas/agentrt/internal/sessions"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// DefaultMaxIterations caps model requests per run.
const DefaultMaxIterations = 25

// SourceNotice tags error notices shown to the user but never sent upstream.
const SourceNotice = "notice"

// LoopConfig wires an AgentLoop to its collaborators. Adapter, Tools and
// Store are required; everything else is optional.
type LoopConfig struct {
	// Agent names this loop inside a team. Default: "lead".
	Agent string

	Adapter  Adapter
	Provider models.ProviderConfig
	Tools    *ToolRegistry
	Store    sessions.Store

	// Sessions enforces one loop per session. A private registry is used
	// when nil.
	Sessions *SessionRegistry

	// Approvals decides which calls run without asking; nil allows every call.
	Approvals *ApprovalChecker
	// Gate asks a human. Calls needing approval are denied when nil.
	Gate        ApprovalGate
	AutoApprove bool

	// MaxIterations limits model requests per run. Default: 25.
	MaxIterations int

	Compression agentctx.CompressionConfig
	// Compressor runs full compression; without it the loop falls back to
	// pre-compression.
	Compressor *agentctx.Compressor
	Estimator  *agentctx.Estimator
	// Pinned is reinserted after the first user message by full compression.
	Pinned *models.Message

	Sink        EventSink
	DeltaWindow time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID      string
	State      models.LoopState
	Iterations int
	Usage      *models.TokenUsage
	// Text is the final assistant text of the last iteration.
	Text string
}

// AgentLoop is the tool-calling state machine:
//
//	Idle → Requesting → {Streaming, Executing} → IterationEnd
//	     → (Requesting) | Completed | Errored | Aborted
//
// Each iteration sends the full history plus the tool catalogue, streams the
// answer, gates and executes the requested tools, and appends their results.
// The loop ends when a response carries no tool calls.
type AgentLoop struct {
	cfg    LoopConfig
	logger *slog.Logger
}

// NewAgentLoop validates cfg and fills defaults.
func NewAgentLoop(cfg LoopConfig) (*AgentLoop, error) {
	if cfg.Adapter == nil {
		return nil, ErrNoAdapter
	}
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = NewToolRegistry(0, cfg.Logger)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionRegistry()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Agent == "" {
		cfg.Agent = "lead"
	}
	if cfg.Estimator == nil {
		cfg.Estimator = agentctx.NewEstimator()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentLoop{
		cfg:    cfg,
		logger: logger.With("component", "agent", "agent", cfg.Agent),
	}, nil
}

// Name returns the agent name.
func (l *AgentLoop) Name() string {
	return l.cfg.Agent
}

// Tools returns the loop's tool registry.
func (l *AgentLoop) Tools() *ToolRegistry {
	return l.cfg.Tools
}

// Sessions returns the registry holding the loop's cancellation handles.
func (l *AgentLoop) Sessions() *SessionRegistry {
	return l.cfg.Sessions
}

// Abort stops the loop running for sessionID, if any.
func (l *AgentLoop) Abort(sessionID string) bool {
	return l.cfg.Sessions.Abort(sessionID)
}

// runState is the mutable state of one run.
type runState struct {
	sessionID string
	runID     string
	emitter   *EventEmitter
	buffer    *DeltaBuffer
	usage     *models.TokenUsage
	iteration int
	state     models.LoopState
	finalText string

	// lastContext is the ContextTokens of the latest call; 0 means estimate.
	lastContext int
	// preCompress stays on for the rest of the run once triggered, so the
	// request does not flip between trimmed and untrimmed history.
	preCompress bool

	// calls of the current iteration, in emission order
	calls []*models.ToolCallState
	// pendingResults is set once the assistant message with tool_use blocks
	// has been persisted and its results have not.
	pendingResults bool
}

func (s *runState) setState(ctx context.Context, st models.LoopState) {
	if s.state == st {
		return
	}
	s.buffer.Flush()
	s.state = st
	s.emitter.StateChanged(ctx, st)
}

// Run executes one run for sessionID. input, when non-nil, is appended to the
// history first; a nil input continues from the stored history.
//
// Any loop already running for the session is aborted and awaited first.
// The returned error is nil on completion, wraps ErrAborted on abort and is
// a *LoopError otherwise. The result is always non-nil once the session was
// claimed.
func (l *AgentLoop) Run(ctx context.Context, sessionID string, input *models.Message) (result *RunResult, err error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	loopCtx, release, err := l.cfg.Sessions.Begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	run := &runState{
		sessionID: sessionID,
		runID:     uuid.NewString(),
		usage:     &models.TokenUsage{},
		state:     models.LoopIdle,
	}
	loopCtx = observability.AddSessionID(loopCtx, sessionID)
	loopCtx = observability.AddRunID(loopCtx, run.runID)
	loopCtx = observability.AddAgent(loopCtx, l.cfg.Agent)

	// Events keep flowing after an abort so the terminal state is reported.
	eventCtx := context.WithoutCancel(loopCtx)
	run.emitter = NewEventEmitter(run.runID, sessionID, l.cfg.Agent, l.cfg.Sink)
	run.buffer = NewDeltaBuffer(l.cfg.DeltaWindow, func(batch []Delta) {
		run.emitter.Deltas(eventCtx, batch)
	})

	loopCtx, span := l.cfg.Tracer.TraceLoopRun(loopCtx, sessionID, l.cfg.Agent)
	l.cfg.Metrics.LoopStarted()
	run.emitter.RunStarted(eventCtx)

	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("loop panicked", "session_id", sessionID, "panic", p)
			l.cfg.Metrics.RecordError("loop", "panic")
			err = &LoopError{Phase: PhaseComplete, Iteration: run.iteration, Message: fmt.Sprintf("panic: %v", p)}
			l.fail(eventCtx, run, err, PhaseComplete)
		}

		run.buffer.Close()
		run.emitter.RunFinished(eventCtx, run.state, run.usage)
		l.cfg.Tracer.SetAttributes(span, "iterations", run.iteration, "state", string(run.state))
		l.cfg.Tracer.RecordError(span, err)
		span.End()
		l.cfg.Metrics.LoopEnded()
		release()

		result = &RunResult{
			RunID:      run.runID,
			State:      run.state,
			Iterations: run.iteration,
			Usage:      run.usage.Clone(),
			Text:       run.finalText,
		}
	}()

	err = l.execute(loopCtx, eventCtx, run, input)
	switch {
	case err == nil:
		run.setState(eventCtx, models.LoopCompleted)
	case l.aborted(loopCtx, err):
		l.abort(eventCtx, run)
		err = fmt.Errorf("session %s: %w", sessionID, ErrAborted)
	default:
		var phase LoopPhase = PhaseComplete
		var loopErr *LoopError
		if errors.As(err, &loopErr) {
			phase = loopErr.Phase
		}
		l.fail(eventCtx, run, err, phase)
	}
	return nil, err
}

func (l *AgentLoop) execute(ctx, eventCtx context.Context, run *runState, input *models.Message) error {
	if input != nil {
		msg := input.Clone()
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		if err := l.cfg.Store.Append(ctx, run.sessionID, msg); err != nil {
			return &LoopError{Phase: PhaseInit, Cause: err}
		}
		run.buffer.Flush()
		run.emitter.MessageAppended(eventCtx, msg)
	}

	for run.iteration < l.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		run.iteration++
		run.calls = nil
		run.emitter.SetIter(run.iteration)
		run.buffer.Flush()
		run.emitter.IterStarted(eventCtx)

		history, err := l.cfg.Store.List(ctx, run.sessionID)
		if err != nil {
			return &LoopError{Phase: PhaseInit, Iteration: run.iteration, Cause: err}
		}
		if run.iteration == 1 {
			run.lastContext = lastContextTokens(history)
		}
		history, err = l.prepareHistory(ctx, eventCtx, run, history)
		if err != nil {
			return err
		}

		run.setState(eventCtx, models.LoopRequesting)
		turn, err := l.stream(ctx, eventCtx, run, history)
		if err != nil {
			return err
		}

		assistant := turn.message()
		if !assistant.IsEmpty() {
			if err := l.cfg.Store.Append(ctx, run.sessionID, assistant); err != nil {
				return &LoopError{Phase: PhaseStream, Iteration: run.iteration, Cause: err}
			}
			run.buffer.Flush()
			run.emitter.MessageAppended(eventCtx, assistant)
		}
		run.finalText = turn.text.String()

		if !turn.hasCompleteCalls() {
			run.setState(eventCtx, models.LoopIterationEnd)
			run.emitter.IterFinished(eventCtx, run.usage)
			return nil
		}

		run.pendingResults = true
		run.setState(eventCtx, models.LoopExecuting)
		results := l.runTools(ctx, eventCtx, run)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.appendResults(ctx, eventCtx, run, results); err != nil {
			return err
		}

		run.setState(eventCtx, models.LoopIterationEnd)
		run.emitter.IterFinished(eventCtx, run.usage)
	}

	return &LoopError{Phase: PhaseContinue, Iteration: run.iteration, Cause: ErrMaxIterations}
}

// prepareHistory applies the compression decision for the next request.
// Full compression rewrites the stored session; pre-compression only trims
// the outgoing copy.
func (l *AgentLoop) prepareHistory(ctx, eventCtx context.Context, run *runState, history []*models.Message) ([]*models.Message, error) {
	cfg := l.cfg.Compression
	if !cfg.Enabled || cfg.ContextLength <= 0 {
		return history, nil
	}

	tokens := run.lastContext
	if tokens <= 0 {
		tokens = l.estimate(history)
	}
	action := cfg.Decide(tokens)
	if action == agentctx.ActionFull && l.cfg.Compressor == nil {
		action = agentctx.ActionPre
	}

	if action == agentctx.ActionFull {
		compressed, ok := l.compressFull(ctx, eventCtx, run, history, cfg.Ratio(tokens))
		if ok {
			return compressed, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// A failed summary leaves the history intact; trimming still helps.
		action = agentctx.ActionPre
	}
	if action == agentctx.ActionPre && !run.preCompress {
		run.preCompress = true
	}
	if !run.preCompress {
		return history, nil
	}

	_, span := l.cfg.Tracer.TraceCompression(ctx, string(agentctx.ActionPre), len(history))
	trimmed, cleared := agentctx.PreCompress(history)
	span.End()
	if cleared > 0 {
		l.cfg.Metrics.RecordCompression(string(agentctx.ActionPre), "compressed")
		run.buffer.Flush()
		run.emitter.Compressed(eventCtx, models.CompressionPayload{
			Kind:          string(agentctx.ActionPre),
			Ratio:         cfg.Ratio(tokens),
			Compressed:    true,
			OriginalCount: len(history),
			NewCount:      len(trimmed),
			Cleared:       cleared,
		})
	}
	return trimmed, nil
}

func (l *AgentLoop) compressFull(ctx, eventCtx context.Context, run *runState, history []*models.Message, ratio float64) ([]*models.Message, bool) {
	kind := string(agentctx.ActionFull)
	spanCtx, span := l.cfg.Tracer.TraceCompression(ctx, kind, len(history))
	defer span.End()

	res, err := l.cfg.Compressor.Compress(spanCtx, history, agentctx.Options{
		Pinned:    l.cfg.Pinned,
		ZoneBSize: l.cfg.Compression.ZoneBSize,
	})
	payload := models.CompressionPayload{Kind: kind, Ratio: ratio, OriginalCount: len(history), NewCount: len(history)}
	run.buffer.Flush()

	if err != nil {
		l.cfg.Tracer.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, false
		}
		l.logger.Warn("full compression failed", "session_id", run.sessionID, "error", err)
		l.cfg.Metrics.RecordCompression(kind, "failed")
		payload.Error = err.Error()
		run.emitter.Compressed(eventCtx, payload)
		return nil, false
	}
	if !res.Compressed {
		l.cfg.Metrics.RecordCompression(kind, "declined")
		return nil, false
	}
	if err := l.cfg.Store.Replace(ctx, run.sessionID, res.Messages); err != nil {
		l.cfg.Tracer.RecordError(span, err)
		l.logger.Warn("persist compressed history failed", "session_id", run.sessionID, "error", err)
		l.cfg.Metrics.RecordCompression(kind, "failed")
		payload.Error = err.Error()
		run.emitter.Compressed(eventCtx, payload)
		return nil, false
	}

	l.cfg.Metrics.RecordCompression(kind, "compressed")
	run.lastContext = 0
	run.preCompress = false
	payload.Compressed = true
	payload.NewCount = res.NewCount
	run.emitter.Compressed(eventCtx, payload)
	return res.Messages, true
}

// lastContextTokens returns the ContextTokens recorded on the newest
// assistant message, unless a compression summary is newer than it.
func lastContextTokens(history []*models.Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m == nil {
			continue
		}
		if m.Source == agentctx.SummarySource {
			return 0
		}
		if m.Role == models.RoleAssistant && m.Usage != nil && m.Usage.ContextTokens > 0 {
			return m.Usage.ContextTokens
		}
	}
	return 0
}

func (l *AgentLoop) estimate(history []*models.Message) int {
	total := l.cfg.Estimator.CountMessages(history) + l.cfg.Estimator.Count(l.cfg.Provider.SystemPrompt)
	for _, spec := range l.cfg.Tools.Specs() {
		total += l.cfg.Estimator.Count(spec.Name) + l.cfg.Estimator.Count(spec.Description) + l.cfg.Estimator.Count(string(spec.Schema))
	}
	return total
}

// turn accumulates one streamed response.
type turn struct {
	text       strings.Builder
	thinking   strings.Builder
	signature  string
	args       map[string]*strings.Builder
	byID       map[string]*models.ToolCallState
	calls      []*models.ToolCallState
	stopReason string
	usage      *models.TokenUsage
	timing     *models.RequestTiming
	streamErr  error
}

func newTurn() *turn {
	return &turn{
		args: make(map[string]*strings.Builder),
		byID: make(map[string]*models.ToolCallState),
	}
}

// message builds the assistant message. Calls whose input never completed
// are left out so no tool_use is persisted without a result.
func (t *turn) message() *models.Message {
	msg := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
		Usage:     t.usage.Clone(),
	}
	if t.thinking.Len() > 0 {
		msg.Blocks = append(msg.Blocks, models.ThinkingBlock(t.thinking.String(), t.signature))
	}
	if t.text.Len() > 0 {
		msg.Blocks = append(msg.Blocks, models.TextBlock(t.text.String()))
	}
	for _, call := range t.calls {
		if call.Status == models.ToolCallStreaming && call.Input != nil {
			msg.Blocks = append(msg.Blocks, models.ToolUseBlock(call.ID, call.Name, call.Input))
		}
	}
	return msg
}

func (t *turn) hasCompleteCalls() bool {
	for _, call := range t.calls {
		if call.Input != nil {
			return true
		}
	}
	return false
}

func (t *turn) call(id, name string) (*models.ToolCallState, bool) {
	if c, ok := t.byID[id]; ok {
		if c.Name == "" {
			c.Name = name
		}
		return c, false
	}
	c := &models.ToolCallState{ID: id, Name: name, Status: models.ToolCallStreaming, StartedAt: time.Now()}
	t.byID[id] = c
	t.calls = append(t.calls, c)
	return c, true
}

// stream sends one request and consumes its events.
func (l *AgentLoop) stream(ctx, eventCtx context.Context, run *runState, history []*models.Message) (*turn, error) {
	providerName := l.cfg.Adapter.Name()
	reqCtx, span := l.cfg.Tracer.TraceLLMRequest(ctx, providerName, l.cfg.Provider.Model)
	defer span.End()

	req := &Request{
		Config:    l.cfg.Provider,
		Messages:  history,
		Tools:     l.cfg.Tools.Specs(),
		RequestID: uuid.NewString(),
	}
	events, err := l.cfg.Adapter.Stream(reqCtx, req)
	if err != nil {
		l.cfg.Tracer.RecordError(span, err)
		l.cfg.Metrics.RecordLLMRequest(providerName, l.cfg.Provider.Model, "error", nil, nil)
		return nil, &LoopError{Phase: PhaseStream, Iteration: run.iteration, Cause: err}
	}

	t := newTurn()
	streaming := false
	for ev := range events {
		if ev == nil {
			continue
		}
		if !streaming && ev.Type != models.EventRequestDebug {
			streaming = true
			run.setState(eventCtx, models.LoopStreaming)
		}
		l.handleEvent(eventCtx, run, t, ev)
	}
	run.buffer.Flush()

	// Calls that never finished streaming cannot run. When the stream
	// itself failed, no call in the turn runs.
	finalize := func(reason string, all bool) {
		now := time.Now()
		for _, call := range t.calls {
			if (all || call.Input == nil) && !call.Status.IsTerminal() {
				call.Fail(reason, now)
				run.emitter.ToolStatus(eventCtx, call)
			}
		}
	}
	run.calls = t.calls

	status := "success"
	switch {
	case ctx.Err() != nil:
		status = "aborted"
	case t.streamErr != nil:
		status = "error"
	}
	l.cfg.Metrics.RecordLLMRequest(providerName, l.cfg.Provider.Model, status, t.usage, t.timing)

	if status == "aborted" {
		finalize("aborted before the tool call finished streaming", false)
		return nil, ctx.Err()
	}
	if t.streamErr != nil {
		l.cfg.Tracer.RecordError(span, t.streamErr)
		finalize("stream failed: "+t.streamErr.Error(), true)
		// Keep whatever text arrived so the user sees it in history.
		if partial := t.message(); t.text.Len() > 0 || t.thinking.Len() > 0 {
			partial.Blocks = dropToolUses(partial.Blocks)
			if appendErr := l.cfg.Store.Append(ctx, run.sessionID, partial); appendErr == nil {
				run.emitter.MessageAppended(eventCtx, partial)
			}
		}
		run.calls = nil
		return nil, &LoopError{Phase: PhaseStream, Iteration: run.iteration, Cause: t.streamErr}
	}
	finalize("tool call arguments were incomplete", false)
	return t, nil
}

func (l *AgentLoop) handleEvent(ctx context.Context, run *runState, t *turn, ev *models.StreamEvent) {
	switch ev.Type {
	case models.EventTextDelta:
		t.text.WriteString(ev.Text)
		run.buffer.Append(DeltaText, "", ev.Text)

	case models.EventThinkingDelta:
		t.thinking.WriteString(ev.Text)
		if ev.Signature != "" {
			t.signature = ev.Signature
		}
		run.buffer.Append(DeltaThinking, "", ev.Text)

	case models.EventToolCallStart:
		call, created := t.call(ev.ToolCallID, ev.ToolName)
		if created {
			run.buffer.Flush()
			run.emitter.ToolInserted(ctx, call)
		}

	case models.EventToolCallDelta:
		call, created := t.call(ev.ToolCallID, ev.ToolName)
		if created {
			run.buffer.Flush()
			run.emitter.ToolInserted(ctx, call)
		}
		sb := t.args[call.ID]
		if sb == nil {
			sb = &strings.Builder{}
			t.args[call.ID] = sb
		}
		sb.WriteString(ev.ArgsFragment)
		run.buffer.Append(DeltaToolArgs, call.ID, ev.ArgsFragment)

	case models.EventToolCallEnd:
		call, created := t.call(ev.ToolCallID, ev.ToolName)
		if created {
			run.buffer.Flush()
			run.emitter.ToolInserted(ctx, call)
		}
		input := ev.Input
		if len(input) == 0 {
			if sb := t.args[call.ID]; sb != nil {
				input = json.RawMessage(sb.String())
			}
		}
		if len(strings.TrimSpace(string(input))) == 0 {
			input = json.RawMessage("{}")
		}
		call.Input = input

	case models.EventMessageEnd:
		t.stopReason = ev.StopReason
		if ev.Usage != nil {
			usage := ev.Usage.Clone()
			if ev.Timing != nil && len(usage.Timings) == 0 {
				usage.Timings = []models.RequestTiming{*ev.Timing}
			}
			t.usage = usage
			run.usage.Add(usage)
			if usage.ContextTokens > 0 {
				run.lastContext = usage.ContextTokens
			}
		}
		t.timing = ev.Timing

	case models.EventError:
		if t.streamErr == nil {
			t.streamErr = ev.Err
			if t.streamErr == nil {
				t.streamErr = errors.New("provider reported an error")
			}
		}

	case models.EventRequestDebug:
		if ev.Debug != nil {
			l.logger.Debug("provider request",
				"request_id", ev.Debug.RequestID,
				"provider", ev.Debug.Provider,
				"url", ev.Debug.URL)
		}
	}
}

func dropToolUses(blocks []models.ContentBlock) []models.ContentBlock {
	out := blocks[:0:0]
	for _, b := range blocks {
		if b.Type != models.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// toolOutcome is the result block content for one call.
type toolOutcome struct {
	content string
	isError bool
}

// runTools gates each call in emission order, then executes the approved
// ones concurrently. Outcomes are returned in emission order.
func (l *AgentLoop) runTools(ctx, eventCtx context.Context, run *runState) []toolOutcome {
	outcomes := make([]toolOutcome, len(run.calls))
	approved := make([]int, 0, len(run.calls))

	for i, call := range run.calls {
		if call.Status.IsTerminal() {
			outcomes[i] = toolOutcome{content: call.Error, isError: true}
			continue
		}
		if ctx.Err() != nil {
			return outcomes
		}
		ok, reason := l.approve(ctx, eventCtx, run, call)
		if !ok {
			call.Fail(reason, time.Now())
			run.buffer.Flush()
			run.emitter.ToolStatus(eventCtx, call)
			l.cfg.Metrics.RecordToolExecution(call.Name, "denied", 0)
			outcomes[i] = toolOutcome{content: reason, isError: true}
			continue
		}
		approved = append(approved, i)
	}
	if ctx.Err() != nil {
		return outcomes
	}

	// completions are reported as they happen; emitMu keeps sequence
	// numbers in delivery order
	var (
		wg     sync.WaitGroup
		emitMu sync.Mutex
	)
	for _, i := range approved {
		call := run.calls[i]
		call.Status = models.ToolCallRunning
		run.buffer.Flush()
		run.emitter.ToolStatus(eventCtx, call)

		wg.Add(1)
		go func(i int, call *models.ToolCallState) {
			defer wg.Done()
			outcomes[i] = l.executeTool(ctx, eventCtx, call)
			emitMu.Lock()
			run.emitter.ToolStatus(eventCtx, call)
			emitMu.Unlock()
		}(i, call)
	}
	wg.Wait()
	return outcomes
}

// approve reports whether call may run, and otherwise the denial text fed
// back to the model.
func (l *AgentLoop) approve(ctx, eventCtx context.Context, run *runState, call *models.ToolCallState) (bool, string) {
	decision, reason := ApprovalAllowed, ""
	if l.cfg.Approvals != nil {
		decision, reason = l.cfg.Approvals.Check(run.sessionID, call.Name, l.cfg.AutoApprove)
	}
	switch decision {
	case ApprovalAllowed, ApprovalAlways:
		l.cfg.Metrics.RecordApproval("auto")
		return true, ""
	case ApprovalDenied:
		l.cfg.Metrics.RecordApproval("denied")
		return false, denialText(call.Name, reason)
	}

	if l.cfg.Gate == nil {
		l.cfg.Metrics.RecordApproval("denied")
		return false, denialText(call.Name, "no approval surface is attached")
	}

	call.Status = models.ToolCallPendingApproval
	run.buffer.Flush()
	run.emitter.ToolStatus(eventCtx, call)
	run.emitter.ApprovalRequested(eventCtx, call)

	decision, err := l.cfg.Gate.Request(ctx, &ApprovalRequest{
		SessionID: run.sessionID,
		Call:      *call,
		Reason:    reason,
	})
	if err != nil {
		if errors.Is(err, ErrApprovalTimeout) {
			l.cfg.Metrics.RecordApproval("timeout")
			return false, denialText(call.Name, "approval timed out")
		}
		l.cfg.Metrics.RecordApproval("cancelled")
		return false, denialText(call.Name, "approval was cancelled")
	}
	switch decision {
	case ApprovalAlways:
		l.cfg.Metrics.RecordApproval("always")
		if l.cfg.Approvals != nil {
			l.cfg.Approvals.ApproveForSession(run.sessionID, call.Name)
		}
		return true, ""
	case ApprovalAllowed:
		l.cfg.Metrics.RecordApproval("allowed")
		return true, ""
	default:
		l.cfg.Metrics.RecordApproval("denied")
		return false, denialText(call.Name, "denied by user")
	}
}

func denialText(tool, reason string) string {
	if reason == "" {
		return fmt.Sprintf("Tool call %q was denied.", tool)
	}
	return fmt.Sprintf("Tool call %q was denied: %s.", tool, strings.TrimSuffix(reason, "."))
}

func (l *AgentLoop) executeTool(ctx, eventCtx context.Context, call *models.ToolCallState) toolOutcome {
	spanCtx, span := l.cfg.Tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	start := time.Now()
	res, err := l.cfg.Tools.Execute(spanCtx, call.ID, call.Name, call.Input)
	elapsed := time.Since(start).Seconds()

	var out toolOutcome
	switch {
	case err != nil:
		l.cfg.Tracer.RecordError(span, err)
		status := "error"
		if ctx.Err() != nil {
			status = "aborted"
		}
		l.cfg.Metrics.RecordToolExecution(call.Name, status, elapsed)
		if toolErr, ok := GetToolError(err); ok && toolErr.Type != ToolErrorAborted {
			l.cfg.Metrics.RecordError("tool", string(toolErr.Type))
		}
		call.Fail(err.Error(), time.Now())
		out = toolOutcome{content: err.Error(), isError: true}
	case res.IsError:
		l.cfg.Metrics.RecordToolExecution(call.Name, "error", elapsed)
		call.Fail(res.Content, time.Now())
		out = toolOutcome{content: res.Content, isError: true}
	default:
		l.cfg.Metrics.RecordToolExecution(call.Name, "success", elapsed)
		call.Complete(res.Content, time.Now())
		out = toolOutcome{content: res.Content}
	}
	if ctx.Err() == nil {
		l.logger.Debug("tool executed", "tool", call.Name, "tool_call_id", call.ID, "status", call.Status, "duration_s", elapsed)
	}
	return out
}

// appendResults persists one tool-role message carrying a tool_result per
// tool_use of the assistant message, in emission order.
func (l *AgentLoop) appendResults(ctx, eventCtx context.Context, run *runState, outcomes []toolOutcome) error {
	msg := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleTool,
		CreatedAt: time.Now(),
	}
	for i, call := range run.calls {
		if call.Input == nil {
			continue
		}
		content := outcomes[i].content
		if content == "" && outcomes[i].isError {
			content = call.Error
		}
		msg.Blocks = append(msg.Blocks, models.ToolResultBlock(call.ID, content, outcomes[i].isError))
	}
	run.pendingResults = false
	if len(msg.Blocks) == 0 {
		return nil
	}
	if err := l.cfg.Store.Append(ctx, run.sessionID, msg); err != nil {
		return &LoopError{Phase: PhaseExecuteTools, Iteration: run.iteration, Cause: err}
	}
	run.buffer.Flush()
	run.emitter.MessageAppended(eventCtx, msg)
	return nil
}

func (l *AgentLoop) aborted(ctx context.Context, err error) bool {
	if errors.Is(err, ErrAborted) || errors.Is(context.Cause(ctx), ErrAborted) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// abort clears approval waits, forces every unfinished call to error and
// pairs any persisted tool_use blocks with error results.
func (l *AgentLoop) abort(ctx context.Context, run *runState) {
	if l.cfg.Gate != nil {
		l.cfg.Gate.CancelSession(run.sessionID)
	}
	run.buffer.Flush()

	now := time.Now()
	outcomes := make([]toolOutcome, len(run.calls))
	for i, call := range run.calls {
		if !call.Status.IsTerminal() {
			call.Fail("aborted by user", now)
			run.emitter.ToolStatus(ctx, call)
		}
		if call.Status == models.ToolCallCompleted {
			outcomes[i] = toolOutcome{content: call.Output}
		} else {
			outcomes[i] = toolOutcome{content: call.Error, isError: true}
		}
	}
	if run.pendingResults {
		if err := l.appendResults(ctx, ctx, run, outcomes); err != nil {
			l.logger.Warn("persist aborted tool results failed", "session_id", run.sessionID, "error", err)
		}
	}
	l.logger.Info("loop aborted", "session_id", run.sessionID, "iteration", run.iteration)
	run.setState(ctx, models.LoopAborted)
}

// fail finalizes calls, reports the error as an event plus a visible notice
// message, and moves to Errored. The notice is not persisted.
func (l *AgentLoop) fail(ctx context.Context, run *runState, err error, phase LoopPhase) {
	run.buffer.Flush()
	now := time.Now()
	outcomes := make([]toolOutcome, len(run.calls))
	for i, call := range run.calls {
		if !call.Status.IsTerminal() {
			call.Fail("run failed: "+err.Error(), now)
			run.emitter.ToolStatus(ctx, call)
		}
		if call.Status == models.ToolCallCompleted {
			outcomes[i] = toolOutcome{content: call.Output}
		} else {
			outcomes[i] = toolOutcome{content: call.Error, isError: true}
		}
	}
	if run.pendingResults {
		if appendErr := l.appendResults(ctx, ctx, run, outcomes); appendErr != nil {
			l.logger.Warn("persist tool results failed", "session_id", run.sessionID, "error", appendErr)
		}
	}

	l.logger.Error("loop failed", "session_id", run.sessionID, "phase", phase, "iteration", run.iteration, "error", err)
	l.cfg.Metrics.RecordError("loop", string(phase))
	run.emitter.Error(ctx, err, phase, false)
	run.emitter.MessageAppended(ctx, &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   "Error: " + err.Error(),
		Source:    SourceNotice,
		CreatedAt: now,
	})
	run.setState(ctx, models.LoopErrored)
}
