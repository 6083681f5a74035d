package team

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/sessions"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// scriptAdapter answers each request with the events its respond func
// returns. respond runs on the stream goroutine and may block.
type scriptAdapter struct {
	mu       sync.Mutex
	requests []*agent.Request
	respond  func(ctx context.Context, req *agent.Request) []*models.StreamEvent
}

func (a *scriptAdapter) Name() string { return "script" }

func (a *scriptAdapter) Stream(ctx context.Context, req *agent.Request) (<-chan *models.StreamEvent, error) {
	a.mu.Lock()
	recorded := *req
	recorded.Messages = models.CloneMessages(req.Messages)
	a.requests = append(a.requests, &recorded)
	a.mu.Unlock()

	out := make(chan *models.StreamEvent, 16)
	go func() {
		defer close(out)
		for _, ev := range a.respond(ctx, req) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// requestsFor returns the requests whose system prompt names agent; the
// lead has none.
func (a *scriptAdapter) requestsFor(name string) []*agent.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*agent.Request
	for _, r := range a.requests {
		if agentOf(r) == name {
			out = append(out, r)
		}
	}
	return out
}

func agentOf(req *agent.Request) string {
	prompt := req.SystemPrompt()
	if start := strings.Index(prompt, `You are "`); start >= 0 {
		rest := prompt[start+len(`You are "`):]
		return rest[:strings.Index(rest, `"`)]
	}
	return AddressLead
}

func reply(text string) []*models.StreamEvent {
	return []*models.StreamEvent{
		{Type: models.EventMessageStart},
		{Type: models.EventTextDelta, Text: text},
		{Type: models.EventMessageEnd, StopReason: models.StopEndTurn, Usage: &models.TokenUsage{InputTokens: 10, OutputTokens: 2, ContextTokens: 10}},
	}
}

func callTool(id, name string, input any) []*models.StreamEvent {
	args, _ := json.Marshal(input)
	return []*models.StreamEvent{
		{Type: models.EventMessageStart},
		{Type: models.EventToolCallStart, ToolCallID: id, ToolName: name},
		{Type: models.EventToolCallDelta, ToolCallID: id, ArgsFragment: string(args)},
		{Type: models.EventToolCallEnd, ToolCallID: id, ToolName: name},
		{Type: models.EventMessageEnd, StopReason: models.StopToolUse, Usage: &models.TokenUsage{InputTokens: 10, OutputTokens: 4, ContextTokens: 10}},
	}
}

// lastUser returns the newest user message of a request.
func lastUser(req *agent.Request) *models.Message {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser && len(req.Messages[i].ToolResults()) == 0 {
			return req.Messages[i]
		}
	}
	return nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestCoordinator(t *testing.T, adapter *scriptAdapter, mutate func(*Config)) (*Coordinator, *sessions.MemoryStore) {
	t.Helper()
	store := sessions.NewMemoryStore()
	cfg := Config{
		SessionID: "team-1",
		Loop: agent.LoopConfig{
			Adapter:     adapter,
			Provider:    models.ProviderConfig{Type: "script", Model: "script-1"},
			Store:       store,
			AutoApprove: true,
			DeltaWindow: time.Millisecond,
		},
		ToolTimeout: 5 * time.Second,
		Debounce:    20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	coord, err := NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	t.Cleanup(func() { _ = coord.Close() })
	return coord, store
}

func TestCoordinator_BatchesMessagesWhileLeadBusy(t *testing.T) {
	release := make(chan struct{})
	adapter := &scriptAdapter{}
	var leadCalls int
	var mu sync.Mutex
	adapter.respond = func(ctx context.Context, req *agent.Request) []*models.StreamEvent {
		mu.Lock()
		leadCalls++
		first := leadCalls == 1
		mu.Unlock()
		if first {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return reply("ack")
	}
	coord, _ := newTestCoordinator(t, adapter, nil)

	done := make(chan error, 1)
	go func() {
		_, err := coord.SendUser(context.Background(), "start")
		done <- err
	}()
	eventually(t, "lead request", func() bool { return len(adapter.requestsFor(AddressLead)) == 1 })

	for i := 0; i < 5; i++ {
		if _, err := coord.Bus().Publish("worker", AddressLead, "update "+string(rune('a'+i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	eventually(t, "messages queued", func() bool { return coord.Pending() == 5 })
	time.Sleep(60 * time.Millisecond)
	if n := len(adapter.requestsFor(AddressLead)); n != 1 {
		t.Fatalf("lead must not be triggered while busy, got %d requests", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("SendUser: %v", err)
	}
	eventually(t, "batched lead run", func() bool { return len(adapter.requestsFor(AddressLead)) == 2 })
	time.Sleep(60 * time.Millisecond)

	reqs := adapter.requestsFor(AddressLead)
	if len(reqs) != 2 {
		t.Fatalf("expected exactly one batched run, got %d requests", len(reqs))
	}
	msg := lastUser(reqs[1])
	if msg == nil || msg.Source != models.SourceTeam {
		t.Fatalf("expected a team message, got %+v", msg)
	}
	if got := strings.Count(msg.Content, "[Message from worker]"); got != 5 {
		t.Errorf("expected 5 entries in one message, got %d:\n%s", got, msg.Content)
	}
	if coord.AutoTriggers() != 1 {
		t.Errorf("expected 1 auto-trigger, got %d", coord.AutoTriggers())
	}
}

func TestCoordinator_AutoTriggerCap(t *testing.T) {
	adapter := &scriptAdapter{respond: func(ctx context.Context, req *agent.Request) []*models.StreamEvent {
		return reply("noted")
	}}
	coord, store := newTestCoordinator(t, adapter, func(cfg *Config) {
		cfg.MaxAutoTriggers = 2
		cfg.Debounce = 5 * time.Millisecond
	})

	for i := 1; i <= 2; i++ {
		if _, err := coord.Bus().Publish("worker", AddressLead, "progress"); err != nil {
			t.Fatal(err)
		}
		want := i
		eventually(t, "auto-triggered run", func() bool {
			return len(adapter.requestsFor(AddressLead)) == want && !coord.queue.Busy()
		})
	}

	if _, err := coord.Bus().Publish("worker", AddressLead, "over the cap"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "pause", coord.Paused)
	if coord.Pending() != 1 {
		t.Fatalf("message must stay queued while paused, got %d", coord.Pending())
	}
	if n := len(adapter.requestsFor(AddressLead)); n != 2 {
		t.Fatalf("expected no run past the cap, got %d requests", n)
	}

	if _, err := coord.SendUser(context.Background(), "carry on"); err != nil {
		t.Fatalf("SendUser: %v", err)
	}
	if coord.Paused() || coord.AutoTriggers() != 0 || coord.Pending() != 0 {
		t.Errorf("SendUser must reset: paused=%v triggers=%d pending=%d",
			coord.Paused(), coord.AutoTriggers(), coord.Pending())
	}

	history, _ := store.List(context.Background(), "team-1")
	teamIdx, userIdx := -1, -1
	for i, m := range history {
		if m.Role != models.RoleUser {
			continue
		}
		if m.Source == models.SourceTeam && strings.Contains(m.Content, "over the cap") {
			teamIdx = i
		}
		if m.Content == "carry on" {
			userIdx = i
		}
	}
	if teamIdx < 0 || userIdx < 0 {
		t.Fatalf("expected queued team message and user message in history")
	}
	if teamIdx > userIdx {
		t.Error("queued team message must precede the user message")
	}
}

func TestCoordinator_SpawnedPeerReportsToLead(t *testing.T) {
	adapter := &scriptAdapter{}
	adapter.respond = func(ctx context.Context, req *agent.Request) []*models.StreamEvent {
		switch agentOf(req) {
		case "worker":
			if len(adapter.requestsFor("worker")) == 1 {
				return callTool("p1", "send_message", map[string]string{"to": AddressLead, "content": "answer is 42"})
			}
			return reply("sent")
		default:
			if len(adapter.requestsFor(AddressLead)) == 1 {
				return callTool("l1", "spawn_peer", map[string]string{"name": "worker", "task": "compute the answer"})
			}
			return reply("ok")
		}
	}
	coord, store := newTestCoordinator(t, adapter, nil)

	if _, err := coord.SendUser(context.Background(), "delegate"); err != nil {
		t.Fatalf("SendUser: %v", err)
	}
	peers := coord.Peers()
	if len(peers) != 1 || peers[0].Name != "worker" || peers[0].SessionID != "team-1/worker" {
		t.Fatalf("unexpected peers %+v", peers)
	}

	eventually(t, "lead woken by peer", func() bool {
		for _, r := range adapter.requestsFor(AddressLead) {
			if m := lastUser(r); m != nil && strings.Contains(m.Content, "[Message from worker]\nanswer is 42") {
				return true
			}
		}
		return false
	})

	peerHistory, _ := store.List(context.Background(), "team-1/worker")
	if len(peerHistory) == 0 || peerHistory[0].Source != models.SourceTeam ||
		!strings.Contains(peerHistory[0].Content, "compute the answer") {
		t.Fatalf("peer should start from its task, got %+v", peerHistory)
	}

	workerReqs := adapter.requestsFor("worker")
	if !strings.Contains(workerReqs[0].SystemPrompt(), "send_message") {
		t.Error("peer prompt should explain how to report back")
	}
	for _, spec := range workerReqs[0].Tools {
		if spec.Name == "spawn_peer" {
			t.Error("peers must not spawn peers")
		}
	}
}

func TestCoordinator_SpawnValidation(t *testing.T) {
	adapter := &scriptAdapter{respond: func(ctx context.Context, req *agent.Request) []*models.StreamEvent {
		<-ctx.Done()
		return nil
	}}
	coord, _ := newTestCoordinator(t, adapter, func(cfg *Config) { cfg.MaxPeers = 1 })

	tests := []struct {
		name, peer, task string
		want             error
	}{
		{"reserved lead", "lead", "x", ErrInvalidPeerName},
		{"reserved broadcast", "*", "x", ErrInvalidPeerName},
		{"bad characters", "a/b", "x", ErrInvalidPeerName},
		{"first", "alpha", "x", nil},
		{"duplicate", "alpha", "x", ErrPeerExists},
		{"over cap", "beta", "x", ErrTooManyPeers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.Spawn(tt.peer, tt.task)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if _, err := coord.Spawn("gamma", "  "); err == nil {
		t.Error("expected an error for an empty task")
	}

	if err := coord.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := coord.SendUser(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestCoordinator_AbortAll(t *testing.T) {
	adapter := &scriptAdapter{respond: func(ctx context.Context, req *agent.Request) []*models.StreamEvent {
		<-ctx.Done()
		return nil
	}}
	coord, _ := newTestCoordinator(t, adapter, nil)

	if _, err := coord.Spawn("alpha", "wait forever"); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := coord.SendUser(context.Background(), "wait too")
		errCh <- err
	}()
	eventually(t, "lead and peer running", func() bool {
		return coord.cfg.Loop.Sessions.Count() == 2
	})

	if n := coord.AbortAll(); n != 2 {
		t.Errorf("expected 2 aborted runs, got %d", n)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, agent.ErrAborted) {
			t.Errorf("expected ErrAborted, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("lead run did not stop")
	}
	eventually(t, "team idle", coord.Idle)
	if !coord.Paused() {
		t.Error("AbortAll should pause auto-triggering")
	}
}

func TestCoordinator_PeerKeepsMessagesDuringLongTurn(t *testing.T) {
	release := make(chan struct{})
	adapter := &scriptAdapter{}
	adapter.respond = func(ctx context.Context, req *agent.Request) []*models.StreamEvent {
		if agentOf(req) == "worker" && len(adapter.requestsFor("worker")) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return reply("noted")
	}
	coord, _ := newTestCoordinator(t, adapter, func(cfg *Config) { cfg.BusBuffer = 2 })

	if _, err := coord.Spawn("worker", "long task"); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	eventually(t, "worker busy", func() bool { return len(adapter.requestsFor("worker")) == 1 })

	const sent = 10
	for i := 0; i < sent; i++ {
		if _, err := coord.Bus().Publish("tester", "worker", "note "+string(rune('a'+i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if coord.Idle() {
		t.Error("team with unread peer messages is not idle")
	}
	close(release)

	eventually(t, "worker reads its messages", func() bool { return len(adapter.requestsFor("worker")) >= 2 })
	eventually(t, "team idle", coord.Idle)
	got := 0
	for _, r := range adapter.requestsFor("worker")[1:] {
		if m := lastUser(r); m != nil {
			got += strings.Count(m.Content, "[Message from tester]")
		}
	}
	if got != sent {
		t.Errorf("expected all %d messages delivered, got %d", sent, got)
	}
}
