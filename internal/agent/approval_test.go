package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/agentrt/pkg/models"
)

func TestApprovalChecker_Check(t *testing.T) {
	policy := &ApprovalPolicy{
		Allowlist:       []string{"read_file", "list_*"},
		Denylist:        []string{"rm", "delete_*"},
		RequireApproval: []string{"shell"},
	}
	checker := NewApprovalChecker(policy)

	tests := []struct {
		name        string
		tool        string
		autoApprove bool
		expected    ApprovalDecision
	}{
		{"exact allow", "read_file", false, ApprovalAllowed},
		{"glob allow", "list_files", false, ApprovalAllowed},
		{"case insensitive", "READ_FILE", false, ApprovalAllowed},
		{"exact deny", "rm", false, ApprovalDenied},
		{"glob deny", "delete_file", false, ApprovalDenied},
		{"deny beats auto approve", "rm", true, ApprovalDenied},
		{"require beats auto approve", "shell", true, ApprovalPending},
		{"auto approve", "write_file", true, ApprovalAllowed},
		{"default pending", "write_file", false, ApprovalPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, _ := checker.Check("s1", tt.tool, tt.autoApprove)
			if decision != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, decision)
			}
		})
	}
}

func TestApprovalChecker_SessionApproval(t *testing.T) {
	checker := NewApprovalChecker(nil)

	if d, _ := checker.Check("s1", "write_file", false); d != ApprovalPending {
		t.Fatalf("expected pending before approval, got %v", d)
	}
	checker.ApproveForSession("s1", "write_file")

	if d, _ := checker.Check("s1", "write_file", false); d != ApprovalAllowed {
		t.Errorf("expected allowed after session approval, got %v", d)
	}
	if d, _ := checker.Check("s2", "write_file", false); d != ApprovalPending {
		t.Errorf("expected approval to be scoped to the session, got %v", d)
	}

	checker.ForgetSession("s1")
	if d, _ := checker.Check("s1", "write_file", false); d != ApprovalPending {
		t.Errorf("expected pending after forgetting the session, got %v", d)
	}
}

func TestApprovalChecker_DefaultDecision(t *testing.T) {
	checker := NewApprovalChecker(&ApprovalPolicy{DefaultDecision: ApprovalDenied})
	if d, _ := checker.Check("s", "anything", false); d != ApprovalDenied {
		t.Errorf("expected denied default, got %v", d)
	}
	if got := checker.Policy().RequestTTL; got != DefaultApprovalTTL {
		t.Errorf("expected default ttl, got %v", got)
	}
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		pattern string
		tool    string
		want    bool
	}{
		{"*", "anything", true},
		{"read_file", "read_file", true},
		{"read_*", "read_file", true},
		{"read_*", "write_file", false},
		{"mcp:*", "mcp:github", true},
		{"{read,list}_file", "list_file", true},
		{"", "read_file", false},
	}
	for _, tt := range tests {
		if got := matchesPattern(tt.pattern, tt.tool); got != tt.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", tt.pattern, tt.tool, got, tt.want)
		}
	}
}

func newApprovalRequest(session, callID string) *ApprovalRequest {
	return &ApprovalRequest{
		SessionID: session,
		Call:      models.ToolCallState{ID: callID, Name: "shell", Status: models.ToolCallPendingApproval},
	}
}

func TestMemoryApprovalGate_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		decision ApprovalDecision
		want     ApprovalDecision
	}{
		{"allow", ApprovalAllowed, ApprovalAllowed},
		{"always", ApprovalAlways, ApprovalAlways},
		{"deny", ApprovalDenied, ApprovalDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gate *MemoryApprovalGate
			gate = NewMemoryApprovalGate(time.Minute, func(req *ApprovalRequest) {
				if !gate.Resolve(req.Call.ID, tt.decision) {
					t.Error("expected resolve to deliver")
				}
			})

			got, err := gate.Request(context.Background(), newApprovalRequest("s", "c1"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if gate.Resolve("c1", ApprovalAllowed) {
				t.Error("expected second resolve to be rejected")
			}
			if n := len(gate.Pending("")); n != 0 {
				t.Errorf("expected no pending requests, got %d", n)
			}
		})
	}
}

func TestMemoryApprovalGate_RejectsPendingDecision(t *testing.T) {
	gate := NewMemoryApprovalGate(time.Minute, nil)
	if gate.Resolve("missing", ApprovalAllowed) {
		t.Error("expected resolve of unknown id to fail")
	}
	if gate.Resolve("missing", ApprovalPending) {
		t.Error("expected pending decision to be rejected")
	}
}

func TestMemoryApprovalGate_Timeout(t *testing.T) {
	gate := NewMemoryApprovalGate(20*time.Millisecond, nil)

	got, err := gate.Request(context.Background(), newApprovalRequest("s", "c1"))
	if got != ApprovalDenied {
		t.Errorf("expected denied, got %v", got)
	}
	var approvalErr *ApprovalError
	if !errors.As(err, &approvalErr) || !errors.Is(err, ErrApprovalTimeout) {
		t.Fatalf("expected approval timeout error, got %v", err)
	}
	if approvalErr.ToolCallID != "c1" {
		t.Errorf("expected call id c1, got %q", approvalErr.ToolCallID)
	}
}

func TestMemoryApprovalGate_CancelSession(t *testing.T) {
	gate := NewMemoryApprovalGate(time.Minute, nil)

	type outcome struct {
		decision ApprovalDecision
		err      error
	}
	results := make(chan outcome, 2)
	for _, id := range []string{"c1", "c2"} {
		go func(id string) {
			d, err := gate.Request(context.Background(), newApprovalRequest("s1", id))
			results <- outcome{d, err}
		}(id)
	}
	other := make(chan outcome, 1)
	go func() {
		d, err := gate.Request(context.Background(), newApprovalRequest("s2", "c3"))
		other <- outcome{d, err}
	}()

	deadline := time.Now().Add(time.Second)
	for len(gate.Pending("")) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("requests never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	if n := gate.CancelSession("s1"); n != 2 {
		t.Errorf("expected 2 cancelled, got %d", n)
	}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.decision != ApprovalDenied || !errors.Is(r.err, ErrApprovalCancelled) {
			t.Errorf("expected cancelled denial, got %v %v", r.decision, r.err)
		}
	}

	if len(gate.Pending("s2")) != 1 {
		t.Error("expected the other session to stay pending")
	}
	gate.Resolve("c3", ApprovalAllowed)
	if r := <-other; r.decision != ApprovalAllowed || r.err != nil {
		t.Errorf("expected allowed for other session, got %v %v", r.decision, r.err)
	}
}

func TestMemoryApprovalGate_ContextCancel(t *testing.T) {
	gate := NewMemoryApprovalGate(time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := gate.Request(ctx, newApprovalRequest("s", "c1"))
	if got != ApprovalDenied || !errors.Is(err, ErrApprovalCancelled) {
		t.Errorf("expected cancelled denial, got %v %v", got, err)
	}
}
