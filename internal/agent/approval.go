package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/pkg/models"
)

// ApprovalDecision represents the result of an approval check for a tool call.
type ApprovalDecision string

const (
	// ApprovalAllowed means the tool call is allowed to execute.
	ApprovalAllowed ApprovalDecision = "allowed"
	// ApprovalDenied means the tool call is denied.
	ApprovalDenied ApprovalDecision = "denied"
	// ApprovalPending means the tool call requires user approval.
	ApprovalPending ApprovalDecision = "pending"
	// ApprovalAlways allows the call and every later call of the same tool
	// in the same session.
	ApprovalAlways ApprovalDecision = "always"

	approvalCancelled ApprovalDecision = "cancelled"
)

// Allows reports whether the decision lets the call run.
func (d ApprovalDecision) Allows() bool {
	return d == ApprovalAllowed || d == ApprovalAlways
}

// DefaultApprovalTTL bounds how long a request waits for a human.
const DefaultApprovalTTL = 5 * time.Minute

// ApprovalRequest represents a pending approval request for a tool call that requires user authorization.
type ApprovalRequest struct {
	ID        string               `json:"id"`
	SessionID string               `json:"session_id,omitempty"`
	Call      models.ToolCallState `json:"call"`
	Reason    string               `json:"reason,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at,omitempty"`
}

// ApprovalPolicy configures approval behavior for tool execution including
// allow/deny lists and default decisions.
type ApprovalPolicy struct {
	// Allowlist contains tools that are always allowed (no approval needed).
	// Supports glob patterns like "read_*" or "mcp:*".
	Allowlist []string `yaml:"allow" json:"allow,omitempty"`

	// Denylist contains tools that are always denied.
	Denylist []string `yaml:"deny" json:"deny,omitempty"`

	// RequireApproval contains tools that always require approval, even when
	// auto-approve is on.
	RequireApproval []string `yaml:"require" json:"require,omitempty"`

	// DefaultDecision when no rule matches (default: "pending").
	DefaultDecision ApprovalDecision `yaml:"default_decision" json:"default_decision,omitempty"`

	// RequestTTL is how long approval requests remain valid (default: 5m).
	RequestTTL time.Duration `yaml:"request_ttl" json:"request_ttl,omitempty"`
}

// DefaultApprovalPolicy returns a policy that asks for everything.
func DefaultApprovalPolicy() *ApprovalPolicy {
	return &ApprovalPolicy{
		DefaultDecision: ApprovalPending,
		RequestTTL:      DefaultApprovalTTL,
	}
}

func normalizeApprovalPolicy(policy *ApprovalPolicy) *ApprovalPolicy {
	if policy == nil {
		return DefaultApprovalPolicy()
	}
	out := *policy
	if out.DefaultDecision == "" {
		out.DefaultDecision = ApprovalPending
	}
	if out.RequestTTL <= 0 {
		out.RequestTTL = DefaultApprovalTTL
	}
	return &out
}

// ApprovalChecker evaluates tool calls against the policy and the tools the
// user has already approved per session.
type ApprovalChecker struct {
	mu       sync.RWMutex
	policy   *ApprovalPolicy
	approved map[string]map[string]struct{} // session -> tool names
}

// NewApprovalChecker creates a checker. If policy is nil,
// DefaultApprovalPolicy is used.
func NewApprovalChecker(policy *ApprovalPolicy) *ApprovalChecker {
	return &ApprovalChecker{
		policy:   normalizeApprovalPolicy(policy),
		approved: make(map[string]map[string]struct{}),
	}
}

// Policy returns the effective policy.
func (c *ApprovalChecker) Policy() ApprovalPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.policy
}

// Check decides a call without waiting. The order is: denylist, session
// approvals, require list, auto-approve, allowlist, default.
func (c *ApprovalChecker) Check(sessionID, toolName string, autoApprove bool) (ApprovalDecision, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if matchesAny(c.policy.Denylist, toolName) {
		return ApprovalDenied, "tool is in denylist"
	}
	if _, ok := c.approved[sessionID][normalizeTool(toolName)]; ok {
		return ApprovalAllowed, "approved for this session"
	}
	if matchesAny(c.policy.RequireApproval, toolName) {
		return ApprovalPending, "tool requires approval"
	}
	if autoApprove {
		return ApprovalAllowed, "auto-approve enabled"
	}
	if matchesAny(c.policy.Allowlist, toolName) {
		return ApprovalAllowed, "tool is in allowlist"
	}
	return c.policy.DefaultDecision, "no matching rule"
}

// ApproveForSession remembers a tool as approved for the rest of a session.
func (c *ApprovalChecker) ApproveForSession(sessionID, toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := c.approved[sessionID]
	if names == nil {
		names = make(map[string]struct{})
		c.approved[sessionID] = names
	}
	names[normalizeTool(toolName)] = struct{}{}
}

// ForgetSession drops the session's remembered approvals.
func (c *ApprovalChecker) ForgetSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.approved, sessionID)
}

func normalizeTool(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func matchesAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if matchesPattern(p, toolName) {
			return true
		}
	}
	return false
}

// matchesPattern checks if a tool name matches a glob pattern.
func matchesPattern(pattern, toolName string) bool {
	pattern = normalizeTool(pattern)
	toolName = normalizeTool(toolName)
	if pattern == "" {
		return false
	}
	if pattern == "*" || pattern == toolName {
		return true
	}
	ok, err := doublestar.Match(pattern, toolName)
	return err == nil && ok
}

// ApprovalGate is the approval surface. Request blocks until the call is
// allowed or denied exactly once; CancelSession clears every wait of a
// session so nothing is left pending after an abort.
type ApprovalGate interface {
	Request(ctx context.Context, req *ApprovalRequest) (ApprovalDecision, error)
	Resolve(toolCallID string, decision ApprovalDecision) bool
	CancelSession(sessionID string) int
}

// ApprovalNotifier is told about each new request, typically to prompt a
// human. It must not block.
type ApprovalNotifier func(req *ApprovalRequest)

type pendingApproval struct {
	req  *ApprovalRequest
	done chan ApprovalDecision
	once sync.Once
}

func (p *pendingApproval) resolve(d ApprovalDecision) bool {
	delivered := false
	p.once.Do(func() {
		p.done <- d
		delivered = true
	})
	return delivered
}

// MemoryApprovalGate is an in-process ApprovalGate.
type MemoryApprovalGate struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval // by tool call id
	ttl     time.Duration
	notify  ApprovalNotifier
	now     func() time.Time
}

// NewMemoryApprovalGate creates a gate. A zero ttl uses DefaultApprovalTTL.
func NewMemoryApprovalGate(ttl time.Duration, notify ApprovalNotifier) *MemoryApprovalGate {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &MemoryApprovalGate{
		pending: make(map[string]*pendingApproval),
		ttl:     ttl,
		notify:  notify,
		now:     time.Now,
	}
}

// SetNotifier replaces the notifier.
func (g *MemoryApprovalGate) SetNotifier(fn ApprovalNotifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notify = fn
}

// Request registers req and waits for Resolve, CancelSession, the TTL or ctx.
// Anything but an explicit allow returns ApprovalDenied; the error is an
// *ApprovalError when no human decided.
func (g *MemoryApprovalGate) Request(ctx context.Context, req *ApprovalRequest) (ApprovalDecision, error) {
	now := g.now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = now
	req.ExpiresAt = now.Add(g.ttl)

	p := &pendingApproval{req: req, done: make(chan ApprovalDecision, 1)}
	g.mu.Lock()
	g.pending[req.Call.ID] = p
	notify := g.notify
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.pending[req.Call.ID] == p {
			delete(g.pending, req.Call.ID)
		}
		g.mu.Unlock()
	}()

	if notify != nil {
		notify(req)
	}

	timer := time.NewTimer(g.ttl)
	defer timer.Stop()

	fail := func(cause error) (ApprovalDecision, error) {
		return ApprovalDenied, &ApprovalError{ToolCallID: req.Call.ID, ToolName: req.Call.Name, Cause: cause}
	}

	select {
	case d := <-p.done:
		switch {
		case d == approvalCancelled:
			return fail(ErrApprovalCancelled)
		case d.Allows():
			return d, nil
		default:
			return ApprovalDenied, nil
		}
	case <-timer.C:
		if p.resolve(ApprovalDenied) {
			return fail(ErrApprovalTimeout)
		}
		return g.late(p, fail)
	case <-ctx.Done():
		if p.resolve(approvalCancelled) {
			return fail(ErrApprovalCancelled)
		}
		return g.late(p, fail)
	}
}

// late handles a decision that won the race against a timeout or
// cancellation.
func (g *MemoryApprovalGate) late(p *pendingApproval, fail func(error) (ApprovalDecision, error)) (ApprovalDecision, error) {
	d := <-p.done
	if d == approvalCancelled {
		return fail(ErrApprovalCancelled)
	}
	if d.Allows() {
		return d, nil
	}
	return ApprovalDenied, nil
}

// Resolve delivers a decision. It returns false when no request is waiting
// for toolCallID or it was already decided.
func (g *MemoryApprovalGate) Resolve(toolCallID string, decision ApprovalDecision) bool {
	if decision == ApprovalPending || decision == "" {
		return false
	}
	g.mu.Lock()
	p := g.pending[toolCallID]
	g.mu.Unlock()
	if p == nil {
		return false
	}
	return p.resolve(decision)
}

// CancelSession cancels every wait belonging to sessionID and returns how
// many were cleared.
func (g *MemoryApprovalGate) CancelSession(sessionID string) int {
	g.mu.Lock()
	var targets []*pendingApproval
	for _, p := range g.pending {
		if p.req.SessionID == sessionID {
			targets = append(targets, p)
		}
	}
	g.mu.Unlock()

	n := 0
	for _, p := range targets {
		if p.resolve(approvalCancelled) {
			n++
		}
	}
	return n
}

// Pending lists waiting requests for a session, or all when sessionID is empty.
func (g *MemoryApprovalGate) Pending(sessionID string) []*ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*ApprovalRequest
	for _, p := range g.pending {
		if sessionID == "" || p.req.SessionID == sessionID {
			out = append(out, p.req)
		}
	}
	return out
}
