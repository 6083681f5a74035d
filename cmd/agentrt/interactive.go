package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/tools"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// maxLineBytes bounds one line of terminal input.
const maxLineBytes = 1 << 20

// readLines feeds r into a channel line by line and closes it at EOF. The
// prompt loop and approval questions share it, so stdin has one reader.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// terminal is the interactive side of a run: it answers approval requests
// from stdin and turns Ctrl-C into an abort.
type terminal struct {
	out       io.Writer
	lines     <-chan string
	sigs      <-chan os.Signal
	approvals chan *agent.ApprovalRequest
	gate      *agent.MemoryApprovalGate
}

func newTerminal(out io.Writer, lines <-chan string, sigs <-chan os.Signal) *terminal {
	t := &terminal{
		out:       out,
		lines:     lines,
		sigs:      sigs,
		approvals: make(chan *agent.ApprovalRequest, 16),
	}
	t.gate = agent.NewMemoryApprovalGate(0, func(req *agent.ApprovalRequest) {
		t.approvals <- req
	})
	return t
}

// wait serves approvals until done delivers. abort is called on Ctrl-C.
func (t *terminal) wait(done <-chan struct{}, abort func()) {
	for {
		select {
		case req := <-t.approvals:
			decision, interrupted := t.ask(req)
			if interrupted {
				abort()
				continue
			}
			if !t.gate.Resolve(req.Call.ID, decision) {
				fmt.Fprintln(t.out, dimStyle.Render("(request is no longer pending)"))
			}
		case <-t.sigs:
			fmt.Fprintln(t.out, warningStyle.Render("\naborting…"))
			abort()
		case <-done:
			return
		}
	}
}

// ask prints one approval question and reads the answer.
func (t *terminal) ask(req *agent.ApprovalRequest) (agent.ApprovalDecision, bool) {
	fmt.Fprintf(t.out, "%s %s\n",
		warningStyle.Render("approval required:"),
		toolStyle.Render(tools.Describe(req.Call.Name, req.Call.Input).String()))
	fmt.Fprintln(t.out, dimStyle.Render("  "+preview(string(req.Call.Input))))
	if req.Reason != "" {
		fmt.Fprintln(t.out, dimStyle.Render("  "+req.Reason))
	}
	fmt.Fprint(t.out, promptStyle.Render("allow? [y]es / [n]o / [a]lways › "))
	select {
	case line, ok := <-t.lines:
		if !ok {
			fmt.Fprintln(t.out)
			return agent.ApprovalDenied, false
		}
		return parseDecision(line), false
	case <-t.sigs:
		fmt.Fprintln(t.out, warningStyle.Render("\naborting…"))
		return agent.ApprovalDenied, true
	}
}

// parseDecision maps an answer to a decision; anything unrecognized denies.
func parseDecision(answer string) agent.ApprovalDecision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return agent.ApprovalAllowed
	case "a", "always":
		return agent.ApprovalAlways
	default:
		return agent.ApprovalDenied
	}
}

// converse runs one user turn to completion, serving approvals meanwhile.
func (t *terminal) converse(ctx context.Context, loop *agent.AgentLoop, sessionID, text string) (*agent.RunResult, error) {
	var (
		result *agent.RunResult
		err    error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err = loop.Run(ctx, sessionID, userMessage(text))
	}()
	t.wait(done, func() { loop.Abort(sessionID) })
	return result, err
}

func userMessage(text string) *models.Message {
	return &models.Message{Role: models.RoleUser, Content: text}
}

// reportRun prints what the event stream did not already show: failures
// before the run started, and aborts.
func reportRun(out io.Writer, result *agent.RunResult, err error) {
	switch {
	case result == nil && err != nil:
		fmt.Fprintln(out, errorStyle.Render("error: "+err.Error()))
	case result != nil && result.State == models.LoopAborted:
		fmt.Fprintln(out, warningStyle.Render("aborted"))
	}
}
