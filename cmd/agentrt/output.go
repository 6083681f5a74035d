package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/tools"
	"github.com/haasonsaas/agentrt/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	agentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	teamStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)
)

// previewLimit bounds tool input and output echoed to the terminal.
const previewLimit = 160

// eventPrinter renders agent events as a terminal transcript. With
// labelAgents set every change of speaker is announced, which keeps
// interleaved team output readable.
type eventPrinter struct {
	mu           sync.Mutex
	out          io.Writer
	labelAgents  bool
	showThinking bool

	speaker string
	midLine bool
	// thinking is true while the current line is reasoning text.
	thinking bool
}

var _ agent.EventSink = (*eventPrinter)(nil)

func newEventPrinter(out io.Writer, labelAgents bool) *eventPrinter {
	return &eventPrinter{out: out, labelAgents: labelAgents}
}

func (p *eventPrinter) Emit(_ context.Context, e models.AgentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case models.AgentEventTextDelta:
		if e.Delta == nil || e.Delta.Text == "" {
			return
		}
		p.speak(e.Agent)
		if p.thinking {
			p.newline()
			p.thinking = false
		}
		fmt.Fprint(p.out, e.Delta.Text)
		p.midLine = !strings.HasSuffix(e.Delta.Text, "\n")

	case models.AgentEventThinkingDelta:
		if !p.showThinking || e.Delta == nil || e.Delta.Text == "" {
			return
		}
		p.speak(e.Agent)
		p.thinking = true
		fmt.Fprint(p.out, dimStyle.Render(e.Delta.Text))
		p.midLine = !strings.HasSuffix(e.Delta.Text, "\n")

	case models.AgentEventToolInserted:
		if e.Tool == nil {
			return
		}
		p.speak(e.Agent)
		p.line(toolStyle.Render(tools.Describe(e.Tool.Name, e.Tool.Input).String()))

	case models.AgentEventToolStatus:
		if e.Tool == nil {
			return
		}
		switch e.Tool.Status {
		case models.ToolCallCompleted:
			p.speak(e.Agent)
			p.line(successStyle.Render("✓ "+e.Tool.Name) + " " + dimStyle.Render(preview(e.Tool.Output)))
		case models.ToolCallError:
			p.speak(e.Agent)
			msg := e.Tool.Error
			if msg == "" {
				msg = e.Tool.Output
			}
			p.line(errorStyle.Render("✗ "+e.Tool.Name) + " " + preview(msg))
		}

	case models.AgentEventCompressed:
		c := e.Compression
		if c == nil {
			return
		}
		p.speak(e.Agent)
		switch {
		case c.Error != "":
			p.line(warningStyle.Render(fmt.Sprintf("context compression (%s) failed: %s", c.Kind, c.Error)))
		case c.Kind == "pre":
			p.line(dimStyle.Render(fmt.Sprintf("context at %.0f%%: cleared %d old tool blocks", c.Ratio*100, c.Cleared)))
		default:
			p.line(dimStyle.Render(fmt.Sprintf("context at %.0f%%: compressed %d → %d messages", c.Ratio*100, c.OriginalCount, c.NewCount)))
		}

	case models.AgentEventMessageAppended:
		if e.Message != nil && e.Message.Source == agent.SourceNotice {
			p.speak(e.Agent)
			p.line(errorStyle.Render(e.Message.Text()))
		}

	case models.AgentEventRunFinished:
		p.newline()
	}
}

// note prints a standalone line between streamed output. The next agent
// output is labeled again.
func (p *eventPrinter) note(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line(s)
	p.speaker = ""
}

// speak announces agent when it differs from the last speaker.
func (p *eventPrinter) speak(name string) {
	if !p.labelAgents || name == "" || name == p.speaker {
		return
	}
	p.newline()
	p.speaker = name
	fmt.Fprintln(p.out, agentStyle.Render("["+name+"]"))
}

func (p *eventPrinter) line(s string) {
	p.newline()
	fmt.Fprintln(p.out, s)
}

func (p *eventPrinter) newline() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

// preview collapses whitespace and truncates s for one-line display.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewLimit {
		return string(r[:previewLimit]) + "…"
	}
	return s
}
