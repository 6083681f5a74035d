package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentrt/internal/agent"
	agentctx "github.com/haasonsaas/agentrt/internal/agent/context"
	"github.com/haasonsaas/agentrt/internal/sessions"
)

const chatHelp = `/help     show this help
/history  show message and token counts for this session
/reset    clear this session's history
/exit     leave (Ctrl-D works too)
Ctrl-C aborts a running turn; at the prompt it exits.`

// buildChatCmd creates the "chat" command.
func buildChatCmd(opts *globalOptions) *cobra.Command {
	var (
		sessionID    string
		showThinking bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent interactively",
		Long: `Start an interactive conversation. Output streams as it is generated and
tool calls that need approval are asked about inline.

Resume an earlier conversation with --session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, sessionID, showThinking)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to resume (default: new session)")
	cmd.Flags().BoolVar(&showThinking, "thinking", false, "Show model reasoning as it streams")
	return cmd
}

func runChat(cmd *cobra.Command, opts *globalOptions, sessionID string, showThinking bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	lines := readLines(cmd.InOrStdin())
	term := newTerminal(out, lines, sigs)
	printer := newEventPrinter(out, false)
	printer.showThinking = showThinking

	loop, err := rt.newLoop(printer, term.gate)
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	pc, _ := rt.cfg.Provider(opts.provider)
	fmt.Fprintf(out, "%s %s\n", headerStyle.Render("agentrt chat"),
		dimStyle.Render(fmt.Sprintf("session %s · %s (%s) · /help", sessionID, pc.Name, pc.Model)))

	for {
		fmt.Fprint(out, promptStyle.Render("› "))
		var line string
		select {
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		case <-sigs:
			fmt.Fprintln(out)
			return nil
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(ctx, out, rt.store, sessionID, line)
			if err != nil {
				fmt.Fprintln(out, errorStyle.Render("error: "+err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}
		result, err := term.converse(ctx, loop, sessionID, line)
		reportRun(out, result, err)
	}
}

// chatCommand handles a slash command and reports whether to quit.
func chatCommand(ctx context.Context, out io.Writer, store sessions.Store, sessionID, line string) (bool, error) {
	switch strings.Fields(line)[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, dimStyle.Render(chatHelp))
	case "/reset":
		if err := store.TruncateFrom(ctx, sessionID, 0); err != nil {
			return false, err
		}
		fmt.Fprintln(out, successStyle.Render("history cleared"))
	case "/history":
		history, err := store.List(ctx, sessionID)
		if err != nil {
			return false, err
		}
		tokens := agentctx.NewEstimator().CountMessages(history)
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d messages, ~%d tokens", len(history), tokens)))
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", line)
	}
	return false, nil
}

// buildRunCmd creates the "run" command.
func buildRunCmd(opts *globalOptions) *cobra.Command {
	var (
		sessionID string
		yes       bool
		quiet     bool
	)
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one prompt and print the answer",
		Long: `Run a single prompt through the agent loop. Tool calls that need approval
are asked about on the terminal unless --yes is given.`,
		Example: `  agentrt run "list the Go packages in this repo"
  agentrt run --yes --session build "fix the failing test"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts, sessionID, strings.Join(args, " "), yes, quiet)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to continue (default: new session)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Approve tool calls without asking (require rules still ask)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the final answer")
	return cmd
}

func runOnce(cmd *cobra.Command, opts *globalOptions, sessionID, prompt string, yes, quiet bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	if yes {
		rt.cfg.Agent.AutoApprove = true
	}

	out := cmd.OutOrStdout()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	term := newTerminal(cmd.ErrOrStderr(), readLines(cmd.InOrStdin()), sigs)

	var sink agent.EventSink = newEventPrinter(out, false)
	if quiet {
		sink = agent.NopSink{}
	}
	loop, err := rt.newLoop(sink, term.gate)
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := term.converse(ctx, loop, sessionID, prompt)
	if quiet && result != nil && result.Text != "" {
		fmt.Fprintln(out, result.Text)
	}
	if err != nil {
		if !quiet {
			reportRun(cmd.ErrOrStderr(), result, err)
		}
		return err
	}
	rt.logger.Debug("run finished", "session_id", sessionID, "iterations", result.Iterations,
		"input_tokens", result.Usage.InputTokens, "output_tokens", result.Usage.OutputTokens)
	return nil
}
