package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentrt/internal/team"
)

// idlePoll is how often the team is checked for quiescence. The team is
// settled after two idle checks in a row.
const idlePoll = 150 * time.Millisecond

// buildTeamCmd creates the "team" command.
func buildTeamCmd(opts *globalOptions) *cobra.Command {
	var (
		sessionID string
		yes       bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "team [task]",
		Short: "Run a lead agent that can spawn and message peers",
		Long: `Run a lead agent with the spawn_peer and send_message tools. Peers run
concurrently in their own sessions and report back to the lead, which wakes
up for batched peer messages until the auto-trigger limit is reached.

With a task the command waits until the whole team is idle and exits.
Without one it reads follow-up messages from stdin.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTeam(cmd, opts, sessionID, strings.Join(args, " "), yes, timeout)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Lead session ID (default: new session)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Approve tool calls without asking (require rules still ask)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Give up waiting for the team after this long")
	return cmd
}

func runTeam(cmd *cobra.Command, opts *globalOptions, sessionID, task string, yes bool, timeout time.Duration) error {
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
	lines := readLines(cmd.InOrStdin())
	term := newTerminal(out, lines, sigs)
	printer := newEventPrinter(out, true)

	loopCfg, err := rt.loopConfig(printer, term.gate)
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	coord, err := team.NewCoordinator(team.Config{
		SessionID:       sessionID,
		Loop:            loopCfg,
		Tools:           rt.baseTools(),
		ToolTimeout:     rt.cfg.Agent.ToolTimeout,
		MaxAutoTriggers: rt.cfg.Team.MaxAutoTriggers,
		Debounce:        rt.cfg.Team.Debounce,
		MaxPeers:        rt.cfg.Team.MaxPeers,
		Logger:          rt.logger,
		Metrics:         rt.metrics,
	})
	if err != nil {
		return err
	}
	defer coord.Close()

	tap := coord.Bus().Tap()
	go func() {
		for env := range tap.C() {
			printer.note(teamStyle.Render(fmt.Sprintf("✉ %s → %s: %s", env.From, env.To, preview(env.Content))))
		}
	}()

	send := func(text string) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			result, err := coord.SendUser(ctx, text)
			reportRun(out, result, err)
			waitSettled(ctx, coord, timeout)
		}()
		term.wait(done, func() { coord.AbortAll() })
		reportTeam(out, coord)
	}

	fmt.Fprintf(out, "%s %s\n", headerStyle.Render("agentrt team"), dimStyle.Render("session "+sessionID))
	if strings.TrimSpace(task) != "" {
		send(task)
		return nil
	}
	for {
		fmt.Fprint(out, promptStyle.Render("› "))
		select {
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "/exit" || line == "/quit" {
				return nil
			}
			if line != "" {
				send(line)
			}
		case <-sigs:
			fmt.Fprintln(out)
			return nil
		}
	}
}

// waitSettled blocks until the team has been idle for two consecutive
// polls, ctx ends or timeout passes.
func waitSettled(ctx context.Context, coord *team.Coordinator, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	idle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if !coord.Idle() {
				idle = 0
				continue
			}
			idle++
			if idle >= 2 {
				return
			}
		}
	}
}

func reportTeam(out io.Writer, coord *team.Coordinator) {
	if peers := coord.Peers(); len(peers) > 0 {
		names := make([]string, len(peers))
		for i, p := range peers {
			names[i] = p.Name
		}
		fmt.Fprintln(out, dimStyle.Render("peers: "+strings.Join(names, ", ")))
	}
	if coord.Paused() && coord.Pending() > 0 {
		fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf(
			"lead paused after %d automatic turns; %d team messages are waiting for your next message",
			coord.AutoTriggers(), coord.Pending())))
	}
}
