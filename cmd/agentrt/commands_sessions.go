package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	agentctx "github.com/haasonsaas/agentrt/internal/agent/context"
	"github.com/haasonsaas/agentrt/internal/sessions"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// =============================================================================
// Sessions Commands
// =============================================================================

// buildSessionsCmd creates the "sessions" command group for stored
// conversations.
func buildSessionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and edit stored conversations",
	}
	cmd.AddCommand(
		buildSessionsListCmd(opts),
		buildSessionsShowCmd(opts),
		buildSessionsTruncateCmd(opts),
		buildSessionsEditCmd(opts),
		buildSessionsDeleteCmd(opts),
	)
	return cmd
}

func buildSessionsListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, opts)
		},
	}
}

func buildSessionsShowCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, opts, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print messages as JSON")
	return cmd
}

func buildSessionsTruncateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <session-id> <index>",
		Short: "Drop the message at index and everything after it",
		Long: `Drop the message at index (0-based, as printed by "sessions show") and every
later message. Index 0 clears the session.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[1], err)
			}
			return runSessionsTruncate(cmd, opts, args[0], index)
		},
	}
}

func buildSessionsEditCmd(opts *globalOptions) *cobra.Command {
	var content string
	cmd := &cobra.Command{
		Use:   "edit <session-id> <message-id>",
		Short: "Replace the text of a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("content") {
				return fmt.Errorf("--content is required")
			}
			return runSessionsEdit(cmd, opts, args[0], args[1], content)
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "New message text")
	return cmd
}

func buildSessionsDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id> <message-id>",
		Short: "Delete one message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, opts, args[0], args[1])
		},
	}
}

// withStore loads the config, opens the session store and passes it to fn.
func withStore(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, store sessions.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg.Sessions)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	return fn(ctx, store)
}

func runSessionsList(cmd *cobra.Command, opts *globalOptions) error {
	return withStore(cmd, opts, func(ctx context.Context, store sessions.Store) error {
		infos, err := store.Sessions(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(infos) == 0 {
			fmt.Fprintln(out, dimStyle.Render("no sessions"))
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, headerStyle.Render("SESSION")+"\t"+headerStyle.Render("MESSAGES")+"\t"+headerStyle.Render("UPDATED"))
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%d\t%s\n", info.ID, info.Messages, dimStyle.Render(info.UpdatedAt.Local().Format("2006-01-02 15:04:05")))
		}
		return w.Flush()
	})
}

func runSessionsShow(cmd *cobra.Command, opts *globalOptions, sessionID string, asJSON bool) error {
	return withStore(cmd, opts, func(ctx context.Context, store sessions.Store) error {
		history, err := store.List(ctx, sessionID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(history)
		}
		if len(history) == 0 {
			fmt.Fprintln(out, dimStyle.Render("session "+sessionID+" is empty"))
			return nil
		}
		for i, msg := range history {
			printMessage(out, i, msg)
		}
		estimator := agentctx.NewEstimator()
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d messages, ~%d tokens", len(history), estimator.CountMessages(history))))
		return nil
	})
}

func printMessage(out io.Writer, index int, msg *models.Message) {
	label := string(msg.Role)
	if msg.Source != "" {
		label += " · " + msg.Source
	}
	style := agentStyle
	if msg.Role == models.RoleUser {
		style = promptStyle
	}
	fmt.Fprintf(out, "%s %s %s\n", dimStyle.Render(fmt.Sprintf("#%d", index)), style.Render(label), dimStyle.Render(msg.ID))
	if len(msg.Blocks) == 0 {
		fmt.Fprintln(out, indent(msg.Content))
		return
	}
	for _, b := range msg.Blocks {
		switch b.Type {
		case models.BlockText:
			fmt.Fprintln(out, indent(b.Text))
		case models.BlockThinking:
			fmt.Fprintln(out, dimStyle.Render(indent(preview(b.Text))))
		case models.BlockToolUse:
			fmt.Fprintln(out, "  "+toolStyle.Render("⚙ "+b.Name)+" "+dimStyle.Render(preview(string(b.Input))))
		case models.BlockToolResult:
			mark := successStyle.Render("↳")
			if b.IsError {
				mark = errorStyle.Render("↳")
			}
			fmt.Fprintln(out, "  "+mark+" "+dimStyle.Render(preview(b.Content)))
		case models.BlockImage:
			fmt.Fprintln(out, dimStyle.Render("  [image]"))
		}
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}

func runSessionsTruncate(cmd *cobra.Command, opts *globalOptions, sessionID string, index int) error {
	return withStore(cmd, opts, func(ctx context.Context, store sessions.Store) error {
		if err := store.TruncateFrom(ctx, sessionID, index); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("truncated %s at #%d", sessionID, index)))
		return nil
	})
}

func runSessionsEdit(cmd *cobra.Command, opts *globalOptions, sessionID, msgID, content string) error {
	return withStore(cmd, opts, func(ctx context.Context, store sessions.Store) error {
		history, err := store.List(ctx, sessionID)
		if err != nil {
			return err
		}
		var target *models.Message
		for _, msg := range history {
			if msg.ID == msgID {
				target = msg
				break
			}
		}
		if target == nil {
			return fmt.Errorf("message %s not found in session %s", msgID, sessionID)
		}
		if err := store.Patch(ctx, sessionID, msgID, editPatch(target, content)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("updated "+msgID))
		return nil
	})
}

// editPatch replaces the text of msg. Structured messages keep their
// non-text blocks after the new text.
func editPatch(msg *models.Message, content string) sessions.MessagePatch {
	patch := sessions.MessagePatch{Content: &content}
	if len(msg.Blocks) == 0 {
		return patch
	}
	blocks := []models.ContentBlock{models.TextBlock(content)}
	for _, b := range msg.Blocks {
		if b.Type != models.BlockText {
			blocks = append(blocks, b)
		}
	}
	patch.Blocks = blocks
	return patch
}

func runSessionsDelete(cmd *cobra.Command, opts *globalOptions, sessionID, msgID string) error {
	return withStore(cmd, opts, func(ctx context.Context, store sessions.Store) error {
		if err := store.Delete(ctx, sessionID, msgID); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("deleted "+msgID))
		return nil
	})
}
