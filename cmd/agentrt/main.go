// Package main provides the agentrt command line: an interactive agent
// runtime that streams model output, runs tools behind approvals and keeps
// conversations within the model's context window.
//
// # Basic Usage
//
// Chat interactively:
//
//	agentrt chat --config agentrt.yaml
//
// Run one prompt and print the answer:
//
//	agentrt run "summarize the README"
//
// Let a lead agent split a task across peers:
//
//	agentrt team "audit every package for unchecked errors"
//
// # Environment Variables
//
//   - AGENTRT_CONFIG: path to the configuration file (default: agentrt.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: used when no
//     configuration file exists
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "agentrt.yaml"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	provider   string
	logLevel   string
	eventsPath string
}

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "agentrt",
		Short: "Streaming tool-calling agent runtime",
		Long: `agentrt drives LLM agents that call tools in a loop.

Supported dialects: anthropic, openai (and compatible endpoints),
openai-responses, gemini.
Built-in tools: read_file, write_file, list_files, shell.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the configuration file (or set AGENTRT_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&opts.provider, "provider", "p", "", "Provider name from the configuration (default: default_provider)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level")
	rootCmd.PersistentFlags().StringVar(&opts.eventsPath, "events", "", "Append agent events to this file as JSON lines")

	rootCmd.AddCommand(
		buildChatCmd(opts),
		buildRunCmd(opts),
		buildTeamCmd(opts),
		buildSessionsCmd(opts),
		buildConfigCmd(opts),
	)
	return rootCmd
}

// resolveConfigPath picks the flag, then AGENTRT_CONFIG, then the default
// file when it exists. An empty result means run without a file.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("AGENTRT_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
