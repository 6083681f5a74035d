// Package exec provides the shell tool.
package exec

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/tools"
)

// ShellTool runs shell commands.
type ShellTool struct {
	runner *Runner
}

type shellInput struct {
	Command        string            `json:"command" jsonschema:"description=Shell command to execute"`
	Cwd            string            `json:"cwd,omitempty" jsonschema:"description=Working directory relative to the workspace"`
	Env            map[string]string `json:"env,omitempty" jsonschema:"description=Environment overrides"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" jsonschema:"minimum=0,description=Timeout in seconds (0 uses the configured limit)"`
}

// NewShellTool creates a shell tool backed by runner.
func NewShellTool(runner *Runner) *ShellTool {
	return &ShellTool{runner: runner}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace. Commands are killed when they exceed the timeout."
}

func (t *ShellTool) Schema() json.RawMessage {
	return tools.SchemaFor[shellInput]()
}

// Execute runs the command. Non-zero exits and kills are is_error results;
// the tool itself only errors when the runner is missing.
func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.runner == nil {
		return tools.Error("shell runner unavailable"), nil
	}
	input, err := tools.Decode[shellInput](params)
	if err != nil {
		return tools.Error(err.Error()), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return tools.Error("command is required"), nil
	}

	result, err := t.runner.Run(ctx, command, input.Cwd, input.Env, time.Duration(input.TimeoutSeconds)*time.Second)
	if err != nil {
		return tools.Error(err.Error()), nil
	}
	out := tools.Result(result)
	out.IsError = result.Status != StatusSuccess
	return out, nil
}
