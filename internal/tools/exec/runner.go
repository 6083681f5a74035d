package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentrt/internal/tools/files"
)

const (
	// DefaultTimeout bounds a command when neither the call nor the
	// configuration sets one.
	DefaultTimeout = 2 * time.Minute

	// killGrace is how long Wait may block on inherited pipes after the
	// process was killed.
	killGrace = 2 * time.Second

	defaultMaxOutput = 64000
)

// Outcome of a command run.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusKilled  = "killed"
)

// Runner executes shell commands inside the workspace.
type Runner struct {
	resolver  files.Resolver
	shell     string
	timeout   time.Duration
	maxOutput int
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Workspace string
	// Shell is the interpreter invoked as `<shell> -c <command>`.
	Shell     string
	Timeout   time.Duration
	MaxOutput int
}

// NewRunner creates a runner scoped to the workspace.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		resolver:  files.Resolver{Root: cfg.Workspace},
		shell:     cfg.Shell,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutput,
	}
	if r.shell == "" {
		r.shell = "/bin/sh"
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.maxOutput <= 0 {
		r.maxOutput = defaultMaxOutput
	}
	return r
}

// Run executes command and always returns a terminal result. The error is
// non-nil only when the command could not be started. A timeout of zero, or
// one above the runner's ceiling, uses the ceiling.
func (r *Runner) Run(ctx context.Context, command, cwd string, env map[string]string, timeout time.Duration) (ExecResult, error) {
	if timeout <= 0 || timeout > r.timeout {
		timeout = r.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, stdout, stderr, err := r.buildCommand(runCtx, command, cwd, env)
	if err != nil {
		return ExecResult{}, err
	}
	start := time.Now()
	err = cmd.Run()
	result := ExecResult{
		Command:  command,
		Cwd:      cmd.Dir,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: exitCode(err),
		Status:   StatusSuccess,
	}
	switch {
	case runCtx.Err() != nil:
		result.Status = StatusKilled
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			result.Error = fmt.Sprintf("killed after %v timeout", timeout)
		} else {
			result.Error = "killed: run cancelled"
		}
	case err != nil:
		result.Status = StatusError
		result.Error = err.Error()
	}
	return result, nil
}

func (r *Runner) buildCommand(ctx context.Context, command, cwd string, env map[string]string) (*exec.Cmd, *limitedBuffer, *limitedBuffer, error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil, nil, fmt.Errorf("command is required")
	}

	if cwd == "" {
		cwd = "."
	}
	dir, err := r.resolver.Resolve(cwd)
	if err != nil {
		return nil, nil, nil, err
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = killGrace
	if len(env) > 0 {
		base := os.Environ()
		for k, v := range env {
			base = append(base, k+"="+v)
		}
		cmd.Env = base
	}

	stdout := newLimitedBuffer(r.maxOutput)
	stderr := newLimitedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd, stdout, stderr, nil
}

type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		b.truncated = true
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.buf) + "\n[output truncated]"
	}
	return string(b.buf)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ExecResult summarizes a command run.
type ExecResult struct {
	Command  string        `json:"command"`
	Cwd      string        `json:"cwd"`
	Status   string        `json:"status"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
