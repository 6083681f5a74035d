package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry manages available tools with thread-safe registration, input
// validation, and bounded execution.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	timeout time.Duration
	logger  *slog.Logger
}

// NewToolRegistry creates an empty registry. A zero timeout disables the
// per-call ceiling.
func NewToolRegistry(timeout time.Duration, logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a tool, replacing any tool with the same name. The tool's
// schema is compiled eagerly so a bad schema is reported at startup.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	var compiled *jsonschema.Schema
	if schema := tool.Schema(); len(schema) > 0 {
		var err error
		compiled, err = jsonschema.CompileString(name+".schema.json", string(schema))
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
	return nil
}

// MustRegister is Register for static tool sets.
func (r *ToolRegistry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Specs returns the catalogue sorted by name so requests are reproducible.
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, SpecOf(t))
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Validate checks params against the tool's compiled schema.
func (r *ToolRegistry) Validate(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToolInput, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToolInput, err)
	}
	return nil
}

// Execute validates and runs a tool. Every failure mode (unknown tool, bad
// input, timeout, panic, tool error) is returned as a *ToolError; the result
// is nil in that case.
func (r *ToolRegistry) Execute(ctx context.Context, callID, name string, params json.RawMessage) (*ToolResult, error) {
	if len(params) > MaxToolParamsSize {
		return nil, NewToolError(name, fmt.Errorf("%w: parameters exceed %d bytes", ErrInvalidToolInput, MaxToolParamsSize)).WithToolCallID(callID)
	}

	tool, ok := r.Get(name)
	if !ok {
		return nil, NewToolError(name, fmt.Errorf("%w: %s", ErrToolNotFound, name)).WithToolCallID(callID)
	}
	if err := r.Validate(name, params); err != nil {
		return nil, NewToolError(name, err).WithToolCallID(callID)
	}

	toolCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultChan := make(chan execResult, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultChan <- execResult{err: fmt.Errorf("%w: %v", ErrToolPanic, p)}
			}
		}()
		res, err := tool.Execute(toolCtx, params)
		resultChan <- execResult{result: res, err: err}
	}()

	select {
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.Warn("tool execution timed out", "tool", name, "tool_call_id", callID, "timeout", r.timeout)
			return nil, NewToolError(name, fmt.Errorf("%w after %v", ErrToolTimeout, r.timeout)).WithToolCallID(callID)
		}
		return nil, NewToolError(name, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())).WithToolCallID(callID)
	case res := <-resultChan:
		if res.err != nil {
			return nil, NewToolError(name, res.err).WithToolCallID(callID)
		}
		if res.result == nil {
			return &ToolResult{}, nil
		}
		return res.result, nil
	}
}
