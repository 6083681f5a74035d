package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/tools"
)

const defaultMaxResults = 500

var errEnoughResults = errors.New("result limit reached")

// ListTool lists workspace files matching a glob.
type ListTool struct {
	resolver   Resolver
	maxResults int
}

type listInput struct {
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to list relative to the workspace (default: the workspace root)"`
	Pattern string `json:"pattern,omitempty" jsonschema:"description=Glob relative to path such as **/*.go (default: *)"`
}

// NewListTool creates a list tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	limit := cfg.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}
	return &ListTool{resolver: cfg.resolver(), maxResults: limit}
}

// Name returns the tool name.
func (t *ListTool) Name() string {
	return "list_files"
}

// Description returns the tool description.
func (t *ListTool) Description() string {
	return "List files in a workspace directory, optionally filtered by a glob such as **/*.go."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ListTool) Schema() json.RawMessage {
	return tools.SchemaFor[listInput]()
}

// Execute lists matching entries. Directories carry a trailing slash.
func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input, err := tools.Decode[listInput](params)
	if err != nil {
		return tools.Error(err.Error()), nil
	}
	dir := strings.TrimSpace(input.Path)
	if dir == "" {
		dir = "."
	}
	pattern := strings.TrimSpace(input.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return tools.Error(fmt.Sprintf("invalid pattern %q", pattern)), nil
	}

	resolved, err := t.resolver.ResolveDir(dir)
	if err != nil {
		return tools.Error(err.Error()), nil
	}
	base, err := t.resolver.Rel(resolved)
	if err != nil {
		return tools.Error(err.Error()), nil
	}

	var (
		entries   []string
		truncated bool
	)
	fsys := os.DirFS(resolved)
	walkErr := doublestar.GlobWalk(fsys, pattern, func(p string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := path.Join(base, p)
		if d.IsDir() {
			if matchAny(t.resolver.Deny, rel) {
				return fs.SkipDir
			}
			entries = append(entries, rel+"/")
		} else if t.resolver.Permits(rel) {
			entries = append(entries, rel)
		}
		if len(entries) >= t.maxResults {
			truncated = true
			return errEnoughResults
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errEnoughResults) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Error(fmt.Sprintf("list files: %v", walkErr)), nil
	}
	sort.Strings(entries)

	return tools.Result(map[string]any{
		"path":      dir,
		"pattern":   pattern,
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	}), nil
}
