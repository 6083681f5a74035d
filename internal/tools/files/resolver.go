package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrOutsideWorkspace is returned for paths that resolve above the root.
	ErrOutsideWorkspace = errors.New("path escapes workspace")

	// ErrPathDenied is returned for paths excluded by the glob policy.
	ErrPathDenied = errors.New("path is not permitted")
)

// Resolver resolves workspace-relative paths and applies the allow and deny
// globs. Globs use doublestar syntax and match the slash-separated path
// relative to Root, e.g. "src/**/*.go" or "**/.env".
type Resolver struct {
	Root  string
	Allow []string
	Deny  []string
}

// Resolve returns an absolute, cleaned path within the workspace root that
// the policy permits.
func (r Resolver) Resolve(path string) (string, error) {
	abs, rel, err := r.locate(path)
	if err != nil {
		return "", err
	}
	if !r.Permits(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathDenied, rel)
	}
	return abs, nil
}

// ResolveDir is Resolve for directories to walk. Only the deny globs apply:
// allow globs describe files, and a directory is listed so its permitted
// entries can be found.
func (r Resolver) ResolveDir(path string) (string, error) {
	abs, rel, err := r.locate(path)
	if err != nil {
		return "", err
	}
	if rel != "." && matchAny(r.Deny, rel) {
		return "", fmt.Errorf("%w: %s", ErrPathDenied, rel)
	}
	return abs, nil
}

// Permits reports whether a workspace-relative slash path passes the policy.
// Deny wins over allow; an empty allow list permits everything not denied.
func (r Resolver) Permits(rel string) bool {
	rel = filepath.ToSlash(rel)
	if matchAny(r.Deny, rel) {
		return false
	}
	if len(r.Allow) == 0 {
		return true
	}
	return matchAny(r.Allow, rel)
}

// RootDir returns the absolute workspace root.
func (r Resolver) RootDir() (string, error) {
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return rootAbs, nil
}

// Rel returns abs relative to the root in slash form.
func (r Resolver) Rel(abs string) (string, error) {
	rootAbs, err := r.RootDir()
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (r Resolver) locate(path string) (abs, rel string, err error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", "", fmt.Errorf("path is required")
	}
	rootAbs, err := r.RootDir()
	if err != nil {
		return "", "", err
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", "", fmt.Errorf("resolve path: %w", err)
	}
	relPath, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", "", fmt.Errorf("resolve path: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(os.PathSeparator)) {
		return "", "", ErrOutsideWorkspace
	}
	return targetAbs, filepath.ToSlash(relPath), nil
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
