package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathOutsideRoot indicates a file name that resolves outside its root directory.
var ErrPathOutsideRoot = errors.New("path is outside the documents directory")

// resolveRoot returns the absolute, symlink-free form of root, creating it
// when missing.
func resolveRoot(root string) (string, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		trimmed = "."
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve documents dir %s: %w", trimmed, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create documents dir %s: %w", abs, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve documents dir symlinks %s: %w", abs, err)
	}
	return filepath.Clean(resolved), nil
}

// resolveUnder joins name onto root and rejects results that escape root,
// following symlinks for the parts of the path that already exist.
func resolveUnder(root, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("file name is required")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, name)
	}

	candidate := filepath.Clean(filepath.Join(root, name))
	resolved, err := resolveExistingPrefix(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	if !isWithin(root, resolved) || resolved == root {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, name)
	}
	return resolved, nil
}

// resolveExistingPrefix evaluates symlinks on the longest existing prefix of
// path and re-appends the missing tail.
func resolveExistingPrefix(path string) (string, error) {
	var missing []string
	candidate := path
	for {
		resolved, err := filepath.EvalSymlinks(candidate)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return filepath.Clean(resolved), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", err
		}
		missing = append(missing, filepath.Base(candidate))
		candidate = parent
	}
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
