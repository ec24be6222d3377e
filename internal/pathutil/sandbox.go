// Package pathutil confines file access requested by tool callers to a set
// of directories.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideSandbox is returned for paths that resolve outside every
// allowed directory.
var ErrOutsideSandbox = errors.New("path is outside allowed directories")

// Sandbox resolves caller-supplied paths against allowed directories.
// Relative paths are taken relative to the first directory.
type Sandbox struct {
	dirs []string
}

// NewSandbox creates a sandbox over dirs. Each directory is made absolute
// and has its symlinks resolved as far as it exists.
func NewSandbox(dirs ...string) (*Sandbox, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("sandbox needs at least one directory")
	}
	resolved := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(filepath.Clean(d))
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", Redact(d), err)
		}
		real, err := resolveExisting(abs)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, real)
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("sandbox needs at least one directory")
	}
	return &Sandbox{dirs: resolved}, nil
}

// Dirs returns the resolved allowed directories.
func (s *Sandbox) Dirs() []string {
	return append([]string(nil), s.dirs...)
}

// Resolve returns the absolute, symlink-resolved form of path, or an error
// if it escapes the sandbox. The file need not exist.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("path contains null byte")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dirs[0], path)
	}
	abs := filepath.Clean(path)

	// The file may not exist yet; resolve its directory.
	dir, err := resolveExisting(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	real := filepath.Join(dir, filepath.Base(abs))
	if info, err := os.Lstat(real); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if real, err = filepath.EvalSymlinks(real); err != nil {
			return "", fmt.Errorf("resolve %s: %w", Redact(abs), err)
		}
	}

	for _, allowed := range s.dirs {
		if within(real, allowed) {
			return real, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, Redact(abs))
}

// Redact reduces a path to .../<parent>/<basename> for error messages.
func Redact(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	base := filepath.Base(cleaned)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// dir and re-appends the missing tail.
func resolveExisting(dir string) (string, error) {
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		return real, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve %s", Redact(dir))
	}
	real, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(real, filepath.Base(dir)), nil
}

func within(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}
