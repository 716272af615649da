// Package safeio confines filesystem access to a project directory and
// publishes files and directories atomically.
package safeio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrTraversal is returned when a name escapes the root.
var ErrTraversal = errors.New("safeio: path traversal not allowed")

// ErrNotDir is returned by Dir for an entry that is not a directory.
var ErrNotDir = errors.New("safeio: not a directory")

// SafeFS resolves names relative to a fixed root.
type SafeFS struct {
	absRoot string // absolute, symlinks resolved
}

// NewSafeFS binds a SafeFS to root, which must be an existing directory.
func NewSafeFS(root string) (*SafeFS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("safeio: root %s: %w", abs, ErrNotDir)
	}
	return &SafeFS{absRoot: abs}, nil
}

func (s *SafeFS) Root() string {
	if s == nil {
		return ""
	}
	return s.absRoot
}

// Join returns the path of name under the root without requiring it to
// exist.
func (s *SafeFS) Join(name string) (string, error) {
	if s == nil {
		return "", errors.New("safeio: filesystem not configured")
	}
	clean, err := relative(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.absRoot, clean), nil
}

// Resolve returns the symlink-free path of an existing entry. Entries whose
// symlinks lead outside the root are rejected.
func (s *SafeFS) Resolve(name string) (string, error) {
	p, err := s.Join(name)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	if !within(resolved, s.absRoot) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrTraversal, name, resolved)
	}
	return resolved, nil
}

// Stat returns metadata for an entry under the root.
func (s *SafeFS) Stat(name string) (fs.FileInfo, error) {
	p, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// Dir resolves name and checks that it is a directory.
func (s *SafeFS) Dir(name string) (string, error) {
	p, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", name, ErrNotDir)
	}
	return p, nil
}

// relative cleans name and rejects absolute names and names that climb out
// of the root.
func relative(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("safeio: empty path")
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("safeio: absolute path %q", name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrTraversal
	}
	return clean, nil
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
