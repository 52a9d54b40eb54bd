// Package fs resolves user supplied paths and loads ignore rules.
package fs

import (
	"fmt"
	"os"
	"path/filepath"

	"bakker-go/internal/bk"
	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/tree"
)

// IgnoreFileName is the per-directory file holding ignore patterns.
const IgnoreFileName = ".bakkerignore"

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct {
	// patterns apply to every directory in addition to its ignore file.
	patterns []string
}

// NewOSFilesystemManager creates a filesystem manager that operates on the
// real filesystem. patterns are ignore patterns applied everywhere.
func NewOSFilesystemManager(patterns ...string) *OSFilesystemManager {
	return &OSFilesystemManager{patterns: patterns}
}

// ResolveDir validates a raw path and returns a Path object.
// The path is made absolute and must be an existing directory; a symlink to
// a directory is accepted and resolved.
func (m *OSFilesystemManager) ResolveDir(rawPath string) (*bk.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", bkerrors.ErrInvalidArgument, absPath)
	}

	return bk.NewPath(absPath, info), nil
}

// IgnoreMatcher combines the manager's patterns with the ignore file at the
// top of dir. It returns nil when there is nothing to ignore.
func (m *OSFilesystemManager) IgnoreMatcher(dir *bk.Path) (tree.Matcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(dir.String(), IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := NewIgnoreMatcher(append(append([]string(nil), m.patterns...), fromFile...))
	if matcher.Empty() {
		return nil, nil
	}
	return matcher, nil
}

// Compile-time check that OSFilesystemManager implements bk.FilesystemManager interface
var _ bk.FilesystemManager = (*OSFilesystemManager)(nil)
