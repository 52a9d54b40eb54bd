package bk

import (
	"io/fs"

	"bakker-go/internal/tree"
)

// Path is a directory path validated by a FilesystemManager: absolute,
// existing, and a directory at the time it was resolved.
type Path struct {
	absPath string
	info    fs.FileInfo
}

// NewPath creates a Path from its components.
// This is primarily for use by FilesystemManager implementations.
func NewPath(absPath string, info fs.FileInfo) *Path {
	return &Path{absPath: absPath, info: info}
}

// String returns the absolute path as a string.
func (p *Path) String() string {
	return p.absPath
}

// Info returns the cached file info from when the path was resolved.
func (p *Path) Info() fs.FileInfo {
	return p.info
}

// FilesystemManager resolves user supplied directories and loads the
// ignore rules that apply below them.
type FilesystemManager interface {
	// ResolveDir makes rawPath absolute and checks that it is an existing
	// directory.
	ResolveDir(rawPath string) (*Path, error)

	// IgnoreMatcher returns the matcher for entries below dir. A nil
	// matcher ignores nothing.
	IgnoreMatcher(dir *Path) (tree.Matcher, error)
}
