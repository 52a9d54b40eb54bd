package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FixtureEntries is the number of top-level entries created by NewFixture.
const FixtureEntries = 6

// NewFixture creates a small directory tree under a fresh temp dir and
// returns its path:
//
//	100000_lines.md            0644, several 64 KiB blocks
//	100000_lines_symlink       -> 100000_lines.md
//	empty.txt                  0600, zero bytes
//	script.sh                  0755
//	broken_symlink             -> does-not-exist
//	folder1/                   0755
//	  duplicate.md             0640, same bytes as 100000_lines.md
//	  folder3/                 0750
//	    folder8/               0700
//	      hello-2.10.tar.gz    0444, random bytes
func NewFixture(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "fixture")

	var lines strings.Builder
	for i := 0; i < 100000; i++ {
		lines.WriteString("line of markdown text\n")
	}
	big := []byte(lines.String())

	random := make([]byte, 150*1024)
	rand.New(rand.NewSource(7)).Read(random)

	MkdirAll(t, filepath.Join(root, "folder1", "folder3", "folder8"))
	WriteFile(t, filepath.Join(root, "100000_lines.md"), big, 0644)
	Symlink(t, "100000_lines.md", filepath.Join(root, "100000_lines_symlink"))
	WriteFile(t, filepath.Join(root, "empty.txt"), nil, 0600)
	WriteFile(t, filepath.Join(root, "script.sh"), []byte("#!/bin/sh\necho hello\n"), 0755)
	Symlink(t, "does-not-exist", filepath.Join(root, "broken_symlink"))
	WriteFile(t, filepath.Join(root, "folder1", "duplicate.md"), big, 0640)
	WriteFile(t, filepath.Join(root, "folder1", "folder3", "folder8", "hello-2.10.tar.gz"), random, 0444)

	Chmod(t, filepath.Join(root, "folder1", "folder3", "folder8"), 0700)
	Chmod(t, filepath.Join(root, "folder1", "folder3"), 0750)
	Chmod(t, filepath.Join(root, "folder1"), 0755)
	return root
}

// MkdirAll creates dir and its parents or fails the test.
func MkdirAll(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
}

// WriteFile writes data to path and forces perm regardless of umask.
func WriteFile(t *testing.T, path string, data []byte, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	Chmod(t, path, perm)
}

// Symlink creates a symlink at link pointing to target.
func Symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("creating symlink %s: %v", link, err)
	}
}

// Chmod sets perm on path or fails the test.
func Chmod(t *testing.T, path string, perm os.FileMode) {
	t.Helper()
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("chmod %s: %v", path, err)
	}
}
