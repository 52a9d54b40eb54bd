package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ignoreRule is one parsed line of an ignore file.
type ignoreRule struct {
	pattern  string
	anchored bool // matched against the whole relative path instead of the basename
	negate   bool // a match re-includes the entry
}

// IgnoreMatcher decides which entries below a directory are left out of a
// checkpoint. Rules are evaluated in order and the last matching rule wins:
//
//	*.log        any entry whose name matches, at any depth
//	build/out    the exact relative path (a rule containing '/' is anchored)
//	/notes.txt   only notes.txt at the top level
//	!keep.log    re-include entries an earlier rule ignored
//
// An ignored directory is skipped with everything below it.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher parses raw ignore lines. Blank lines, comments starting
// with '#' and malformed glob patterns are dropped.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	var rules []ignoreRule
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var r ignoreRule
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			r.negate = true
			line = rest
		}
		line = strings.TrimSuffix(line, "/")
		if rest, ok := strings.CutPrefix(line, "/"); ok {
			r.anchored = true
			line = rest
		}
		if strings.Contains(line, "/") {
			r.anchored = true
		}
		if line == "" {
			continue
		}
		if _, err := path.Match(line, ""); err != nil {
			continue
		}
		r.pattern = line
		rules = append(rules, r)
	}
	return &IgnoreMatcher{rules: rules}
}

// Empty reports whether the matcher has no rules.
func (m *IgnoreMatcher) Empty() bool {
	return len(m.rules) == 0
}

// Match reports whether relativePath is ignored. Both '/' and the OS
// separator are accepted.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	rel := filepath.ToSlash(relativePath)
	if rel == "" || rel == "." {
		return false
	}
	base := path.Base(rel)

	ignored := false
	for _, r := range m.rules {
		subject := base
		if r.anchored {
			subject = rel
		}
		if ok, _ := path.Match(r.pattern, subject); ok {
			ignored = !r.negate
		}
	}
	return ignored
}

// ParseIgnoreFile reads the raw lines of an ignore file. A missing file
// yields no lines and no error.
func ParseIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
