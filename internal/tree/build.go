package tree

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"bakker-go/internal/digest"
	"bakker-go/internal/pkg/bkerrors"
)

// Logger receives diagnostics about entries left out of a build.
type Logger interface {
	Warn(msg string, args ...any)
}

// Matcher decides whether a path, relative to the build root and joined
// with '/', is left out of the tree.
type Matcher interface {
	Match(relativePath string) bool
}

// SkippedEntry records an entry that could not be represented in the tree.
type SkippedEntry struct {
	Path   string
	Reason string
}

// BuildResult reports what a build left out. Skipped entries are unsupported
// or unreadable; ignored entries matched the Builder's Matcher.
type BuildResult struct {
	Skipped []SkippedEntry
	Ignored []string
}

// Builder turns a live directory into a tree.
//
// Files and symlinks inside one directory are hashed by up to Workers
// goroutines; a directory's checksum is computed once all of its children
// are done. Workers <= 1 hashes sequentially.
type Builder struct {
	Logger  Logger
	Ignore  Matcher
	Workers int
}

// NewBuilder returns a sequential Builder that logs to logger.
func NewBuilder(logger Logger) *Builder {
	return &Builder{Logger: logger, Workers: 1}
}

// buildState collects the result of one Build call across goroutines.
type buildState struct {
	mu     sync.Mutex
	result BuildResult
}

func (s *buildState) skip(b *Builder, rel string, err error) {
	s.mu.Lock()
	s.result.Skipped = append(s.result.Skipped, SkippedEntry{Path: rel, Reason: err.Error()})
	s.mu.Unlock()
	if b.Logger != nil {
		b.Logger.Warn("entry skipped", "path", rel, "reason", err.Error())
	}
}

func (s *buildState) ignore(rel string) {
	s.mu.Lock()
	s.result.Ignored = append(s.result.Ignored, rel)
	s.mu.Unlock()
}

// Build builds the tree rooted at root, naming the root node name.
// Failure to read root itself is returned as an error; anything below it
// that cannot be represented is skipped and listed in the result.
func (b *Builder) Build(root, name string) (*Node, *BuildResult, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", root, err)
	}

	state := &buildState{}
	node, err := b.build(state, root, "", name, info)
	if err != nil {
		return nil, nil, err
	}

	slices.SortFunc(state.result.Skipped, func(a, b SkippedEntry) int {
		return strings.Compare(a.Path, b.Path)
	})
	slices.Sort(state.result.Ignored)
	return node, &state.result, nil
}

func (b *Builder) build(state *buildState, abs, rel, name string, info fs.FileInfo) (*Node, error) {
	mode := info.Mode()
	perm := ModeBits(mode)

	switch {
	case mode&fs.ModeSymlink != 0:
		sum, err := digest.Symlink(abs)
		if err != nil {
			return nil, err
		}
		return NewSymlink(name, sum, perm), nil
	case mode.IsRegular():
		sum, err := digest.File(abs)
		if err != nil {
			return nil, err
		}
		return NewFile(name, sum, perm), nil
	case mode.IsDir():
		return b.buildDirectory(state, abs, rel, name, perm)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %s: %s", bkerrors.ErrInvalidArgument, mode.Type(), abs)
	}
}

func (b *Builder) buildDirectory(state *buildState, abs, rel, name string, perm uint32) (*Node, error) {
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", abs, err)
	}

	var mu sync.Mutex
	children := make(map[string]*Node, len(entries))
	add := func(child *Node) {
		mu.Lock()
		children[child.Name] = child
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(max(b.Workers, 1))

	for _, entry := range entries {
		childName := entry.Name()
		childAbs := filepath.Join(abs, childName)
		childRel := path.Join(rel, childName)

		if b.Ignore != nil && b.Ignore.Match(childRel) {
			state.ignore(childRel)
			continue
		}

		info, err := os.Lstat(childAbs)
		if err != nil {
			state.skip(b, childRel, err)
			continue
		}

		if info.IsDir() {
			child, err := b.buildDirectory(state, childAbs, childRel, childName, ModeBits(info.Mode()))
			if err != nil {
				state.skip(b, childRel, err)
				continue
			}
			add(child)
			continue
		}

		g.Go(func() error {
			child, err := b.build(state, childAbs, childRel, childName, info)
			if err != nil {
				state.skip(b, childRel, err)
				return nil
			}
			add(child)
			return nil
		})
	}
	// Leaf failures are recorded as skips, so the group never fails.
	_ = g.Wait()

	return NewDirectory(name, perm, children), nil
}
