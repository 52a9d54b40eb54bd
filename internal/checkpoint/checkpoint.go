// Package checkpoint wraps a tree with the time it was taken and an optional
// name, and derives the Meta identity used to address it in storage.
package checkpoint

import (
	"fmt"
	"iter"
	"path"
	"regexp"
	"time"

	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/tree"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Clock supplies the creation time of new checkpoints.
type Clock interface {
	Now() time.Time
}

// Checkpoint is an immutable snapshot of a directory tree.
type Checkpoint struct {
	Root *tree.Node
	Time time.Time
	Name string // empty means unnamed
}

// ValidateName reports whether name may label a checkpoint. The empty name
// is valid and means "no name".
func ValidateName(name string) error {
	if name == "" || namePattern.MatchString(name) {
		return nil
	}
	return fmt.Errorf("%w: invalid checkpoint name %q: only letters, digits, '_', '.' and '-' are allowed", bkerrors.ErrInvalidArgument, name)
}

// Naive drops the time zone of t, keeping its wall clock reading truncated to
// microseconds. Checkpoint times are always naive so that they survive the
// zone-less text encoding unchanged.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(),
		t.Nanosecond()/1000*1000, time.UTC)
}

// New assembles a checkpoint from an already built tree.
func New(root *tree.Node, t time.Time, name string) (*Checkpoint, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: checkpoint needs a root", bkerrors.ErrInvalidArgument)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Checkpoint{Root: root, Time: Naive(t), Name: name}, nil
}

// Build walks dir with b and stamps the result with clock's current time.
// The name is validated before the filesystem is touched.
func Build(dir, name string, b *tree.Builder, clock Clock) (*Checkpoint, *tree.BuildResult, error) {
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}
	root, result, err := b.Build(dir, "")
	if err != nil {
		return nil, nil, fmt.Errorf("building tree: %w", err)
	}
	cp, err := New(root, clock.Now(), name)
	if err != nil {
		return nil, nil, err
	}
	return cp, result, nil
}

// Meta returns the identity of the checkpoint.
func (c *Checkpoint) Meta() Meta {
	return Meta{Checksum: c.Root.Checksum, Time: c.Time, Name: c.Name}
}

// All yields every node of the checkpoint together with its '/'-joined path
// relative to the root. The root yields "". Nodes are visited depth first,
// parents before their children, siblings in name order. The sequence can be
// ranged over any number of times.
func (c *Checkpoint) All() iter.Seq2[*tree.Node, string] {
	return func(yield func(*tree.Node, string) bool) {
		visit(c.Root, "", yield)
	}
}

func visit(n *tree.Node, rel string, yield func(*tree.Node, string) bool) bool {
	if !yield(n, rel) {
		return false
	}
	if n.Kind != tree.KindDirectory {
		return true
	}
	for _, child := range n.SortedChildren() {
		if !visit(child, path.Join(rel, child.Name), yield) {
			return false
		}
	}
	return true
}

// Walk calls fn for every node in the order of All and stops at the first
// error, which it returns.
func (c *Checkpoint) Walk(fn func(n *tree.Node, rel string) error) error {
	for n, rel := range c.All() {
		if err := fn(n, rel); err != nil {
			return err
		}
	}
	return nil
}
