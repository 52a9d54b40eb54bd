// Package tree models a directory as a rooted tree of typed nodes, each
// carrying a content checksum and its POSIX permission bits.
package tree

import (
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"bakker-go/internal/digest"
	"bakker-go/internal/pkg/bkerrors"
)

// Kind discriminates the node variants.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindSymlink
	KindDirectory
)

// String returns the serialized tag of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	case KindDirectory:
		return "directory"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind maps a serialized tag back to its Kind.
func ParseKind(tag string) (Kind, error) {
	switch tag {
	case "file":
		return KindFile, nil
	case "symlink":
		return KindSymlink, nil
	case "directory":
		return KindDirectory, nil
	default:
		return 0, fmt.Errorf("%w: unknown node type %q", bkerrors.ErrFormat, tag)
	}
}

// Node is one entry of a tree. Children is only set for directories and is
// keyed by child name; use SortedChildren whenever order matters.
type Node struct {
	Name        string
	Checksum    string
	Permissions uint32 // POSIX mode bits without the file type, e.g. 0o644
	Kind        Kind
	Children    map[string]*Node
}

// NewFile creates a file node.
func NewFile(name, checksum string, permissions uint32) *Node {
	return &Node{Name: name, Checksum: checksum, Permissions: permissions, Kind: KindFile}
}

// NewSymlink creates a symlink node.
func NewSymlink(name, checksum string, permissions uint32) *Node {
	return &Node{Name: name, Checksum: checksum, Permissions: permissions, Kind: KindSymlink}
}

// NewDirectory creates a directory node and computes its checksum from the
// children's checksums in name order.
func NewDirectory(name string, permissions uint32, children map[string]*Node) *Node {
	if children == nil {
		children = make(map[string]*Node)
	}
	n := &Node{Name: name, Permissions: permissions, Kind: KindDirectory, Children: children}
	n.Checksum = n.childDigest()
	return n
}

func (n *Node) childDigest() string {
	sorted := n.SortedChildren()
	sums := make([]string, len(sorted))
	for i, c := range sorted {
		sums[i] = c.Checksum
	}
	return digest.Directory(sums...)
}

// IsDir reports whether n is a directory node.
func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory
}

// SortedChildren returns the children ordered by name.
func (n *Node) SortedChildren() []*Node {
	children := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, c)
	}
	slices.SortFunc(children, func(a, b *Node) int {
		return strings.Compare(a.Name, b.Name)
	})
	return children
}

// Mode converts the stored POSIX bits into an fs.FileMode suitable for
// os.Chmod and os.Mkdir.
func (n *Node) Mode() fs.FileMode {
	return FileMode(n.Permissions)
}

// Equal reports whether both trees have the same shape, names, kinds,
// checksums and permissions.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Name != o.Name || n.Kind != o.Kind || n.Checksum != o.Checksum || n.Permissions != o.Permissions {
		return false
	}
	if len(n.Children) != len(o.Children) {
		return false
	}
	for name, c := range n.Children {
		if !c.Equal(o.Children[name]) {
			return false
		}
	}
	return true
}

const (
	posixSetuid = 0o4000
	posixSetgid = 0o2000
	posixSticky = 0o1000
)

// ModeBits extracts the POSIX permission bits (including setuid, setgid and
// sticky) from a Go file mode, dropping the file type.
func ModeBits(mode fs.FileMode) uint32 {
	bits := uint32(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		bits |= posixSetuid
	}
	if mode&fs.ModeSetgid != 0 {
		bits |= posixSetgid
	}
	if mode&fs.ModeSticky != 0 {
		bits |= posixSticky
	}
	return bits
}

// FileMode is the inverse of ModeBits.
func FileMode(bits uint32) fs.FileMode {
	mode := fs.FileMode(bits) & fs.ModePerm
	if bits&posixSetuid != 0 {
		mode |= fs.ModeSetuid
	}
	if bits&posixSetgid != 0 {
		mode |= fs.ModeSetgid
	}
	if bits&posixSticky != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}
