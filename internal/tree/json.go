package tree

import (
	"encoding/json"
	"fmt"
	"strings"

	"bakker-go/internal/pkg/bkerrors"
)

// record is the serialized form of a Node.
type record struct {
	Name        string     `json:"name"`
	Checksum    string     `json:"checksum"`
	Permissions uint32     `json:"permissions"`
	Type        string     `json:"type"`
	Children    *[]*record `json:"children,omitempty"`
}

// MarshalJSON encodes the node and its subtree. Children are written in name
// order so identical trees serialize identically.
func (n *Node) MarshalJSON() ([]byte, error) {
	rec, err := toRecord(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes a node and its subtree. Children may appear in any
// order; an unknown type tag is an ErrFormat.
func (n *Node) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: decoding node: %v", bkerrors.ErrFormat, err)
	}
	node, err := fromRecord(&rec)
	if err != nil {
		return err
	}
	*n = *node
	return nil
}

func toRecord(n *Node) (*record, error) {
	rec := &record{
		Name:        n.Name,
		Checksum:    n.Checksum,
		Permissions: n.Permissions,
		Type:        n.Kind.String(),
	}

	switch n.Kind {
	case KindFile, KindSymlink:
	case KindDirectory:
		children := make([]*record, 0, len(n.Children))
		for _, c := range n.SortedChildren() {
			cr, err := toRecord(c)
			if err != nil {
				return nil, err
			}
			children = append(children, cr)
		}
		rec.Children = &children
	default:
		return nil, fmt.Errorf("%w: cannot encode node %q of kind %s", bkerrors.ErrFormat, n.Name, n.Kind)
	}
	return rec, nil
}

func fromRecord(rec *record) (*Node, error) {
	kind, err := ParseKind(rec.Type)
	if err != nil {
		return nil, err
	}
	if rec.Checksum == "" {
		return nil, fmt.Errorf("%w: node %q has no checksum", bkerrors.ErrFormat, rec.Name)
	}

	switch kind {
	case KindFile, KindSymlink:
		if rec.Children != nil {
			return nil, fmt.Errorf("%w: %s node %q has children", bkerrors.ErrFormat, kind, rec.Name)
		}
		return &Node{Name: rec.Name, Checksum: rec.Checksum, Permissions: rec.Permissions, Kind: kind}, nil
	case KindDirectory:
		var recs []*record
		if rec.Children != nil {
			recs = *rec.Children
		}
		children := make(map[string]*Node, len(recs))
		for _, cr := range recs {
			if cr == nil {
				return nil, fmt.Errorf("%w: null child in directory %q", bkerrors.ErrFormat, rec.Name)
			}
			if err := validChildName(cr.Name); err != nil {
				return nil, err
			}
			if _, dup := children[cr.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate child %q in directory %q", bkerrors.ErrFormat, cr.Name, rec.Name)
			}
			child, err := fromRecord(cr)
			if err != nil {
				return nil, err
			}
			children[cr.Name] = child
		}
		return &Node{
			Name:        rec.Name,
			Checksum:    rec.Checksum,
			Permissions: rec.Permissions,
			Kind:        kind,
			Children:    children,
		}, nil
	}
	panic("unreachable")
}

// validChildName rejects names that would escape the parent directory on
// restore.
func validChildName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: invalid child name %q", bkerrors.ErrFormat, name)
	}
	return nil
}
