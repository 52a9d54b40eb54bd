// Package cache remembers where on local disk content with a given checksum
// can be found, so a restore can move or copy it instead of reading it from
// storage.
package cache

import (
	"fmt"
	"path/filepath"
	"sync"

	"bakker-go/internal/checkpoint"
	"bakker-go/internal/tree"
)

// Entry is a known location of content.
//
// Moved is false while Path is the location the content was indexed at.
// Once the content has been relocated, Moved is true and consumers must copy
// from Path rather than move it again.
type Entry struct {
	Path  string
	Moved bool
}

// Index is the checksum -> Entry mapping behind a Cache.
type Index interface {
	Get(checksum string) (Entry, bool, error)
	Put(checksum string, e Entry) error
	Len() (int, error)
	Each(fn func(checksum string, e Entry) error) error
	Clear() error
}

// Cache is the lookup utility over an Index.
type Cache struct {
	index Index
}

// New returns a cache over an existing index.
func New(index Index) *Cache {
	return &Cache{index: index}
}

// BuildFrom indexes every file and symlink below dir, replacing whatever
// index held before. When several entries share a checksum the first one in
// traversal order is kept.
func BuildFrom(dir string, b *tree.Builder, index Index) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	root, _, err := b.Build(abs, "")
	if err != nil {
		return nil, fmt.Errorf("building tree: %w", err)
	}
	if err := index.Clear(); err != nil {
		return nil, fmt.Errorf("clearing index: %w", err)
	}

	seen := make(map[string]bool)
	cp := &checkpoint.Checkpoint{Root: root}
	err = cp.Walk(func(n *tree.Node, rel string) error {
		if n.Kind == tree.KindDirectory || seen[n.Checksum] {
			return nil
		}
		seen[n.Checksum] = true
		return index.Put(n.Checksum, Entry{Path: filepath.Join(abs, filepath.FromSlash(rel))})
	})
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", abs, err)
	}
	return New(index), nil
}

// Lookup returns the entry for checksum, if any.
func (c *Cache) Lookup(checksum string) (Entry, bool, error) {
	return c.index.Get(checksum)
}

// Relocate records that the content for checksum now lives at newPath.
func (c *Cache) Relocate(checksum, newPath string) error {
	return c.index.Put(checksum, Entry{Path: newPath, Moved: true})
}

// Len returns the number of indexed checksums.
func (c *Cache) Len() (int, error) {
	return c.index.Len()
}

// MemoryIndex is an in-memory Index. It is safe for concurrent use.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func (m *MemoryIndex) Get(checksum string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[checksum]
	return e, ok, nil
}

func (m *MemoryIndex) Put(checksum string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[checksum] = e
	return nil
}

func (m *MemoryIndex) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) Each(fn func(checksum string, e Entry) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for sum, e := range m.entries {
		if err := fn(sum, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryIndex) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}

// Compile-time check that MemoryIndex implements Index interface
var _ Index = (*MemoryIndex)(nil)
