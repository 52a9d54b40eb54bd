package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"bakker-go/internal/bk"
	"bakker-go/internal/checkpoint"
	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/tree"
)

type memoryBlob struct {
	data    []byte
	symlink bool
	target  string
}

// MemoryStorage is an in-memory implementation of the Storage interface.
// Blobs are read from and written to the real filesystem, but what is
// stored lives in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryStorage struct {
	mu          sync.RWMutex
	blobs       map[string]memoryBlob
	checkpoints map[string][]byte // meta string -> JSON document
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blobs:       make(map[string]memoryBlob),
		checkpoints: make(map[string][]byte),
	}
}

// BlobCount returns the number of distinct blobs stored.
func (m *MemoryStorage) BlobCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// HasBlob reports whether a blob is stored under checksum.
func (m *MemoryStorage) HasBlob(checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[checksum]
	return ok, nil
}

// StoreBlob reads srcPath into memory under checksum.
func (m *MemoryStorage) StoreBlob(srcPath, checksum string) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	var blob memoryBlob
	switch mode := info.Mode(); {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("reading symlink: %w", err)
		}
		blob = memoryBlob{symlink: true, target: target}
	case mode.IsRegular():
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return fmt.Errorf("reading source: %w", err)
		}
		blob = memoryBlob{data: data}
	default:
		return fmt.Errorf("%w: cannot store %s of type %s", bkerrors.ErrInvalidArgument, srcPath, mode.Type())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[checksum]; ok {
		return fmt.Errorf("%w: blob %s", bkerrors.ErrAlreadyExists, checksum)
	}
	m.blobs[checksum] = blob
	return nil
}

// RetrieveBlob writes the blob stored under checksum to dstPath.
func (m *MemoryStorage) RetrieveBlob(checksum, dstPath string, perm uint32) error {
	m.mu.RLock()
	blob, ok := m.blobs[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: blob %s", bkerrors.ErrNotFound, checksum)
	}

	if blob.symlink {
		if err := os.Symlink(blob.target, dstPath); err != nil {
			return fmt.Errorf("creating symlink: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(dstPath, blob.data, 0600); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	if err := os.Chmod(dstPath, tree.FileMode(perm)); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	return nil
}

// StoreCheckpoint keeps the encoded checkpoint under its meta string.
func (m *MemoryStorage) StoreCheckpoint(cp *checkpoint.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	key := cp.Meta().String()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkpoints[key]; ok {
		return fmt.Errorf("%w: checkpoint %s", bkerrors.ErrAlreadyExists, key)
	}
	m.checkpoints[key] = data
	return nil
}

// ListCheckpointMetas returns the metas of all stored checkpoints.
func (m *MemoryStorage) ListCheckpointMetas() ([]checkpoint.Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metas := make([]checkpoint.Meta, 0, len(m.checkpoints))
	for key := range m.checkpoints {
		meta, err := checkpoint.ParseMeta(key)
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// LoadCheckpoint decodes the checkpoint stored under meta.
func (m *MemoryStorage) LoadCheckpoint(meta checkpoint.Meta) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	data, ok := m.checkpoints[meta.String()]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	cp, err := checkpoint.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", meta, err)
	}
	return cp, nil
}

// Compile-time check that MemoryStorage implements bk.Storage interface
var _ bk.Storage = (*MemoryStorage)(nil)
