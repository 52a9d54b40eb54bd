package bk

import "bakker-go/internal/checkpoint"

// Storage is a backup location with two write-once namespaces: blobs keyed
// by checksum and checkpoints keyed by their Meta string.
//
// Implementations report bkerrors.ErrAlreadyExists and bkerrors.ErrNotFound
// as documented below; any other failure of the underlying medium is
// returned wrapped and is never retried.
type Storage interface {
	// HasBlob reports whether a blob is stored under checksum. A stored
	// symlink counts even when its target does not exist.
	HasBlob(checksum string) (bool, error)

	// StoreBlob copies srcPath into the blob namespace under checksum.
	// Symlinks are stored as symlinks and regular files become read-only.
	// Fails with ErrAlreadyExists, leaving the stored blob untouched, when
	// the checksum is taken. A partially written blob is never visible.
	StoreBlob(srcPath, checksum string) error

	// RetrieveBlob writes the blob to dstPath and applies perm unless the
	// blob is a symlink. Fails with ErrNotFound for an unknown checksum.
	RetrieveBlob(checksum, dstPath string, perm uint32) error

	// StoreCheckpoint persists cp under cp.Meta().String(). Fails with
	// ErrAlreadyExists when that key is taken.
	StoreCheckpoint(cp *checkpoint.Checkpoint) error

	// ListCheckpointMetas returns the metas of all stored checkpoints in no
	// particular order. Unparseable keys are ignored.
	ListCheckpointMetas() ([]checkpoint.Meta, error)

	// LoadCheckpoint returns the checkpoint stored under meta, or nil and
	// no error when there is none.
	LoadCheckpoint(meta checkpoint.Meta) (*checkpoint.Checkpoint, error)
}
