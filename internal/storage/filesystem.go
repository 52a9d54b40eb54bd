// Package storage implements bk.Storage on a local directory and in memory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"bakker-go/internal/bk"
	"bakker-go/internal/checkpoint"
	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/tree"
)

const checkpointExt = ".json"

// FileSystemStorage keeps blobs and checkpoints in a directory:
//
//	<root>/
//	  files/
//	    <checksum>             (regular files are 0400; symlinks stay links)
//	  checkpoints/
//	    <meta>.json            (checkpoint documents)
//
// Both subdirectories are created on first write.
type FileSystemStorage struct {
	root           string
	filesDir       string
	checkpointsDir string
}

// NewFileSystemStorage returns a storage rooted at root.
func NewFileSystemStorage(root string) *FileSystemStorage {
	return &FileSystemStorage{
		root:           root,
		filesDir:       filepath.Join(root, "files"),
		checkpointsDir: filepath.Join(root, "checkpoints"),
	}
}

// Root returns the storage root directory.
func (s *FileSystemStorage) Root() string {
	return s.root
}

func (s *FileSystemStorage) blobPath(checksum string) string {
	return filepath.Join(s.filesDir, checksum)
}

func (s *FileSystemStorage) checkpointPath(meta checkpoint.Meta) string {
	return filepath.Join(s.checkpointsDir, meta.String()+checkpointExt)
}

// HasBlob reports whether a blob is stored under checksum.
func (s *FileSystemStorage) HasBlob(checksum string) (bool, error) {
	_, err := os.Lstat(s.blobPath(checksum))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}

// StoreBlob copies srcPath into the blob namespace under checksum.
//
// Regular files are written to a temp file first and then hard linked to
// their final name, which fails if the name is taken; two racing writers
// therefore end with one success and one ErrAlreadyExists.
func (s *FileSystemStorage) StoreBlob(srcPath, checksum string) error {
	if has, err := s.HasBlob(checksum); err != nil {
		return err
	} else if has {
		return fmt.Errorf("%w: blob %s", bkerrors.ErrAlreadyExists, checksum)
	}

	info, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err := os.MkdirAll(s.filesDir, 0755); err != nil {
		return fmt.Errorf("creating files directory: %w", err)
	}

	dst := s.blobPath(checksum)
	switch mode := info.Mode(); {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("reading symlink: %w", err)
		}
		if err := os.Symlink(target, dst); err != nil {
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%w: blob %s", bkerrors.ErrAlreadyExists, checksum)
			}
			return fmt.Errorf("creating symlink blob: %w", err)
		}
		return nil
	case mode.IsRegular():
		return s.storeRegular(srcPath, dst, checksum)
	default:
		return fmt.Errorf("%w: cannot store %s of type %s", bkerrors.ErrInvalidArgument, srcPath, mode.Type())
	}
}

func (s *FileSystemStorage) storeRegular(srcPath, dst, checksum string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.filesDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Chmod(0400); err != nil {
		tmp.Close()
		return fmt.Errorf("setting blob permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Link(tmpPath, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: blob %s", bkerrors.ErrAlreadyExists, checksum)
		}
		return fmt.Errorf("linking blob: %w", err)
	}
	return nil
}

// RetrieveBlob writes the blob stored under checksum to dstPath.
func (s *FileSystemStorage) RetrieveBlob(checksum, dstPath string, perm uint32) error {
	src := s.blobPath(checksum)
	info, err := os.Lstat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: blob %s", bkerrors.ErrNotFound, checksum)
		}
		return fmt.Errorf("stat blob: %w", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("reading symlink blob: %w", err)
		}
		if err := os.Symlink(target, dstPath); err != nil {
			return fmt.Errorf("creating symlink: %w", err)
		}
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening blob: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	if err := os.Chmod(dstPath, tree.FileMode(perm)); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	return nil
}

// StoreCheckpoint writes cp as an indented JSON document. The file appears
// atomically under its final name.
func (s *FileSystemStorage) StoreCheckpoint(cp *checkpoint.Checkpoint) error {
	path := s.checkpointPath(cp.Meta())
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: checkpoint %s", bkerrors.ErrAlreadyExists, cp.Meta())
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat checkpoint: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := os.MkdirAll(s.checkpointsDir, 0755); err != nil {
		return fmt.Errorf("creating checkpoints directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// ListCheckpointMetas parses the names in the checkpoints directory.
func (s *FileSystemStorage) ListCheckpointMetas() ([]checkpoint.Meta, error) {
	entries, err := os.ReadDir(s.checkpointsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoints directory: %w", err)
	}

	var metas []checkpoint.Meta
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		meta, err := checkpoint.ParseMeta(strings.TrimSuffix(name, checkpointExt))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// LoadCheckpoint reads the checkpoint stored under meta.
func (s *FileSystemStorage) LoadCheckpoint(meta checkpoint.Meta) (*checkpoint.Checkpoint, error) {
	data, err := os.ReadFile(s.checkpointPath(meta))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	cp, err := checkpoint.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", meta, err)
	}
	return cp, nil
}

// Compile-time check that FileSystemStorage implements bk.Storage interface
var _ bk.Storage = (*FileSystemStorage)(nil)
