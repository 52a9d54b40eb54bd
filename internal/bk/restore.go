package bk

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"bakker-go/internal/cache"
	"bakker-go/internal/checkpoint"
	"bakker-go/internal/digest"
	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/tree"
)

// List returns the metas of all stored checkpoints, oldest first.
func (s *Service) List() ([]checkpoint.Meta, error) {
	metas, err := s.storage.ListCheckpointMetas()
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	slices.SortFunc(metas, func(a, b checkpoint.Meta) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.String(), b.String())
	})
	return metas, nil
}

// Retrieve restores the checkpoint identified by meta into dstDir.
func (s *Service) Retrieve(dstDir string, meta checkpoint.Meta) error {
	return s.retrieve(dstDir, meta, nil)
}

// RetrieveWithCache is Retrieve, except that files and symlinks already
// present in c are taken from disk instead of from storage. An entry that
// was never moved is renamed into place and relocated in c; a moved entry
// is copied. Entries whose content no longer matches their checksum are
// ignored.
func (s *Service) RetrieveWithCache(dstDir string, meta checkpoint.Meta, c *cache.Cache) error {
	return s.retrieve(dstDir, meta, c)
}

// RetrieveByChecksum restores the only checkpoint whose checksum starts
// with prefix. It fails with ErrNotFound when none does and with
// ErrAmbiguousMatch when several do.
func (s *Service) RetrieveByChecksum(dstDir, prefix string) (checkpoint.Meta, error) {
	meta, err := s.FindByChecksum(prefix)
	if err != nil {
		return checkpoint.Meta{}, err
	}
	return meta, s.Retrieve(dstDir, meta)
}

// RetrieveByName restores the only checkpoint named name, with the same
// failure policy as RetrieveByChecksum.
func (s *Service) RetrieveByName(dstDir, name string) (checkpoint.Meta, error) {
	meta, err := s.FindByName(name)
	if err != nil {
		return checkpoint.Meta{}, err
	}
	return meta, s.Retrieve(dstDir, meta)
}

// RetrieveByIdentifier restores the checkpoint Resolve picks for id.
func (s *Service) RetrieveByIdentifier(dstDir, id string) (checkpoint.Meta, error) {
	meta, err := s.Resolve(id)
	if err != nil {
		return checkpoint.Meta{}, err
	}
	return meta, s.Retrieve(dstDir, meta)
}

// FindByChecksum returns the only checkpoint whose checksum starts with
// prefix.
func (s *Service) FindByChecksum(prefix string) (checkpoint.Meta, error) {
	if prefix == "" {
		return checkpoint.Meta{}, fmt.Errorf("%w: empty checksum prefix", bkerrors.ErrInvalidArgument)
	}
	return s.findOne("checksum prefix", prefix, func(m checkpoint.Meta) bool {
		return strings.HasPrefix(m.Checksum, prefix)
	})
}

// FindByName returns the only checkpoint named name.
func (s *Service) FindByName(name string) (checkpoint.Meta, error) {
	if name == "" {
		return checkpoint.Meta{}, fmt.Errorf("%w: empty checkpoint name", bkerrors.ErrInvalidArgument)
	}
	return s.findOne("name", name, func(m checkpoint.Meta) bool {
		return m.Name == name
	})
}

// Resolve treats id as a checksum prefix and, if no checkpoint matches it,
// as a name. An ambiguous prefix is not retried as a name.
func (s *Service) Resolve(id string) (checkpoint.Meta, error) {
	meta, err := s.FindByChecksum(id)
	if errors.Is(err, bkerrors.ErrNotFound) {
		return s.FindByName(id)
	}
	return meta, err
}

// LookupError reports that a restore identifier did not pick exactly one
// checkpoint. Err wraps ErrNotFound, ErrAmbiguousMatch or the storage failure
// hit while listing.
type LookupError struct {
	ID  string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("looking up checkpoint %q: %v", e.ID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Restore resolves id and restores the checkpoint into dst. A non-nil c is
// used as in RetrieveWithCache. Resolution failures are *LookupError.
func (s *Service) Restore(dst *Path, id string, c *cache.Cache) (checkpoint.Meta, error) {
	op := s.idgen.New()
	s.logger.Info("restore started", "op", op, "path", dst.String(), "identifier", id, "cache", c != nil)
	meta, err := s.Resolve(id)
	if err != nil {
		return checkpoint.Meta{}, &LookupError{ID: id, Err: err}
	}
	if err := s.retrieve(dst.String(), meta, c); err != nil {
		return checkpoint.Meta{}, err
	}
	s.logger.Info("restore complete", "op", op, "checkpoint", meta.String())
	return meta, nil
}

func (s *Service) findOne(kind, value string, match func(checkpoint.Meta) bool) (checkpoint.Meta, error) {
	metas, err := s.List()
	if err != nil {
		return checkpoint.Meta{}, err
	}
	var found []checkpoint.Meta
	for _, m := range metas {
		if match(m) {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return checkpoint.Meta{}, fmt.Errorf("%w: no checkpoint matches %s %q", bkerrors.ErrNotFound, kind, value)
	case 1:
		return found[0], nil
	default:
		return checkpoint.Meta{}, fmt.Errorf("%w: %d checkpoints match %s %q", bkerrors.ErrAmbiguousMatch, len(found), kind, value)
	}
}

func (s *Service) retrieve(dstDir string, meta checkpoint.Meta, c *cache.Cache) error {
	cp, err := s.storage.LoadCheckpoint(meta)
	if err != nil {
		return fmt.Errorf("loading checkpoint %s: %w", meta, err)
	}
	if cp == nil {
		return fmt.Errorf("%w: checkpoint %s", bkerrors.ErrNotFound, meta)
	}

	// Directories are created writable and get their own permissions once
	// everything below them is in place, children before parents, so that
	// read-only directories can still be filled. Directories that already
	// existed keep their mode.
	type dirPerm struct {
		path string
		perm uint32
	}
	var dirs []dirPerm

	err = cp.Walk(func(n *tree.Node, rel string) error {
		target := filepath.Join(dstDir, filepath.FromSlash(rel))
		switch n.Kind {
		case tree.KindDirectory:
			created, err := mkdir(target, rel == "")
			if err != nil {
				return err
			}
			if created {
				dirs = append(dirs, dirPerm{target, n.Permissions})
			}
			return nil
		case tree.KindFile, tree.KindSymlink:
			if c != nil {
				done, err := s.fromCache(c, n, target)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
			if err := s.storage.RetrieveBlob(n.Checksum, target, n.Permissions); err != nil {
				return fmt.Errorf("retrieving %s: %w", rel, err)
			}
			return nil
		default:
			panic(fmt.Sprintf("unexpected node kind %s", n.Kind))
		}
	})
	if err != nil {
		return err
	}

	for _, d := range slices.Backward(dirs) {
		if err := os.Chmod(d.path, tree.FileMode(d.perm)); err != nil {
			return fmt.Errorf("setting permissions on %s: %w", d.path, err)
		}
	}

	s.logger.Info("checkpoint retrieved", "checkpoint", meta.String(), "path", dstDir)
	return nil
}

// mkdir creates dir with owner access only and reports whether it did. An
// existing directory is accepted and left as it is; the root may also be
// created along with its parents.
func mkdir(dir string, root bool) (bool, error) {
	var err error
	if root {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return false, nil
		}
		err = os.MkdirAll(dir, 0700)
	} else {
		err = os.Mkdir(dir, 0700)
	}
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrExist) {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return false, nil
		}
	}
	return false, fmt.Errorf("creating directory: %w", err)
}

// fromCache tries to materialize n at target from a cached copy and reports
// whether it did.
func (s *Service) fromCache(c *cache.Cache, n *tree.Node, target string) (bool, error) {
	entry, ok, err := c.Lookup(n.Checksum)
	if err != nil {
		return false, fmt.Errorf("looking up %s in cache: %w", n.Checksum, err)
	}
	if !ok || !cachedMatches(n, entry.Path) {
		return false, nil
	}

	if !entry.Moved {
		if err := os.Rename(entry.Path, target); err != nil {
			// Cross-device renames and the like fall back to storage.
			s.logger.Debug("cache move failed", "checksum", n.Checksum, "path", entry.Path, "error", err)
			return false, nil
		}
		if err := c.Relocate(n.Checksum, target); err != nil {
			return false, fmt.Errorf("relocating %s in cache: %w", n.Checksum, err)
		}
	} else if err := copyEntry(n.Kind, entry.Path, target); err != nil {
		return false, fmt.Errorf("copying cached %s: %w", entry.Path, err)
	}

	if n.Kind == tree.KindFile {
		if err := os.Chmod(target, n.Mode()); err != nil {
			return false, fmt.Errorf("setting permissions on %s: %w", target, err)
		}
	}
	s.logger.Debug("restored from cache", "checksum", n.Checksum, "moved", entry.Moved)
	return true, nil
}

// cachedMatches reports whether path still holds content of n's kind and
// checksum.
func cachedMatches(n *tree.Node, path string) bool {
	var sum string
	var err error
	switch n.Kind {
	case tree.KindFile:
		sum, err = digest.File(path)
	case tree.KindSymlink:
		sum, err = digest.Symlink(path)
	default:
		return false
	}
	return err == nil && sum == n.Checksum
}

func copyEntry(kind tree.Kind, src, dst string) error {
	if kind == tree.KindSymlink {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
