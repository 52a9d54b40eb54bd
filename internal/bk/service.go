// Package bk is the backup engine: it stores checkpoints into a Storage with
// whole-file deduplication and restores them exactly.
package bk

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"bakker-go/internal/checkpoint"
	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/tree"
)

// Service is the orchestration layer that coordinates tree building, blob
// storage and restoration for the CLI.
type Service struct {
	storage Storage
	fsmgr   FilesystemManager
	logger  Logger
	clock   Clock
	idgen   IDGenerator
	workers int

	// flights collapses concurrent writes of the same checksum.
	flights singleflight.Group
}

// NewService creates a Service with the provided dependencies. It hashes and
// stores sequentially until SetWorkers is called.
func NewService(storage Storage, fsmgr FilesystemManager, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		storage: storage,
		fsmgr:   fsmgr,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		workers: 1,
	}
}

// SetWorkers sets how many files are hashed or stored at the same time.
// Values below 1 mean sequential.
func (s *Service) SetWorkers(n int) {
	s.workers = max(n, 1)
}

// StoreResult counts the blobs a Store call wrote and the ones it found
// already present.
type StoreResult struct {
	BlobsWritten      int
	BlobsDeduplicated int
}

// CreateResult describes a checkpoint created from a live directory.
type CreateResult struct {
	Checkpoint *checkpoint.Checkpoint
	Build      *tree.BuildResult
	Store      *StoreResult
}

// Create snapshots src into a new checkpoint named name (empty for none)
// and stores it.
func (s *Service) Create(ctx context.Context, src *Path, name string) (*CreateResult, error) {
	op := s.idgen.New()
	s.logger.Info("create started", "op", op, "path", src.String(), "name", name)

	matcher, err := s.fsmgr.IgnoreMatcher(src)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}

	b := &tree.Builder{Logger: s.logger, Ignore: matcher, Workers: s.workers}
	cp, built, err := checkpoint.Build(src.String(), name, b, s.clock)
	if err != nil {
		return nil, err
	}

	stored, err := s.Store(ctx, src.String(), cp)
	if err != nil {
		return nil, err
	}

	s.logger.Info("create complete", "op", op, "checkpoint", cp.Meta().String(),
		"skipped", len(built.Skipped), "ignored", len(built.Ignored))
	return &CreateResult{Checkpoint: cp, Build: built, Store: stored}, nil
}

// Store saves every file and symlink of cp whose blob is missing, reading
// them from srcDir, then saves cp itself. Blobs that are already stored are
// not read again.
func (s *Service) Store(ctx context.Context, srcDir string, cp *checkpoint.Checkpoint) (*StoreResult, error) {
	var written, deduplicated atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for n, rel := range cp.All() {
		switch n.Kind {
		case tree.KindDirectory:
			continue
		case tree.KindFile, tree.KindSymlink:
		default:
			panic(fmt.Sprintf("unexpected node kind %s", n.Kind))
		}
		if gctx.Err() != nil {
			break
		}

		src := filepath.Join(srcDir, filepath.FromSlash(rel))
		checksum := n.Checksum
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			wrote, err := s.storeBlob(src, checksum)
			if err != nil {
				return err
			}
			if wrote {
				written.Add(1)
			} else {
				deduplicated.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.storage.StoreCheckpoint(cp); err != nil {
		return nil, fmt.Errorf("storing checkpoint: %w", err)
	}

	result := &StoreResult{
		BlobsWritten:      int(written.Load()),
		BlobsDeduplicated: int(deduplicated.Load()),
	}
	s.logger.Info("checkpoint stored", "checkpoint", cp.Meta().String(),
		"written", result.BlobsWritten, "deduplicated", result.BlobsDeduplicated)
	return result, nil
}

// storeBlob stores src under checksum unless it is already there, and
// reports whether this call wrote it. Concurrent calls for one checksum
// share a single attempt; only the caller that ran it can report a write.
func (s *Service) storeBlob(src, checksum string) (bool, error) {
	var ran bool
	v, err, _ := s.flights.Do(checksum, func() (any, error) {
		ran = true
		has, err := s.storage.HasBlob(checksum)
		if err != nil {
			return false, fmt.Errorf("checking blob %s: %w", checksum, err)
		}
		if has {
			return false, nil
		}
		err = s.storage.StoreBlob(src, checksum)
		if errors.Is(err, bkerrors.ErrAlreadyExists) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("storing blob %s from %s: %w", checksum, src, err)
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	wrote := ran && v.(bool)
	if wrote {
		s.logger.Debug("blob stored", "checksum", checksum, "path", src)
	} else {
		s.logger.Debug("blob deduplicated", "checksum", checksum, "path", src)
	}
	return wrote, nil
}
