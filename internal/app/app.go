// Package app wires configuration, storage, the cache index and logging
// into the operations the CLI exposes.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"bakker-go/internal/bk"
	"bakker-go/internal/cache"
	"bakker-go/internal/checkpoint"
	"bakker-go/internal/config"
	"bakker-go/internal/database"
	"bakker-go/internal/fs"
	"bakker-go/internal/storage"
	"bakker-go/internal/tree"
)

// BakkerApp is the application layer between the CLI and bk.Service.
// It builds services from the config store, resolves raw paths and owns
// the log file until Close.
type BakkerApp struct {
	store    *config.Store
	defaults *Defaults
	fsmgr    bk.FilesystemManager
	logger   *slog.Logger
	logFile  *os.File

	// newStorage is replaceable so tests can share one MemoryStorage.
	newStorage func(config.StorageConfig) (bk.Storage, error)
}

// NewBakkerApp creates a BakkerApp. command names the CLI command being run
// and is attached to every log line; warnings are also written to stderr.
// The caller must call Close when done.
func NewBakkerApp(store *config.Store, defaults *Defaults, command string, stderr io.Writer) (*BakkerApp, error) {
	logger, logFile, err := newLogger(defaults.LogDirFor(store), command, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &BakkerApp{
		store:      store,
		defaults:   defaults,
		fsmgr:      fs.NewOSFilesystemManager(),
		logger:     logger,
		logFile:    logFile,
		newStorage: storage.NewStorageFromConfig,
	}, nil
}

// service builds a bk.Service for the storage named by choice, or the
// configured default when choice is empty. fsPath overrides storage.fs.path.
func (a *BakkerApp) service(choice, fsPath string) (*bk.Service, error) {
	var cfg config.StorageConfig
	var err error
	if choice == "" {
		cfg, err = a.store.Storage(fsPath)
	} else {
		cfg, err = a.store.StorageFor(choice, fsPath)
	}
	if err != nil {
		return nil, err
	}

	st, err := a.newStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}
	workers, err := a.store.Workers()
	if err != nil {
		return nil, err
	}

	svc := bk.NewService(st, a.fsmgr, &slogAdapter{l: a.logger}, bk.RealClock{}, bk.UUIDGenerator{})
	svc.SetWorkers(workers)
	return svc, nil
}

// List returns the stored checkpoints, oldest first.
func (a *BakkerApp) List(choice, fsPath string) ([]checkpoint.Meta, error) {
	svc, err := a.service(choice, fsPath)
	if err != nil {
		return nil, err
	}
	return svc.List()
}

// Create snapshots rawDir into a new checkpoint.
func (a *BakkerApp) Create(ctx context.Context, choice, fsPath, rawDir, name string) (*bk.CreateResult, error) {
	svc, err := a.service(choice, fsPath)
	if err != nil {
		return nil, err
	}
	src, err := a.fsmgr.ResolveDir(rawDir)
	if err != nil {
		return nil, fmt.Errorf("resolving source: %w", err)
	}
	return svc.Create(ctx, src, name)
}

// Restore restores the checkpoint identified by id into rawDir. With
// useCache, content indexed by CacheBuild is moved or copied instead of
// read from storage.
func (a *BakkerApp) Restore(choice, fsPath, rawDir, id string, useCache bool) (checkpoint.Meta, error) {
	svc, err := a.service(choice, fsPath)
	if err != nil {
		return checkpoint.Meta{}, err
	}
	dst, err := a.fsmgr.ResolveDir(rawDir)
	if err != nil {
		return checkpoint.Meta{}, fmt.Errorf("resolving destination: %w", err)
	}
	if !useCache {
		return svc.Restore(dst, id, nil)
	}

	index, closeIndex, err := a.openIndex()
	if err != nil {
		return checkpoint.Meta{}, err
	}
	defer closeIndex()
	return svc.Restore(dst, id, cache.New(index))
}

// CacheBuild indexes every file and symlink below rawDir into the cache
// database, replacing its previous content, and returns the number of
// distinct checksums indexed.
func (a *BakkerApp) CacheBuild(rawDir string) (int, error) {
	dir, err := a.fsmgr.ResolveDir(rawDir)
	if err != nil {
		return 0, fmt.Errorf("resolving directory: %w", err)
	}
	matcher, err := a.fsmgr.IgnoreMatcher(dir)
	if err != nil {
		return 0, fmt.Errorf("loading ignore rules: %w", err)
	}
	workers, err := a.store.Workers()
	if err != nil {
		return 0, err
	}

	index, closeIndex, err := a.openIndex()
	if err != nil {
		return 0, err
	}
	defer closeIndex()

	b := &tree.Builder{Logger: &slogAdapter{l: a.logger}, Ignore: matcher, Workers: workers}
	c, err := cache.BuildFrom(dir.String(), b, index)
	if err != nil {
		return 0, err
	}
	n, err := c.Len()
	if err != nil {
		return 0, err
	}
	a.logger.Info("cache built", "path", dir.String(), "entries", n)
	return n, nil
}

// CacheLookup returns the cache entry for checksum.
func (a *BakkerApp) CacheLookup(checksum string) (cache.Entry, bool, error) {
	index, closeIndex, err := a.openIndex()
	if err != nil {
		return cache.Entry{}, false, err
	}
	defer closeIndex()
	return cache.New(index).Lookup(checksum)
}

func (a *BakkerApp) openIndex() (cache.Index, func() error, error) {
	index, closeIndex, err := database.NewIndexFromConfig(database.IndexConfig{
		Type:   "sqlite",
		DBPath: a.defaults.CacheDBPathFor(a.store),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening cache index: %w", err)
	}
	return index, closeIndex, nil
}

// Close releases the log file.
func (a *BakkerApp) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}
