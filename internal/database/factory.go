package database

import (
	"fmt"
	"os"
	"path/filepath"

	"bakker-go/internal/cache"
)

// IndexConfig selects where the cache index lives.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type IndexConfig struct {
	Type   string // "sqlite" or "memory"
	DBPath string // only used for type=sqlite
}

// NewIndexFromConfig creates a cache index based on the config type. The
// returned close function releases the index and must always be called.
func NewIndexFromConfig(cfg IndexConfig) (cache.Index, func() error, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DBPath == "" {
			return nil, nil, fmt.Errorf("db path required for sqlite cache index")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, nil, fmt.Errorf("creating database directory: %w", err)
		}
		db, err := NewSQLiteDatabase(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case "memory":
		return cache.NewMemoryIndex(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache index type: %s", cfg.Type)
	}
}
