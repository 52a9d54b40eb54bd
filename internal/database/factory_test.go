package database

import (
	"path/filepath"
	"testing"

	"bakker-go/internal/cache"
)

func TestNewIndexFromConfig(t *testing.T) {
	t.Run("memory index", func(t *testing.T) {
		got, closeFn, err := NewIndexFromConfig(IndexConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewIndexFromConfig() unexpected error: %v", err)
		}
		defer closeFn()
		if _, ok := got.(*cache.MemoryIndex); !ok {
			t.Errorf("NewIndexFromConfig() = %T, want *cache.MemoryIndex", got)
		}
	})

	t.Run("sqlite index creates parent directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "cache.db")
		got, closeFn, err := NewIndexFromConfig(IndexConfig{Type: "sqlite", DBPath: path})
		if err != nil {
			t.Fatalf("NewIndexFromConfig() unexpected error: %v", err)
		}
		defer closeFn()
		db, ok := got.(*SQLiteDatabase)
		if !ok {
			t.Fatalf("NewIndexFromConfig() = %T, want *SQLiteDatabase", got)
		}
		if db.Path() != path {
			t.Errorf("Path() = %q, want %q", db.Path(), path)
		}
	})

	t.Run("sqlite index without path", func(t *testing.T) {
		if _, _, err := NewIndexFromConfig(IndexConfig{Type: "sqlite"}); err == nil {
			t.Error("NewIndexFromConfig() expected error for missing path")
		}
	})

	t.Run("unknown index type", func(t *testing.T) {
		if _, _, err := NewIndexFromConfig(IndexConfig{Type: "redis"}); err == nil {
			t.Error("NewIndexFromConfig() expected error for unknown type")
		}
	})
}
