package storage

import (
	"fmt"

	"bakker-go/internal/bk"
	"bakker-go/internal/config"
)

// NewStorageFromConfig creates a Storage implementation based on the storage config type.
func NewStorageFromConfig(cfg config.StorageConfig) (bk.Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "fs":
		if cfg.FSPath == "" {
			return nil, fmt.Errorf("fs storage requires %s to be set", config.KeyStorageFSPath)
		}
		return NewFileSystemStorage(cfg.FSPath), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
