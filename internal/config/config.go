// Package config is the user's key-value configuration: dotted keys mapping
// to string values, persisted as nested TOML tables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"bakker-go/internal/pkg/bkerrors"
)

// Known keys.
const (
	KeyStorageDefault = "storage.default"
	KeyStorageFSPath  = "storage.fs.path"
	KeyCacheDBPath    = "cache.db_path"
	KeyLogDir         = "log.dir"
	KeyStoreWorkers   = "store.workers"
)

// StorageChoices lists the values accepted for storage.default.
var StorageChoices = []string{"fs"}

// Item is one key/value pair.
type Item struct {
	Key   string
	Value string
}

// Store holds the configuration. Keys like "storage.fs.path" are stored as
// nested tables; only string leaves are visible through Get and Items.
// A Store loaded from a file writes itself back after every change.
type Store struct {
	path   string
	values map[string]any
}

// NewStore returns an empty store that is never persisted.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Store from the provided reader.
func (m *Manager) Read(r io.Reader) (*Store, error) {
	values := make(map[string]any)
	if _, err := toml.NewDecoder(r).Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &Store{values: values}, nil
}

// Write encodes a Store to the provided writer.
func (m *Manager) Write(w io.Writer, s *Store) error {
	if err := toml.NewEncoder(w).Encode(s.values); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load reads the store at path. A missing file yields an empty store that
// will be created on the first change.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s := NewStore()
			s.path = path
			return s, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	s, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	s.path = path
	return s, nil
}

// save writes the store back to its file, if it has one.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, s); err != nil {
		return fmt.Errorf("writing config to %s: %w", s.path, err)
	}
	return nil
}

func splitKey(key string) ([]string, error) {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: invalid config key %q", bkerrors.ErrInvalidArgument, key)
		}
	}
	return parts, nil
}

// Get returns the string stored under key.
func (s *Store) Get(key string) (string, bool) {
	parts, err := splitKey(key)
	if err != nil {
		return "", false
	}
	current := s.values
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]any)
		if !ok {
			return "", false
		}
		current = next
	}
	v, ok := current[parts[len(parts)-1]].(string)
	return v, ok
}

// Set stores value under key, creating intermediate tables as needed.
// A key cannot pass through an existing value or replace a table.
func (s *Store) Set(key, value string) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	current := s.values
	for i, p := range parts[:len(parts)-1] {
		switch next := current[p].(type) {
		case nil:
			table := make(map[string]any)
			current[p] = table
			current = table
		case map[string]any:
			current = next
		default:
			return fmt.Errorf("%w: %s is a value, not a table", bkerrors.ErrInvalidArgument, strings.Join(parts[:i+1], "."))
		}
	}
	last := parts[len(parts)-1]
	if _, isTable := current[last].(map[string]any); isTable {
		return fmt.Errorf("%w: %s is a table, not a value", bkerrors.ErrInvalidArgument, key)
	}
	current[last] = value
	return s.save()
}

// Unset removes key and any tables left empty by the removal. It fails
// with ErrNotFound if key is not set.
func (s *Store) Unset(key string) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	if _, ok := s.Get(key); !ok {
		return fmt.Errorf("%w: config does not contain key %s", bkerrors.ErrNotFound, key)
	}
	unset(s.values, parts)
	return s.save()
}

func unset(table map[string]any, parts []string) {
	if len(parts) == 1 {
		delete(table, parts[0])
		return
	}
	child := table[parts[0]].(map[string]any)
	unset(child, parts[1:])
	if len(child) == 0 {
		delete(table, parts[0])
	}
}

// Items returns every string value with its dotted key, sorted by key.
func (s *Store) Items() []Item {
	var items []Item
	var walk func(prefix string, table map[string]any)
	walk = func(prefix string, table map[string]any) {
		for k, v := range table {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			switch v := v.(type) {
			case map[string]any:
				walk(key, v)
			case string:
				items = append(items, Item{Key: key, Value: v})
			}
		}
	}
	walk("", s.values)
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.Key, b.Key) })
	return items
}

// Errors returned by Storage and StorageFor for incomplete configuration.
var (
	ErrNoDefaultStorage = fmt.Errorf("%w: no default storage is defined", bkerrors.ErrNotFound)
	ErrNoBackupFolder   = fmt.Errorf("%w: no default backup folder defined", bkerrors.ErrNotFound)
	ErrUnknownStorage   = fmt.Errorf("%w: default storage choice is not available", bkerrors.ErrInvalidArgument)
)

// StorageConfig selects and configures the storage backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type   string // "fs" or "memory"
	FSPath string // only used for type=fs
}

// Storage reads the storage settings. An explicit fsPath overrides
// storage.fs.path. A missing or unknown storage.default is ErrNotFound or
// ErrInvalidArgument respectively.
func (s *Store) Storage(fsPath string) (StorageConfig, error) {
	choice, ok := s.Get(KeyStorageDefault)
	if !ok {
		return StorageConfig{}, ErrNoDefaultStorage
	}
	if !slices.Contains(StorageChoices, choice) {
		return StorageConfig{}, fmt.Errorf("%w: %s", ErrUnknownStorage, choice)
	}
	return s.StorageFor(choice, fsPath)
}

// StorageFor is Storage for an explicitly chosen backend.
func (s *Store) StorageFor(choice, fsPath string) (StorageConfig, error) {
	cfg := StorageConfig{Type: choice, FSPath: fsPath}
	if choice == "fs" && cfg.FSPath == "" {
		path, ok := s.Get(KeyStorageFSPath)
		if !ok {
			return StorageConfig{}, ErrNoBackupFolder
		}
		cfg.FSPath = path
	}
	return cfg, nil
}

// Workers returns store.workers, defaulting to 1.
func (s *Store) Workers() (int, error) {
	v, ok := s.Get(KeyStoreWorkers)
	if !ok {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", bkerrors.ErrInvalidArgument, KeyStoreWorkers, v)
	}
	return n, nil
}
