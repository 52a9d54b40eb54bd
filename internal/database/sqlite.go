// Package database persists the local cache index in SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"

	"bakker-go/internal/cache"
	"bakker-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements cache.Index on a SQLite database.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and migrates it to the
// latest schema. path can be a file path or ":memory:" for an in-memory
// database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would otherwise see its own
	// empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Get returns the cache entry for checksum.
func (s *SQLiteDatabase) Get(checksum string) (cache.Entry, bool, error) {
	var e cache.Entry
	err := s.db.QueryRow("SELECT path, moved FROM cache_entries WHERE checksum = ?", checksum).Scan(&e.Path, &e.Moved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, fmt.Errorf("finding cache entry: %w", err)
	}
	return e, true, nil
}

// Put inserts or replaces the cache entry for checksum.
func (s *SQLiteDatabase) Put(checksum string, e cache.Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (checksum, path, moved) VALUES (?, ?, ?)
		ON CONFLICT (checksum) DO UPDATE SET path = excluded.path, moved = excluded.moved`,
		checksum, e.Path, e.Moved)
	if err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

// Len returns the number of cache entries.
func (s *SQLiteDatabase) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

// Each calls fn for every entry in checksum order and stops at the first
// error.
func (s *SQLiteDatabase) Each(fn func(checksum string, e cache.Entry) error) error {
	rows, err := s.db.Query("SELECT checksum, path, moved FROM cache_entries ORDER BY checksum")
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	defer rows.Close()

	// Collect first: fn may call back into the database, and the single
	// pooled connection is busy while rows is open.
	type row struct {
		checksum string
		entry    cache.Entry
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.checksum, &r.entry.Path, &r.entry.Moved); err != nil {
			return fmt.Errorf("scanning cache entry: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	rows.Close()

	for _, r := range all {
		if err := fn(r.checksum, r.entry); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every cache entry.
func (s *SQLiteDatabase) Clear() error {
	if _, err := s.db.Exec("DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("clearing cache entries: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements cache.Index interface
var _ cache.Index = (*SQLiteDatabase)(nil)
