// Package store caches compiled scripts in SQLite so unchanged sources are
// not recompiled.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scripts (
	name        TEXT NOT NULL,
	source_hash TEXT NOT NULL,
	format      INTEGER NOT NULL,
	asset       BLOB NOT NULL,
	compiled_at INTEGER NOT NULL,
	PRIMARY KEY (name, source_hash)
);
`

// Schema version tracking:
// 1 - scripts table keyed by name and source hash
const currentSchemaVersion = 1

// Store is a SQLite-backed compiled script cache.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache database at path. ":memory:" gives a
// private in-memory cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SourceHash returns the cache key for a source text.
func SourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached script compiled from source, or nil when there is
// none. Entries written by another asset format version are ignored.
func (s *Store) Lookup(name, source string) (*bytecode.Script, error) {
	var asset []byte
	err := s.db.QueryRow(
		`SELECT asset FROM scripts WHERE name = ? AND source_hash = ? AND format = ?`,
		name, SourceHash(source), int64(bytecode.FormatVersion),
	).Scan(&asset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", name, err)
	}
	script, err := bytecode.Unmarshal(name, asset)
	if err != nil {
		return nil, fmt.Errorf("cached %s: %w", name, err)
	}
	return script, nil
}

// Save stores the compiled form of source, replacing older entries for the
// same name.
func (s *Store) Save(name, source string, script *bytecode.Script) error {
	asset, err := bytecode.Marshal(script)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scripts WHERE name = ?`, name); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO scripts (name, source_hash, format, asset, compiled_at) VALUES (?, ?, ?, ?, ?)`,
		name, SourceHash(source), int64(bytecode.FormatVersion), asset, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return tx.Commit()
}

// Len returns the number of cached scripts.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM scripts`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
