// Package storage is the transactional façade over the relational schema:
// guilds, guild configuration, moderation cases and the permission rows the
// permission engine reads. It runs on either PostgreSQL (pgx stdlib driver)
// or embedded SQLite (modernc, CGO-less) depending on the database URL; all
// SQL is written with $N placeholders and RETURNING, which both dialects
// accept.
package storage

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend behind a Store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store owns the database handle. All methods are safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database described by rawURL. postgres:// and
// postgresql:// select the pgx driver; sqlite:// (or a bare file path)
// selects embedded SQLite.
func Open(rawURL string) (*Store, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("storage: database url is empty")
	}

	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		db, err := sql.Open("pgx", rawURL)
		if err != nil {
			return nil, fmt.Errorf("storage: open postgres: %w", err)
		}
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(time.Hour)
		return &Store{db: db, dialect: DialectPostgres}, nil

	default:
		path := strings.TrimPrefix(rawURL, "sqlite://")
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: create db directory: %w", err)
			}
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("storage: open sqlite: %w", err)
		}
		// Pragmas for durability and concurrency.
		for _, pragma := range []string{
			`PRAGMA journal_mode=WAL;`,
			`PRAGMA foreign_keys=ON;`,
			`PRAGMA busy_timeout=5000;`,
			`PRAGMA synchronous=NORMAL;`,
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("storage: %s: %w", strings.TrimSuffix(pragma, ";"), err)
			}
		}
		// A single writer avoids SQLITE_BUSY under concurrent case creation.
		db.SetMaxOpenConns(1)
		return &Store{db: db, dialect: DialectSQLite}, nil
	}
}

// Dialect returns the backing SQL dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// DB exposes the raw handle for the migration runner.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping() error { return s.db.Ping() }

// newID returns a fresh ULID for surrogate keys.
func newID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
