// Package duckdb persists findings in an embedded DuckDB database and
// serves the query surface the daemon's HTTP, socket, and TUI clients
// share.
package duckdb

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/checksift/sift/internal/duckdb/migrate"

	_ "github.com/duckdb/duckdb-go/v2"
)

const defaultQueryTimeout = 30 * time.Second

// Store owns the database handle. An empty dbPath means an in-memory
// database, which is what most tests use.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens the database at dbPath, creating parent directories and
// running schema migrations as needed. The optional queryTimeout bounds
// every query; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, err
	}
	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: defaultQueryTimeout,
	}
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		s.QueryTimeout = queryTimeout[0]
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for raw SQL, used by the HTTP query
// endpoint.
func (s *Store) DB() *sql.DB {
	return s.db
}
