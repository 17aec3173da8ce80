// Package migrate applies the embedded, versioned schema files to a
// DuckDB database. File names follow NNN_description.sql; the numeric
// prefix is the version and versions apply strictly in order.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var schemaFiles embed.FS

// step is one pending schema change.
type step struct {
	version int
	file    string
	body    string
}

// Runner tracks applied schema versions in a ledger table and applies
// whatever the embedded files add beyond it.
type Runner struct {
	db *sql.DB
}

// NewRunner returns a Runner bound to db. The connection is not owned
// by the runner; callers close it.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// Run brings the schema up to date. Every step runs inside its own
// transaction together with the ledger insert, so a failed step leaves
// the version ledger untouched.
func (r *Runner) Run() error {
	current, err := r.currentVersion()
	if err != nil {
		return err
	}

	steps, err := embeddedSteps()
	if err != nil {
		return err
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := r.apply(s); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the highest applied version and how many embedded
// steps are still unapplied.
func (r *Runner) Status() (current int, pending int, err error) {
	current, err = r.currentVersion()
	if err != nil {
		return 0, 0, err
	}
	steps, err := embeddedSteps()
	if err != nil {
		return 0, 0, err
	}
	for _, s := range steps {
		if s.version > current {
			pending++
		}
	}
	return current, pending, nil
}

func (r *Runner) apply(s step) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin %s: %w", s.file, err)
	}
	if _, err := tx.Exec(s.body); err != nil {
		tx.Rollback()
		return fmt.Errorf("migrate: apply %s: %w", s.file, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		s.version, s.file,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("migrate: record %s: %w", s.file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit %s: %w", s.file, err)
	}
	return nil
}

// currentVersion ensures the ledger table exists and returns the
// highest recorded version, 0 when nothing has been applied.
func (r *Runner) currentVersion() (int, error) {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`); err != nil {
		return 0, fmt.Errorf("migrate: create ledger: %w", err)
	}

	var latest sql.NullInt64
	if err := r.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&latest); err != nil {
		return 0, fmt.Errorf("migrate: read ledger: %w", err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return int(latest.Int64), nil
}

func embeddedSteps() ([]step, error) {
	entries, err := schemaFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: list embedded files: %w", err)
	}

	steps := make([]step, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, found := strings.Cut(name, "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migrate: bad version prefix in %s: %w", name, err)
		}
		body, err := schemaFiles.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", name, err)
		}
		steps = append(steps, step{version: version, file: name, body: string(body)})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}
