package duckdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInMemoryStore is returned when a snapshot is requested from a
// store that has no database file.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// DBPath returns the database file path, empty for an in-memory store.
func (s *Store) DBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbPath
}

// SnapshotTo writes a consistent copy of the database file to dstPath.
// The store is checkpointed under the write lock so the file on disk
// holds all committed data; the copy itself runs unlocked so ingestion
// and queries stall only for the checkpoint.
func (s *Store) SnapshotTo(dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	srcPath, err := s.checkpoint()
	if err != nil {
		return err
	}

	if err := snapshotCopy(srcPath, dstPath); err != nil {
		return fmt.Errorf("copy database file: %w", err)
	}
	return nil
}

// checkpoint flushes the WAL into the database file and returns its path.
func (s *Store) checkpoint() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dbPath == "" {
		return "", ErrInMemoryStore
	}
	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	return s.dbPath, nil
}

// snapshotCopy copies src into dst via a temp file and rename, so a
// half-written snapshot never appears under the final name.
func snapshotCopy(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmpPath := dstPath + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	discard := func(werr error) error {
		dst.Close()
		_ = os.Remove(tmpPath)
		return werr
	}
	if _, err := io.Copy(dst, src); err != nil {
		return discard(err)
	}
	if err := dst.Sync(); err != nil {
		return discard(err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dstPath)
}
