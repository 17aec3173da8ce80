// Package journal implements a durable write-ahead log for ingested
// findings. Entries are JSON, one per line; commit progress lives in a
// sidecar file next to the log so a crash between ingest and storage
// loses nothing.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/checksift/sift/internal/model"
)

const (
	fileMode = 0644
	dirMode  = 0755

	commitExt  = ".commit"
	compactExt = ".compact"
)

type entry struct {
	Seq     uint64        `json:"seq"`
	Finding model.Finding `json:"finding"`
}

// Journal provides a durable append-only log for ingested findings.
type Journal struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
}

// Open creates or opens a journal at path. Entries already committed to
// storage are pruned on open, and a partially written trailing line is
// discarded.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	commitPath := path + commitExt
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}

	maxSeq, err := pruneCommitted(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, fileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	j := &Journal{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    maxSeq + 1,
		committed:  committed,
	}
	// Sequence numbers never move backwards, even after a full prune.
	if committed >= j.nextSeq {
		j.nextSeq = committed + 1
	}
	return j, nil
}

// Append persists one finding and returns its sequence number.
func (j *Journal) Append(finding *model.Finding) (uint64, error) {
	if finding == nil {
		return 0, errors.New("journal: nil finding")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.nextSeq
	line, err := json.Marshal(entry{Seq: seq, Finding: clone(finding)})
	if err != nil {
		return 0, fmt.Errorf("journal: marshal entry: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("journal: write entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync entry: %w", err)
	}
	j.nextSeq++
	return seq, nil
}

// Commit marks all entries up to seq as durably stored.
func (j *Journal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if seq <= j.committed {
		return nil
	}
	j.committed = seq
	return writeCommitted(j.commitPath, seq)
}

// Committed returns the highest committed sequence number.
func (j *Journal) Committed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

// Replay calls fn for each uncommitted entry in sequence order. Replay
// stops silently at the first malformed or partial line so that recovery
// stays deterministic.
func (j *Journal) Replay(fn func(seq uint64, finding *model.Finding) error) error {
	if fn == nil {
		return errors.New("journal: replay callback is nil")
	}

	j.mu.Lock()
	path := j.path
	committed := j.committed
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	return walkEntries(f, func(e entry, _ []byte) error {
		if e.Seq <= committed {
			return nil
		}
		finding := e.Finding
		return fn(e.Seq, &finding)
	})
}

// Close closes the underlying journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// walkEntries reads newline-delimited entries from r and hands each one,
// with its raw bytes, to visit. A partial trailing line or a line that
// fails to parse ends the walk without error.
func walkEntries(r io.Reader, visit func(e entry, raw []byte) error) error {
	reader := bufio.NewReader(r)
	for {
		line, rerr := reader.ReadBytes('\n')
		switch {
		case rerr != nil && !errors.Is(rerr, io.EOF):
			return fmt.Errorf("journal: read entry: %w", rerr)
		case len(line) == 0 || line[len(line)-1] != '\n':
			// EOF mid-line means the last append never finished.
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			continue
		}

		var e entry
		if json.Unmarshal(line, &e) != nil {
			return nil
		}
		if err := visit(e, line); err != nil {
			return err
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
	}
}

func clone(f *model.Finding) model.Finding {
	out := *f
	if len(f.Attributes) == 0 {
		out.Attributes = nil
		return out
	}
	attrs := make(map[string]string, len(f.Attributes))
	for k, v := range f.Attributes {
		attrs[k] = v
	}
	out.Attributes = attrs
	return out
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal: read commit file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: parse commit seq: %w", err)
	}
	return seq, nil
}

// writeCommitted replaces the commit sidecar via a synced temp file so the
// watermark is either the old value or the new one, never garbage.
func writeCommitted(path string, seq uint64) error {
	payload := []byte(strconv.FormatUint(seq, 10) + "\n")
	if err := writeFileSynced(path+".tmp", payload); err != nil {
		return fmt.Errorf("journal: write commit file: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		_ = os.Remove(path + ".tmp")
		return fmt.Errorf("journal: rename commit file: %w", err)
	}
	return nil
}

func writeFileSynced(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// pruneCommitted rewrites the journal keeping only entries past the commit
// watermark and reports the highest sequence number seen in the old file.
func pruneCommitted(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, fileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open for prune: %w", err)
	}
	defer src.Close()

	tmpPath := path + compactExt
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open prune tmp: %w", err)
	}
	discard := func(werr error) (uint64, error) {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return 0, werr
	}

	var maxSeq uint64
	err = walkEntries(src, func(e entry, raw []byte) error {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		if e.Seq <= committed {
			return nil
		}
		_, werr := dst.Write(raw)
		return werr
	})
	if err != nil {
		return discard(fmt.Errorf("journal: prune: %w", err))
	}

	if err := dst.Sync(); err != nil {
		return discard(fmt.Errorf("journal: prune sync: %w", err))
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: prune close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: prune rename: %w", err)
	}
	return maxSeq, nil
}
