package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/checksift/sift/internal/journal"
	"github.com/checksift/sift/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can wait for the
// flush worker before writers fall back to inline flushing.
const DefaultFlushQueueSize = 64

const journalRetryDelay = 200 * time.Millisecond

var eventIDCounter atomic.Uint64

// queuedFinding pairs a finding with its journal sequence number so the
// flush path can advance the commit watermark after a durable write.
type queuedFinding struct {
	seq     uint64
	finding *Finding
}

type durableJournal interface {
	Append(finding *model.Finding) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// InsertBuffer batches findings and flushes them to DuckDB off the hot
// path. Add never blocks on database IO; batches travel through a
// bounded queue to a single flush worker.
type InsertBuffer struct {
	writer        model.FindingWriter
	journal       durableJournal
	maxBatch      int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []queuedFinding

	flushChan chan []queuedFinding
	done      chan struct{}
	wg        sync.WaitGroup
	tickWg    sync.WaitGroup
	stopOnce  sync.Once

	inlineFlushes atomic.Int64
	lastOverload  atomic.Int64 // unix seconds of last overload log line
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        *journal.Journal
}

func (c InsertBufferConfig) withDefaults() InsertBufferConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 2000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.FlushQueueSize <= 0 {
		c.FlushQueueSize = DefaultFlushQueueSize
	}
	return c
}

// NewInsertBuffer creates an insert buffer that flushes to writer, either
// when a batch fills or on the flush interval, whichever comes first.
func NewInsertBuffer(writer model.FindingWriter, conf ...InsertBufferConfig) *InsertBuffer {
	var cfg InsertBufferConfig
	if len(conf) > 0 {
		cfg = conf[0]
	}
	cfg = cfg.withDefaults()

	b := &InsertBuffer{
		writer:        writer,
		maxBatch:      cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		pending:       make([]queuedFinding, 0, cfg.BatchSize),
		flushChan:     make(chan []queuedFinding, cfg.FlushQueueSize),
		done:          make(chan struct{}),
	}
	if cfg.Journal != nil {
		b.journal = cfg.Journal
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// Add queues one finding. When a journal is configured the finding is
// made durable first; journal failures are retried until Stop.
func (b *InsertBuffer) Add(finding *Finding) {
	if finding.EventID == "" {
		finding.EventID = nextEventID()
	}

	var seq uint64
	if b.journal != nil {
		for {
			var err error
			if seq, err = b.journal.Append(finding); err == nil {
				break
			}
			log.Printf("duckdb: journal append failed, retrying: %v", err)
			select {
			case <-b.done:
				return
			case <-time.After(journalRetryDelay):
			}
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, queuedFinding{seq: seq, finding: finding})
	var full []queuedFinding
	if len(b.pending) >= b.maxBatch {
		full = b.takeBatchLocked()
	}
	b.mu.Unlock()

	if full != nil {
		b.dispatch(full)
	}
}

// takeBatchLocked hands out the pending slice and resets it. Caller holds mu.
func (b *InsertBuffer) takeBatchLocked() []queuedFinding {
	batch := b.pending
	b.pending = make([]queuedFinding, 0, b.maxBatch)
	return batch
}

// dispatch queues a batch for the flush worker. When the queue is full
// the write happens inline so sustained overload slows producers instead
// of growing memory without bound.
func (b *InsertBuffer) dispatch(batch []queuedFinding) {
	select {
	case b.flushChan <- batch:
	default:
		b.noteOverload()
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb: inline flush error: %v", err)
		}
	}
}

// noteOverload logs at most once per 10 seconds so a saturated database
// does not also saturate the log.
func (b *InsertBuffer) noteOverload() {
	count := b.inlineFlushes.Add(1)
	now := time.Now().Unix()
	last := b.lastOverload.Load()
	if now-last >= 10 && b.lastOverload.CompareAndSwap(last, now) {
		log.Printf("duckdb: flush queue full, %d inline flushes so far (DuckDB falling behind)", count)
	}
}

func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushPending()
		case <-b.done:
			b.flushPending()
			return
		}
	}
}

func (b *InsertBuffer) flushPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeBatchLocked()
	b.mu.Unlock()

	b.dispatch(batch)
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb: flush error: %v", err)
		}
	}
}

func (b *InsertBuffer) flushBatch(batch []queuedFinding) error {
	if len(batch) == 0 {
		return nil
	}

	findings := make([]*Finding, len(batch))
	var maxSeq uint64
	for i, item := range batch {
		findings[i] = item.finding
		if item.seq > maxSeq {
			maxSeq = item.seq
		}
	}

	if err := b.writer.InsertFindingBatch(findings); err != nil {
		return err
	}
	if b.journal != nil && maxSeq > 0 {
		if err := b.journal.Commit(maxSeq); err != nil {
			return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
		}
	}
	return nil
}

// Stop drains the buffer, waits for in-flight writes, and closes the
// journal.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// The tick loop does a final drain on done; it must finish
		// before flushChan closes or that batch would be lost.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				log.Printf("duckdb: journal close error: %v", err)
			}
		}
	})
}

// InsertFindingBatch writes a batch of findings in one transaction. A
// failed batch is retried row-by-row so one bad finding cannot sink its
// whole batch.
func (s *Store) InsertFindingBatch(findings []*Finding) error {
	if len(findings) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertBatchTx(ctx, findings); err == nil {
		return nil
	}

	var dropped int
	for _, f := range findings {
		if rerr := s.insertBatchTx(ctx, []*Finding{f}); rerr != nil {
			dropped++
			log.Printf("duckdb: dropping finding (check=%s msg=%.80s): %v", f.Check, f.Message, rerr)
		}
	}
	if dropped > 0 {
		log.Printf("duckdb: batch partially failed, %d/%d findings dropped", dropped, len(findings))
	}
	return nil
}

func (s *Store) insertBatchTx(ctx context.Context, findings []*Finding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO findings (timestamp, run_id, check_name, rule, severity, sev_num, file, line, col, message, raw_line, attributes, source, project, event_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range findings {
		project := f.Project
		if project == "" {
			project = model.DefaultProject
		}
		eventID := f.EventID
		if eventID == "" {
			eventID = nextEventID()
		}

		if _, err := stmt.ExecContext(
			ctx,
			f.Timestamp, f.RunID, f.Check, f.Rule, f.Severity, f.SevNum,
			f.File, f.Line, f.Col, f.Message, f.RawLine,
			attributesJSON(f), f.Source, project, eventID,
		); err != nil {
			return fmt.Errorf("finding insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func attributesJSON(f *Finding) string {
	if len(f.Attributes) == 0 {
		return "{}"
	}
	data, err := json.Marshal(f.Attributes)
	if err != nil {
		log.Printf("duckdb: failed to marshal attributes, storing empty: %v", err)
		return "{}"
	}
	return string(data)
}

// InsertRun records one harness run result.
func (s *Store) InsertRun(run *Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	project := run.Project
	if project == "" {
		project = model.DefaultProject
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, duration_ms, project, outcome, checks, findings, exit_code) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.Duration.Milliseconds(), project,
		run.Outcome, run.Checks, run.Findings, run.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("run insert: %w", err)
	}
	return nil
}

func nextEventID() string {
	n := eventIDCounter.Add(1)
	return fmt.Sprintf("%x-%x", time.Now().UTC().UnixNano(), n)
}
