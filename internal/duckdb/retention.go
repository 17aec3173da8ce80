package duckdb

import (
	"log"
	"sync"
	"time"
)

const retentionSweepInterval = time.Hour

// DeleteBefore removes findings older than the cutoff and returns the
// number deleted.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM findings WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return rows, nil
}

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
}

// RetentionCleaner deletes findings past the retention horizon, once at
// startup and then on an hourly sweep.
type RetentionCleaner struct {
	store    *Store
	maxAge   time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRetentionCleaner starts a cleaner for the given store. Without an
// explicit config it keeps 30 days; a non-positive retention disables
// cleaning entirely and returns nil.
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := 30
	if len(conf) > 0 {
		days = conf[0].RetentionDays
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:  store,
		maxAge: time.Duration(days) * 24 * time.Hour,
		done:   make(chan struct{}),
	}

	// Sweep immediately so a restart after downtime catches up.
	rc.sweep()

	rc.wg.Add(1)
	go rc.run()
	return rc
}

func (rc *RetentionCleaner) run() {
	defer rc.wg.Done()
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.sweep()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) sweep() {
	deleted, err := rc.store.DeleteBefore(time.Now().Add(-rc.maxAge))
	if err != nil {
		log.Printf("duckdb: retention sweep error: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("duckdb: retention sweep deleted %d findings older than %s", deleted, rc.maxAge)
	}
}

// Stop signals the cleaner to stop and waits for the sweep loop to exit.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
