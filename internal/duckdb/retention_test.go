package duckdb

import (
	"testing"
	"time"
)

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 1})
	if cleaner == nil {
		t.Fatal("expected non-nil retention cleaner")
	}

	cleaner.Stop()
	cleaner.Stop()
}

func TestRetentionCleaner_DisabledWhenZeroDays(t *testing.T) {
	store := newTestStore(t)
	if cleaner := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 0}); cleaner != nil {
		t.Fatal("expected nil cleaner when retention is disabled")
	}
}

func TestDeleteBefore(t *testing.T) {
	store := newTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	insertTestFindings(t, store, []*Finding{
		{Timestamp: old, Check: "flake8", Severity: "WARN", Message: "stale"},
		{Timestamp: fresh, Check: "flake8", Severity: "WARN", Message: "recent"},
	})

	deleted, err := store.DeleteBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	count, err := store.TotalFindingCount(QueryOpts{})
	if err != nil {
		t.Fatalf("TotalFindingCount: %v", err)
	}
	if count != 1 {
		t.Errorf("remaining count = %d, want 1", count)
	}
}
