package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24

	snapshotPrefix = "sift-"
	snapshotSuffix = ".duckdb"
)

// Config controls periodic DuckDB backups.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	LocalDir  string
	KeepLast  int
	BucketURL string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool
}

// Snapshotter is what the manager needs from the finding store: where
// its database file lives and how to copy it consistently.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(dstPath string) error
}

// Uploader ships one local backup artifact to remote storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}

// Manager periodically snapshots the finding database, keeps a bounded
// set of local copies, and optionally ships each snapshot to a bucket.
type Manager struct {
	snaps    Snapshotter
	uploader Uploader
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager validates the configuration, takes a startup snapshot, and
// starts the periodic loop. Returns nil when backups are disabled.
func NewManager(snaps Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if snaps == nil {
		return nil, errors.New("backup: nil snapshotter")
	}
	if strings.TrimSpace(snaps.DBPath()) == "" {
		return nil, errors.New("backup: db-path is empty (in-memory store)")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, errors.New("backup: local-dir is required when backup is enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create local-dir: %w", err)
	}

	uploader, err := bucketUploader(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{snaps: snaps, uploader: uploader, cfg: cfg}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	// Snapshot immediately so a crash-loop never goes a full interval
	// without a recovery point.
	if err := m.RunOnce(m.ctx); err != nil {
		log.Printf("backup: startup snapshot failed: %v", err)
	}

	m.wg.Add(1)
	go m.run()
	return m, nil
}

func bucketUploader(cfg Config) (Uploader, error) {
	if strings.TrimSpace(cfg.BucketURL) == "" {
		return nil, nil
	}
	up, err := NewS3Uploader(S3Config{
		BucketURL:    cfg.BucketURL,
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		SessionToken: cfg.S3SessionToken,
		UseSSL:       cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("backup: init s3 uploader: %w", err)
	}
	return up, nil
}

func (m *Manager) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(m.ctx); err != nil {
				log.Printf("backup: periodic snapshot failed: %v", err)
			}
		}
	}
}

// RunOnce takes one snapshot, uploads it when an uploader is
// configured, and prunes local copies down to KeepLast.
func (m *Manager) RunOnce(ctx context.Context) error {
	localPath := filepath.Join(m.cfg.LocalDir, snapshotName(time.Now()))

	if err := m.snaps.SnapshotTo(localPath); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	log.Printf("backup: created snapshot %s", localPath)

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, localPath); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		log.Printf("backup: uploaded snapshot %s", filepath.Base(localPath))
	}

	if err := pruneSnapshots(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return fmt.Errorf("prune local snapshots: %w", err)
	}
	return nil
}

// Stop cancels any in-flight snapshot or upload and waits for the
// periodic loop to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// snapshotName embeds a UTC timestamp so lexical order is creation order.
func snapshotName(ts time.Time) string {
	return snapshotPrefix + ts.UTC().Format("20060102-150405") + snapshotSuffix
}

func pruneSnapshots(dir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= keepLast {
		return nil
	}

	// Newest first; the timestamp in the name sorts chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names[keepLast:] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
