package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/checksift/sift/internal/backup"
	"github.com/checksift/sift/internal/duckdb"
	"github.com/checksift/sift/internal/httpserver"
	"github.com/checksift/sift/internal/ingest"
	"github.com/checksift/sift/internal/journal"
	"github.com/checksift/sift/internal/model"
	"github.com/checksift/sift/internal/socketrpc"
	"golang.org/x/sync/errgroup"
)

const shutdownDeadline = 10 * time.Second

// runServer boots the long-running daemon: storage, maintenance, query
// surfaces, ingestion sources. Teardown runs in reverse order.
func runServer(cfg appConfig) error {
	closeLogger := configureRuntimeLogger()
	defer closeLogger()

	store, insertBuffer, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer insertBuffer.Stop()

	stopMaintenance, err := startMaintenance(store, cfg)
	if err != nil {
		return err
	}
	defer stopMaintenance()

	stopSurfaces, err := startQuerySurfaces(store, cfg)
	if err != nil {
		return err
	}
	defer stopSurfaces()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopSignals := watchShutdownSignals(cancel, cfg.SocketPath)
	defer stopSignals()

	mux := startIngestSources(ctx, cfg)

	processor := ingest.NewEnvelopeProcessor(cfg.Processor, insertBuffer, "")
	processor.SetProject(cfg.Project)

	printStartupBanner(cfg, processor.Name())

	g, gctx := errgroup.WithContext(ctx)
	if mux.HasSources() {
		g.Go(func() error {
			for env := range mux.Lines() {
				processor.ProcessEnvelope(env)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	mux.Stop()
	return nil
}

// openStorage opens the DuckDB store and a journaled insert buffer,
// replaying any uncommitted journal backlog from a previous crash.
func openStorage(cfg appConfig) (*duckdb.Store, *duckdb.InsertBuffer, error) {
	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize DuckDB: %w", err)
	}

	var ingestJournal *journal.Journal
	if cfg.JournalEnabled {
		ingestJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to open ingest journal: %w", err)
		}
		if err := replayJournalBacklog(ingestJournal, store, cfg.InsertBatchSize); err != nil {
			ingestJournal.Close()
			store.Close()
			return nil, nil, fmt.Errorf("failed to replay ingest journal: %w", err)
		}
	}

	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
		Journal:        ingestJournal,
	})
	return store, insertBuffer, nil
}

// startMaintenance launches the retention cleaner and backup manager.
// The returned function stops whichever of them actually started.
func startMaintenance(store *duckdb.Store, cfg appConfig) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if cleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.FindingRetention,
	}); cleaner != nil {
		stops = append(stops, cleaner.Stop)
	}

	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
	})
	if err != nil {
		stopAll()
		return nil, fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		stops = append(stops, backupManager.Stop)
	}
	return stopAll, nil
}

// startQuerySurfaces brings up the HTTP API and the Unix socket RPC
// server. A socket failure is downgraded to a warning; the TUI just
// falls back to HTTP.
func startQuerySurfaces(store *duckdb.Store, cfg appConfig) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, store)
		if err := apiServer.Start(); err != nil {
			return nil, fmt.Errorf("failed to start API server: %w", err)
		}
		stops = append(stops, func() { _ = apiServer.Stop() })
	}

	sockServer := socketrpc.NewServer(cfg.SocketPath, store)
	if err := sockServer.Start(); err != nil {
		log.Printf("Warning: failed to start socket server: %v", err)
	} else {
		stops = append(stops, sockServer.Stop)
	}
	return stopAll, nil
}

// watchShutdownSignals cancels the run context on the first SIGINT or
// SIGTERM. A second signal, or a blown deadline, forces the process
// down after removing the socket file.
func watchShutdownSignals(cancel context.CancelFunc, socketPath string) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(shutdownDeadline)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		if socketPath != "" {
			os.Remove(socketPath)
		}
		os.Exit(1)
	}()

	return func() { signal.Stop(sigCh) }
}

// startIngestSources builds the enabled input plugins and multiplexes
// their line streams into one channel.
func startIngestSources(ctx context.Context, cfg appConfig) *SourceMultiplexer {
	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.TCPEnabled,
		TCPAddr:    cfg.TCPAddr,
	})

	sources := make([]NamedFindingSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Printf("Error initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()
	return mux
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "sift")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	f, err := os.OpenFile(filepath.Join(logDir, "siftd.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() { _ = f.Close() }
}

// journalReplayer batches journal entries into store inserts, moving
// the commit watermark only after each batch lands.
type journalReplayer struct {
	store   *duckdb.Store
	journal *journal.Journal
	limit   int

	batch    []*duckdb.Finding
	maxSeq   uint64
	replayed int
}

func (r *journalReplayer) add(seq uint64, finding *model.Finding) error {
	copied := *finding
	r.batch = append(r.batch, &copied)
	if seq > r.maxSeq {
		r.maxSeq = seq
	}
	if len(r.batch) >= r.limit {
		return r.flush()
	}
	return nil
}

func (r *journalReplayer) flush() error {
	if len(r.batch) == 0 {
		return nil
	}
	if err := r.store.InsertFindingBatch(r.batch); err != nil {
		return err
	}
	if r.maxSeq > 0 {
		if err := r.journal.Commit(r.maxSeq); err != nil {
			return err
		}
	}
	r.replayed += len(r.batch)
	r.batch = r.batch[:0]
	r.maxSeq = 0
	return nil
}

func replayJournalBacklog(j *journal.Journal, store *duckdb.Store, batchSize int) error {
	if j == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}

	r := &journalReplayer{store: store, journal: j, limit: batchSize}
	if err := j.Replay(r.add); err != nil {
		return err
	}
	if err := r.flush(); err != nil {
		return err
	}
	if r.replayed > 0 {
		log.Printf("ingest journal: replayed %d uncommitted findings", r.replayed)
	}
	return nil
}

type bannerRow struct {
	label  string
	value  string
	active bool
}

func printStartupBanner(cfg appConfig, processorName string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	sections := []struct {
		title string
		rows  []bannerRow
	}{
		{"Gateway", []bannerRow{
			{"HTTP API", cfg.APIAddr, cfg.APIEnabled},
			{"TCP Ingest", cfg.TCPAddr, cfg.TCPEnabled},
			{"Unix Socket", shortenPath(cfg.SocketPath), true},
		}},
		{"Storage", []bannerRow{
			{"Database", shortenPath(cfg.DBPath), true},
			{"Snapshots", shortenPath(cfg.BackupLocalDir), cfg.BackupEnabled},
		}},
		{"Runtime", []bannerRow{
			{"Processor", processorName, true},
			{"Project", cfg.Project, true},
			{"Config File", configFileLabel(cfg.ConfigPath), true},
		}},
	}

	separator := dim.Render("    ─────────────────────────────────")

	var lines []string
	lines = append(lines, "",
		cyan.Bold(true).Render("    siftd")+"  "+dim.Render("v"+version),
		"", separator, "")

	for _, sec := range sections {
		lines = append(lines, bold.Render("    "+sec.title), "")
		for _, row := range sec.rows {
			glyph := dim.Render("●")
			value := dim.Render("disabled")
			if row.active {
				glyph = green.Render("●")
				value = cyan.Render(row.value)
			}
			lines = append(lines, fmt.Sprintf("    %s  %-14s %s", glyph, row.label, value))
		}
		lines = append(lines, "")
	}

	lines = append(lines, separator, "",
		"    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func configFileLabel(path string) string {
	if path == "" {
		return "default (no file)"
	}
	return shortenPath(path)
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
