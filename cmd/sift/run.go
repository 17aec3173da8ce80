package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/checksift/sift/internal/checkdef"
	"github.com/checksift/sift/internal/duckdb"
	"github.com/checksift/sift/internal/envset"
	"github.com/checksift/sift/internal/ingest"
	"github.com/checksift/sift/internal/journal"
	"github.com/checksift/sift/internal/model"
	"github.com/checksift/sift/internal/runner"
)

const timePrecision = 10 * time.Millisecond

// runHarness loads the check definitions, executes the checks, records the
// run when enabled, prints a summary, and returns the normalized exit code:
// 0 only when every check ran and exited 0, otherwise 1.
func runHarness(cfg harnessConfig) int {
	file, err := checkdef.Load(cfg.ChecksPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.ShowEnv {
		fmt.Println(renderEnvListing(file))
		return 0
	}

	if selectedCheckCount(file, cfg.Only) == 0 {
		fmt.Fprintln(os.Stderr, "Warning: no checks to run")
		return 0
	}

	var sink ingest.RecordSink
	var store *duckdb.Store
	var buffer *duckdb.InsertBuffer

	if cfg.Record {
		store, buffer, err = openRecorder(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			return 1
		}
		sink = buffer
		defer store.Close()
		defer buffer.Stop() // idempotent; flushed explicitly below
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := runner.New(file, sink, runner.Config{
		Concurrency: cfg.Concurrency,
		Only:        cfg.Only,
	})

	result, err := r.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if buffer != nil {
		// Flush buffered findings before the run row so counts line up.
		buffer.Stop()
		if err := store.InsertRun(&result.Run); err != nil {
			log.Printf("sift: record run: %v", err)
		}
	}

	fmt.Println(renderSummary(result))
	return result.ExitCode()
}

func selectedCheckCount(file *checkdef.File, only []string) int {
	if len(only) == 0 {
		return len(file.Checks)
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}
	n := 0
	for _, c := range file.Checks {
		if wanted[c.Name] {
			n++
		}
	}
	return n
}

// openRecorder opens the local store and a journaled insert buffer.
func openRecorder(cfg harnessConfig) (*duckdb.Store, *duckdb.InsertBuffer, error) {
	store, err := duckdb.NewStore(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	var ingestJournal *journal.Journal
	if cfg.JournalEnabled {
		ingestJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
	}

	buffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		Journal: ingestJournal,
	})
	return store, buffer, nil
}

// renderEnvListing shows the environment each check would receive.
// Secret values are redacted; a check whose required variables are
// missing shows the resolution error instead of a value list.
func renderEnvListing(file *checkdef.File) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	bold := lipgloss.NewStyle().Bold(true)
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var lines []string
	for _, c := range file.Checks {
		lines = append(lines, bold.Render("  "+c.Name))

		resolved, err := envset.Resolve(file.EnvFor(c), nil)
		if err != nil {
			lines = append(lines, red.Render("    "+err.Error()), "")
			continue
		}

		described := resolved.Describe()
		if len(described) == 0 {
			lines = append(lines, dim.Render("    (no declared variables)"), "")
			continue
		}
		keys := make([]string, 0, len(described))
		for k := range described {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("    %s=%s", k, described[k]))
		}
		for _, w := range resolved.Warnings() {
			lines = append(lines, dim.Render("    warning: "+w))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func renderSummary(result *runner.Result) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	bold := lipgloss.NewStyle().Bold(true)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, bold.Render("  Checks"))
	lines = append(lines, "")

	for _, cr := range result.Checks {
		var glyph, status string
		switch {
		case cr.Err != nil:
			glyph = red.Render("✗")
			status = red.Render("error: " + cr.Err.Error())
		case cr.ExitCode != 0:
			glyph = yellow.Render("!")
			status = yellow.Render(fmt.Sprintf("exit %d, %d findings", cr.ExitCode, cr.Findings))
		default:
			glyph = green.Render("✓")
			status = green.Render("clean")
		}
		lines = append(lines, fmt.Sprintf("  %s  %-16s %s  %s",
			glyph, cr.Name, dim.Render(cr.Duration.Round(timePrecision).String()), status))
	}

	lines = append(lines, "")
	outcomeLine := fmt.Sprintf("  %s in %s: %d checks, %d findings",
		strings.ToUpper(result.Run.Outcome),
		result.Run.Duration.Round(timePrecision),
		result.Run.Checks, result.Run.Findings)
	switch result.Run.Outcome {
	case model.OutcomeClean:
		lines = append(lines, green.Render(outcomeLine))
	case model.OutcomeFindings:
		lines = append(lines, yellow.Render(outcomeLine))
	default:
		lines = append(lines, red.Render(outcomeLine))
	}
	lines = append(lines, dim.Render(fmt.Sprintf("  exit %d", result.ExitCode())))

	return strings.Join(lines, "\n")
}
