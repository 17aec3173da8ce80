package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/checksift/sift/internal/checkdef"
	"github.com/checksift/sift/internal/envset"
	"github.com/checksift/sift/internal/model"
	"github.com/checksift/sift/internal/runner"
)

func writeChecksFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".sift.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write checks file: %v", err)
	}
	return path
}

func TestRunHarness_CleanChecksExitZero(t *testing.T) {
	path := writeChecksFile(t, `
checks:
  - name: ok
    command: "true"
`)

	code := runHarness(harnessConfig{ChecksPath: path, Concurrency: 1})
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestRunHarness_FailingCheckExitOne(t *testing.T) {
	path := writeChecksFile(t, `
checks:
  - name: fails
    command: sh
    args: ["-c", "exit 42"]
`)

	code := runHarness(harnessConfig{ChecksPath: path, Concurrency: 1})
	if code != 1 {
		t.Errorf("exit code = %d, want 1 (normalized from 42)", code)
	}
}

func TestRunHarness_MissingDefinitionFile(t *testing.T) {
	code := runHarness(harnessConfig{
		ChecksPath: filepath.Join(t.TempDir(), "nope.yml"),
	})
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestRunHarness_EmptyCheckListExitsZero(t *testing.T) {
	path := writeChecksFile(t, `
checks: []
`)

	code := runHarness(harnessConfig{ChecksPath: path})
	if code != 0 {
		t.Errorf("exit code = %d, want 0 for empty check list", code)
	}
}

func TestRunHarness_OnlyFilterWithNoMatchExitsZero(t *testing.T) {
	path := writeChecksFile(t, `
checks:
  - name: ok
    command: "true"
`)

	code := runHarness(harnessConfig{
		ChecksPath: path,
		Only:       []string{"nonexistent"},
	})
	if code != 0 {
		t.Errorf("exit code = %d, want 0 when the filter selects nothing", code)
	}
}

func TestRunHarness_RecordsRunInDatabase(t *testing.T) {
	dir := t.TempDir()
	path := writeChecksFile(t, `
project: shop-backend
checks:
  - name: ok
    command: "true"
`)

	cfg := harnessConfig{
		ChecksPath:  path,
		Concurrency: 1,
		Record:      true,
		DBPath:      filepath.Join(dir, "sift.duckdb"),
		JournalPath: filepath.Join(dir, "journal"),
	}
	if code := runHarness(cfg); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	// A second harness process reads the same database file.
	store, _, err := openRecorder(cfg)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()

	runs, err := store.RunHistory(10, model.QueryOpts{Project: "shop-backend"})
	if err != nil {
		t.Fatalf("RunHistory: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("recorded runs = %d, want 1", len(runs))
	}
	if runs[0].Outcome != model.OutcomeClean {
		t.Errorf("outcome = %q, want %q", runs[0].Outcome, model.OutcomeClean)
	}
}

func TestSelectedCheckCount(t *testing.T) {
	t.Parallel()

	file := &checkdef.File{Checks: []checkdef.Check{
		{Name: "a"}, {Name: "b"}, {Name: "c"},
	}}

	if got := selectedCheckCount(file, nil); got != 3 {
		t.Errorf("no filter: got %d, want 3", got)
	}
	if got := selectedCheckCount(file, []string{"a", "c"}); got != 2 {
		t.Errorf("filter a,c: got %d, want 2", got)
	}
	if got := selectedCheckCount(file, []string{"x"}); got != 0 {
		t.Errorf("filter x: got %d, want 0", got)
	}
}

func TestRenderEnvListing_RedactsSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/shop")
	t.Setenv("JWT_SECRET_KEY", "supersecretvalue")

	file := &checkdef.File{
		Project: "shop-backend",
		Env: []envset.Var{
			{Name: "DATABASE_URL", Required: true},
			{Name: "JWT_SECRET", Required: true, Secret: true, Aliases: []string{"JWT_SECRET_KEY"}},
		},
		Checks: []checkdef.Check{{Name: "flake8", Command: "flake8"}},
	}

	out := renderEnvListing(file)
	if strings.Contains(out, "supersecretvalue") {
		t.Errorf("listing leaks secret value:\n%s", out)
	}
	for _, want := range []string{
		"flake8",
		"DATABASE_URL=postgres://localhost/shop",
		"JWT_SECRET=su",
		"JWT_SECRET_KEY is deprecated",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestRunHarness_ShowEnvDoesNotRunChecks(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	path := writeChecksFile(t, `
checks:
  - name: toucher
    command: touch
    args: ["`+marker+`"]
`)

	code := runHarness(harnessConfig{ChecksPath: path, ShowEnv: true})
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("check executed during -show-env; marker stat err = %v", err)
	}
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	result := &runner.Result{
		Run: model.Run{
			Outcome:  model.OutcomeFindings,
			Duration: 3 * time.Second,
			Checks:   2,
			Findings: 5,
		},
		Checks: []runner.CheckResult{
			{Name: "flake8", ExitCode: 1, Findings: 5, Duration: 2 * time.Second},
			{Name: "eslint", ExitCode: 0, Duration: time.Second},
		},
	}

	out := renderSummary(result)
	for _, want := range []string{"flake8", "eslint", "5 findings", "clean", "FINDINGS", "exit 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
