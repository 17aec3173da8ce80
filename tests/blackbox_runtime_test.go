package tests

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// These tests exercise a real siftd binary: they build it once, start
// it with a generated config, and talk to it only over its public
// surfaces (TCP ingest and the HTTP API).

type daemonConfig struct {
	dbPath         string
	journalPath    string
	journalEnabled bool
}

type daemonProc struct {
	cmd     *exec.Cmd
	api     apiClient
	tcpAddr string
	output  *bytes.Buffer

	exitCh  chan error
	exited  bool
	exitErr error
}

var buildDaemon struct {
	once sync.Once
	bin  string
	err  error
}

func TestBlackBox_ReplaysPreseededJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := daemonConfig{
		dbPath:         filepath.Join(dir, "sift.duckdb"),
		journalPath:    filepath.Join(dir, "ingest.journal"),
		journalEnabled: true,
	}

	const total = 24
	writeJournalFixture(t, cfg.journalPath, "preseed-project", total, 0)

	srv := startDaemon(t, cfg)
	defer srv.kill(t)
	srv.awaitProjectCount(t, "preseed-project", total, 10*time.Second)
}

func TestBlackBox_ReplaySkipsCommittedPrefix(t *testing.T) {
	dir := t.TempDir()
	cfg := daemonConfig{
		dbPath:         filepath.Join(dir, "sift.duckdb"),
		journalPath:    filepath.Join(dir, "ingest.journal"),
		journalEnabled: true,
	}

	// 22 of 30 entries are already committed; only the tail replays.
	writeJournalFixture(t, cfg.journalPath, "partial-project", 30, 22)

	srv := startDaemon(t, cfg)
	defer srv.kill(t)
	srv.awaitProjectCount(t, "partial-project", 8, 10*time.Second)
}

func TestBlackBox_JournalToggleBehavior(t *testing.T) {
	dir := t.TempDir()

	t.Run("enabled journal records every line", func(t *testing.T) {
		cfg := daemonConfig{
			dbPath:         filepath.Join(dir, "sift.duckdb"),
			journalPath:    filepath.Join(dir, "ingest.journal"),
			journalEnabled: true,
		}
		srv := startDaemon(t, cfg)
		defer srv.kill(t)

		lines := burst(80, "journal-on-project", "journal-on-check")
		sendLines(t, srv.tcpAddr, lines)
		srv.awaitProjectCount(t, "journal-on-project", int64(len(lines)), 10*time.Second)

		poll(t, 10*time.Second, "journal never reached 80 lines", func() bool {
			return countFileLines(cfg.journalPath) >= len(lines)
		})
		if _, err := os.Stat(cfg.journalPath + ".commit"); err != nil {
			t.Fatalf("expected commit file when journal is enabled: %v", err)
		}
	})

	t.Run("disabled journal writes nothing", func(t *testing.T) {
		cfg := daemonConfig{
			dbPath:         filepath.Join(dir, "sift-nojournal.duckdb"),
			journalPath:    filepath.Join(dir, "ingest-disabled.journal"),
			journalEnabled: false,
		}
		srv := startDaemon(t, cfg)
		defer srv.kill(t)

		lines := burst(40, "journal-off-project", "journal-off-check")
		sendLines(t, srv.tcpAddr, lines)
		srv.awaitProjectCount(t, "journal-off-project", int64(len(lines)), 10*time.Second)

		if _, err := os.Stat(cfg.journalPath); !os.IsNotExist(err) {
			t.Fatalf("expected no journal file when journal is disabled; err=%v", err)
		}
	})
}

func startDaemon(t *testing.T, cfg daemonConfig) *daemonProc {
	t.Helper()

	apiPort := reservePort(t)
	tcpPort := reservePort(t)
	stamp := time.Now().UnixNano()
	dir := filepath.Dir(cfg.dbPath)

	// Retention is off so old fixture timestamps cannot be cleaned up
	// between replay and assertion.
	configBody := fmt.Sprintf(`host: 127.0.0.1
tcp-enabled: true
tcp-port: %d
api-enabled: true
api-port: %d
db-path: %q
socket-path: %q
query-timeout: 5s
insert-batch-size: 64
insert-flush-interval: 20ms
insert-flush-queue-size: 32
journal-enabled: %t
journal-path: %q
finding-retention: 0
backup-enabled: false
`, tcpPort, apiPort, cfg.dbPath,
		filepath.Join(dir, fmt.Sprintf("sift-%d.sock", stamp)),
		cfg.journalEnabled, cfg.journalPath)

	configPath := filepath.Join(dir, fmt.Sprintf("config-%d.yml", stamp))
	if err := os.WriteFile(configPath, []byte(configBody), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	cmd := exec.Command(daemonBinary(t), "--config", configPath)
	cmd.Dir = repoRoot(t)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start siftd process: %v", err)
	}

	srv := &daemonProc{
		cmd:     cmd,
		api:     apiClient{addr: fmt.Sprintf("127.0.0.1:%d", apiPort)},
		tcpAddr: fmt.Sprintf("127.0.0.1:%d", tcpPort),
		output:  &out,
		exitCh:  make(chan error, 1),
	}
	go func() { srv.exitCh <- cmd.Wait() }()

	poll(t, 20*time.Second, "siftd api failed to become ready", func() bool {
		if exited, err := srv.pollExited(); exited {
			t.Fatalf("siftd exited before ready: %v\n%s", err, srv.output.String())
		}
		resp, err := http.Get("http://" + srv.api.addr + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	t.Cleanup(func() {
		if exited, _ := srv.pollExited(); exited {
			return
		}
		srv.cmd.Process.Kill()
		srv.awaitExit(3 * time.Second)
	})
	return srv
}

func daemonBinary(t *testing.T) string {
	t.Helper()
	buildDaemon.once.Do(func() {
		tmpDir, err := os.MkdirTemp("", "siftd-blackbox-bin-*")
		if err != nil {
			buildDaemon.err = fmt.Errorf("mktemp bin dir: %w", err)
			return
		}
		buildDaemon.bin = filepath.Join(tmpDir, "siftd")

		cmd := exec.Command("go", "build", "-o", buildDaemon.bin, "./cmd/siftd")
		cmd.Dir = repoRoot(t)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			buildDaemon.err = fmt.Errorf("build siftd binary: %w\n%s", err, out.String())
		}
	})
	if buildDaemon.err != nil {
		t.Fatal(buildDaemon.err)
	}
	return buildDaemon.bin
}

func (s *daemonProc) kill(t *testing.T) {
	t.Helper()
	if exited, _ := s.pollExited(); exited {
		return
	}
	if err := s.cmd.Process.Kill(); err != nil {
		t.Fatalf("kill process: %v", err)
	}
	if !s.awaitExit(5 * time.Second) {
		t.Fatalf("process did not exit after kill; output:\n%s", s.output.String())
	}
}

func (s *daemonProc) pollExited() (bool, error) {
	if s.exited {
		return true, s.exitErr
	}
	select {
	case err := <-s.exitCh:
		s.exited = true
		s.exitErr = err
		return true, err
	default:
		return false, nil
	}
}

func (s *daemonProc) awaitExit(timeout time.Duration) bool {
	if s.exited {
		return true
	}
	select {
	case err := <-s.exitCh:
		s.exited = true
		s.exitErr = err
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *daemonProc) awaitProjectCount(t *testing.T, project string, want int64, timeout time.Duration) {
	t.Helper()
	escaped := strings.ReplaceAll(project, "'", "''")
	sql := fmt.Sprintf("SELECT COUNT(*) AS c FROM findings WHERE project = '%s'", escaped)
	poll(t, timeout, fmt.Sprintf("project %s never reached %d findings", project, want), func() bool {
		res, err := s.api.query(sql)
		if err != nil || len(res.Rows) != 1 {
			return false
		}
		n, ok := res.Rows[0]["c"].(float64)
		return ok && int64(n) == want
	})
}

// sendLines streams newline-delimited diagnostics to a TCP ingest addr.
func sendLines(t *testing.T, addr string, lines []string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		t.Fatalf("dial tcp %s: %v", addr, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	w := bufio.NewWriterSize(conn, 256*1024)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			t.Fatalf("write line: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func countFileLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "\n") + 1
}

// writeJournalFixture seeds an ingest journal as a crashed daemon
// would have left it: total entries plus a commit watermark.
func writeJournalFixture(t *testing.T, journalPath, project string, total, committed int64) {
	t.Helper()
	if total <= 0 || committed < 0 || committed > total {
		t.Fatalf("bad fixture shape: total=%d committed=%d", total, committed)
	}
	if err := os.MkdirAll(filepath.Dir(journalPath), 0755); err != nil {
		t.Fatalf("mkdir journal dir: %v", err)
	}

	var buf bytes.Buffer
	baseTS := time.Now().UTC().Add(-time.Duration(total) * time.Second)
	for i := int64(1); i <= total; i++ {
		entry := map[string]any{
			"seq": i,
			"finding": map[string]any{
				"Timestamp":  baseTS.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
				"Check":      "seed-check",
				"Rule":       "E501",
				"Severity":   "WARN",
				"SevNum":     40,
				"File":       fmt.Sprintf("src/seed_%d.py", i),
				"Line":       int(i),
				"Col":        80,
				"Message":    fmt.Sprintf("seed-%d", i),
				"RawLine":    fmt.Sprintf("src/seed_%d.py:%d:80: E501 seed-%d", i, i, i),
				"Attributes": map[string]string{"seed": "true"},
				"Source":     "tcp",
				"Project":    project,
				"EventID":    fmt.Sprintf("seed-%d", i),
			},
		}
		line, err := json.Marshal(entry)
		if err != nil {
			t.Fatalf("marshal journal entry: %v", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(journalPath, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write journal fixture: %v", err)
	}
	if err := os.WriteFile(journalPath+".commit", []byte(strconv.FormatInt(committed, 10)+"\n"), 0644); err != nil {
		t.Fatalf("write commit fixture: %v", err)
	}
}

func reservePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve tcp port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for dir := wd; ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		if filepath.Dir(dir) == dir {
			t.Fatalf("could not find repo root from %s", wd)
		}
	}
}
