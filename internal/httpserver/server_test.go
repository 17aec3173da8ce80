package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/checksift/sift/internal/duckdb"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*duckdb.Store, http.Handler) {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := NewServer("", store)
	srv.startTime = time.Now()

	return store, srv.Router()
}

func seedFindings(t *testing.T, store *duckdb.Store) {
	t.Helper()
	err := store.InsertFindingBatch([]*duckdb.Finding{
		{Timestamp: time.Now(), Check: "flake8", Rule: "E501", Severity: "ERROR", SevNum: 50,
			File: "app/main.py", Line: 12, Message: "line too long", Project: "shop-backend", Source: "runner"},
		{Timestamp: time.Now(), Check: "flake8", Rule: "W291", Severity: "WARN", SevNum: 40,
			File: "app/main.py", Line: 20, Message: "trailing whitespace", Project: "shop-backend", Source: "runner"},
		{Timestamp: time.Now(), Check: "eslint", Rule: "semi", Severity: "WARN", SevNum: 40,
			File: "src/cart.js", Line: 7, Message: "missing semicolon", Project: "shop-frontend", Source: "runner"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestSummaryEndpoint(t *testing.T) {
	store, r := newTestServer(t)
	seedFindings(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/summary?project=shop-backend", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("summary status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body struct {
		Total      int64            `json:"total"`
		Severities map[string]int64 `json:"severities"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if body.Total != 2 {
		t.Errorf("summary total = %d, want 2", body.Total)
	}
	if body.Severities["ERROR"] != 1 || body.Severities["WARN"] != 1 {
		t.Errorf("severities = %v, want ERROR:1 WARN:1", body.Severities)
	}
}

func TestFindingsEndpoint_SeverityFilter(t *testing.T) {
	store, r := newTestServer(t)
	seedFindings(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/findings?severity=warn", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("findings status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal findings: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("findings count = %d, want 2", body.Count)
	}
}

func TestRunsEndpoint(t *testing.T) {
	store, r := newTestServer(t)
	if err := store.InsertRun(&duckdb.Run{
		ID: "run-1", StartedAt: time.Now(), Duration: time.Second,
		Project: "default", Outcome: duckdb.OutcomeClean, Checks: 1,
	}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("runs status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal runs: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("runs count = %d, want 1", body.Count)
	}
}

func TestProjectsEndpoint(t *testing.T) {
	store, r := newTestServer(t)
	seedFindings(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("projects status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Projects []string `json:"projects"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal projects: %v", err)
	}
	if len(body.Projects) != 2 {
		t.Errorf("projects = %v, want 2 entries", body.Projects)
	}
}

func TestPatternsEndpoint(t *testing.T) {
	store, r := newTestServer(t)
	msgs := []string{
		"line too long (88 > 79 characters)",
		"line too long (92 > 79 characters)",
		"line too long (101 > 79 characters)",
	}
	batch := make([]*duckdb.Finding, 0, len(msgs))
	for i, msg := range msgs {
		batch = append(batch, &duckdb.Finding{
			Timestamp: time.Now(), Check: "flake8", Rule: "E501", Severity: "ERROR", SevNum: 50,
			File: "app/main.py", Line: 10 + i, Message: msg, Project: "shop-backend", Source: "runner",
		})
	}
	if err := store.InsertFindingBatch(batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/patterns", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("patterns status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body struct {
		Patterns []struct {
			Template string
			Count    int
		} `json:"patterns"`
		PatternCount  int `json:"pattern_count"`
		TotalMessages int `json:"total_messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal patterns: %v", err)
	}
	if body.TotalMessages != 3 {
		t.Errorf("total_messages = %d, want 3", body.TotalMessages)
	}
	if body.PatternCount != 1 || len(body.Patterns) != 1 {
		t.Fatalf("pattern_count = %d patterns = %+v, want the three messages merged", body.PatternCount, body.Patterns)
	}
	if body.Patterns[0].Count != 3 {
		t.Errorf("pattern count = %d, want 3", body.Patterns[0].Count)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("schema status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestQueryEndpoint_ValidSelect(t *testing.T) {
	store, r := newTestServer(t)
	seedFindings(t, store)

	body := `{"sql": "SELECT COUNT(*) as cnt FROM findings"}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("query status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestQueryEndpoint_RejectsInsert(t *testing.T) {
	_, r := newTestServer(t)

	body := `{"sql": "INSERT INTO findings (severity, message) VALUES ('INFO', 'hack')"}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("INSERT query status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestQueryEndpoint_RejectsDrop(t *testing.T) {
	_, r := newTestServer(t)

	body := `{"sql": "DROP TABLE findings"}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("DROP query status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestQueryEndpoint_EmptySQL(t *testing.T) {
	_, r := newTestServer(t)

	body := `{"sql": ""}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("empty sql status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestQueryEndpoint_WrongMethod(t *testing.T) {
	_, r := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/query", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("query GET status = %d, want 405 or 404", w.Code)
	}
}
