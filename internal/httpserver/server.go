package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/checksift/sift/internal/model"
	"github.com/checksift/sift/internal/patterns"
	"github.com/gin-gonic/gin"
)

// QueryStore is the narrow store contract required by the HTTP API.
type QueryStore interface {
	model.FindingQuerier
	model.SchemaQuerier
}

// Server provides an HTTP API for querying finding analytics.
type Server struct {
	addr      string
	store     QueryStore
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store QueryStore) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Router builds the gin handler. Exposed for tests.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/schema", s.handleSchema)
	r.POST("/api/query", s.handleQuery)
	r.GET("/api/summary", s.handleSummary)
	r.GET("/api/patterns", s.handlePatterns)
	r.GET("/api/findings", s.handleFindings)
	r.GET("/api/runs", s.handleRuns)
	r.GET("/api/projects", s.handleProjects)

	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Router(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the bound listen address, useful when the configured
// address uses port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func queryOpts(c *gin.Context) model.QueryOpts {
	return model.QueryOpts{Project: c.Query("project")}
}

func limitParam(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *Server) handleHealth(c *gin.Context) {
	findingCount, err := s.store.TotalFindingCount(model.QueryOpts{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"finding_count": findingCount,
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	opts := queryOpts(c)
	limit := limitParam(c, 10)

	total, err := s.store.TotalFindingCount(opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read finding count"})
		return
	}
	severities, err := s.store.SeverityCounts(opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read severity counts"})
		return
	}
	rules, err := s.store.TopRules(limit, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read top rules"})
		return
	}
	files, err := s.store.TopFiles(limit, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read top files"})
		return
	}
	checks, err := s.store.TopChecks(limit, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read top checks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":      total,
		"severities": severities,
		"top_rules":  rules,
		"top_files":  files,
		"top_checks": checks,
	})
}

// patternSampleSize caps how many recent findings feed one mining pass.
const patternSampleSize = 2000

func (s *Server) handlePatterns(c *gin.Context) {
	limit := limitParam(c, 20)

	findings, err := s.store.RecentFindingsFiltered(patternSampleSize, c.Query("project"), nil, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read findings for pattern mining"})
		return
	}

	miner := patterns.NewMiner()
	for _, f := range findings {
		miner.AddMessage(f.Message)
	}

	mined := miner.TopPatterns(limit)
	patternCount, totalMessages := miner.Stats()

	c.JSON(http.StatusOK, gin.H{
		"patterns":       mined,
		"pattern_count":  patternCount,
		"total_messages": totalMessages,
	})
}

func (s *Server) handleFindings(c *gin.Context) {
	limit := limitParam(c, 100)
	project := c.Query("project")

	var severities []string
	if raw := c.Query("severity"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
				severities = append(severities, s)
			}
		}
	}

	findings, err := s.store.RecentFindingsFiltered(limit, project, severities, c.Query("pattern"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"findings": findings,
		"count":    len(findings),
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	runs, err := s.store.RunHistory(limitParam(c, 50), queryOpts(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleProjects(c *gin.Context) {
	projects, err := s.store.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list projects"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"projects": projects})
}
