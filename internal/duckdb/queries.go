package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// writeKeywordPattern matches statement keywords that mutate state, at
// word boundaries so "RESET" does not trip on "SET". Checked after
// comment stripping and semicolon rejection.
var writeKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var out strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.String()
}

// queryCtx returns a context bounded by the store's query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// projectFilter returns a WHERE clause and args when opts.Project is set.
func projectFilter(opts QueryOpts) (clause string, args []interface{}) {
	if opts.Project != "" {
		return "WHERE project = ?", []interface{}{opts.Project}
	}
	return "", nil
}

// projectAnd is the projectFilter variant for queries that already carry
// a WHERE clause.
func projectAnd(opts QueryOpts) (clause string, args []interface{}) {
	if opts.Project != "" {
		return " AND project = ?", []interface{}{opts.Project}
	}
	return "", nil
}

// collectRows runs query under the read lock and hands every row to scan.
// A row that fails to scan is logged and skipped rather than failing the
// whole result set.
func (s *Store) collectRows(op, query string, args []interface{}, scan func(*sql.Rows) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if serr := scan(rows); serr != nil {
			log.Printf("duckdb: %s scan error: %v", op, serr)
		}
	}
	return rows.Err()
}

func (s *Store) scalarCount(query string, args []interface{}) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// TotalFindingCount returns the total number of findings in the database.
func (s *Store) TotalFindingCount(opts QueryOpts) (int64, error) {
	where, args := projectFilter(opts)
	return s.scalarCount("SELECT COUNT(*) FROM findings "+where, args)
}

// TotalRunCount returns the total number of recorded harness runs.
func (s *Store) TotalRunCount(opts QueryOpts) (int64, error) {
	where, args := projectFilter(opts)
	return s.scalarCount("SELECT COUNT(*) FROM runs "+where, args)
}

// SeverityCounts returns the total count per severity level.
func (s *Store) SeverityCounts(opts QueryOpts) (map[string]int64, error) {
	where, args := projectFilter(opts)
	query := fmt.Sprintf(`SELECT severity, COUNT(*) FROM findings %s GROUP BY severity`, where)

	result := make(map[string]int64)
	err := s.collectRows("SeverityCounts", query, args, func(rows *sql.Rows) error {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return err
		}
		result[severity] = count
		return nil
	})
	return result, err
}

// SeverityCountsByMinute returns per-minute severity breakdowns for the
// trailing window.
func (s *Store) SeverityCountsByMinute(window time.Duration, opts QueryOpts) ([]MinuteCounts, error) {
	andProject, pArgs := projectAnd(opts)
	query := fmt.Sprintf(`
		SELECT date_trunc('minute', timestamp) as minute,
			SUM(CASE WHEN severity='INFO' THEN 1 ELSE 0 END) as info,
			SUM(CASE WHEN severity='WARN' THEN 1 ELSE 0 END) as warn,
			SUM(CASE WHEN severity='ERROR' THEN 1 ELSE 0 END) as error,
			COUNT(*) as total
		FROM findings
		WHERE timestamp >= ?%s
		GROUP BY minute ORDER BY minute`, andProject)
	args := append([]interface{}{time.Now().Add(-window)}, pArgs...)

	var results []MinuteCounts
	err := s.collectRows("SeverityCountsByMinute", query, args, func(rows *sql.Rows) error {
		var mc MinuteCounts
		if err := rows.Scan(&mc.Minute, &mc.Info, &mc.Warn, &mc.Error, &mc.Total); err != nil {
			return err
		}
		results = append(results, mc)
		return nil
	})
	return results, err
}

// TopRules returns rule codes by descending finding count.
func (s *Store) TopRules(limit int, opts QueryOpts) ([]RuleCount, error) {
	where, wArgs := projectFilter(opts)
	query := fmt.Sprintf(`
		SELECT COALESCE(NULLIF(rule, ''), 'unknown') AS rule, check_name, COUNT(*) AS count
		FROM findings %s
		GROUP BY rule, check_name
		ORDER BY count DESC, rule ASC
		LIMIT ?`, where)

	var results []RuleCount
	err := s.collectRows("TopRules", query, append(wArgs, limit), func(rows *sql.Rows) error {
		var rc RuleCount
		if err := rows.Scan(&rc.Rule, &rc.Check, &rc.Count); err != nil {
			return err
		}
		results = append(results, rc)
		return nil
	})
	return results, err
}

// topDimension groups findings on one column and returns the heaviest
// values first. Column names come from callers below, never from input.
func (s *Store) topDimension(op, column string, limit int, opts QueryOpts) ([]DimensionCount, error) {
	where, wArgs := projectFilter(opts)
	query := fmt.Sprintf(`
		SELECT COALESCE(NULLIF(%[1]s, ''), 'unknown') AS %[1]s, COUNT(*) AS count
		FROM findings %[2]s
		GROUP BY %[1]s
		ORDER BY count DESC, %[1]s ASC
		LIMIT ?`, column, where)

	var results []DimensionCount
	err := s.collectRows(op, query, append(wArgs, limit), func(rows *sql.Rows) error {
		var item DimensionCount
		if err := rows.Scan(&item.Value, &item.Count); err != nil {
			return err
		}
		results = append(results, item)
		return nil
	})
	return results, err
}

// TopFiles returns files by descending finding count.
func (s *Store) TopFiles(limit int, opts QueryOpts) ([]DimensionCount, error) {
	return s.topDimension("TopFiles", "file", limit, opts)
}

// TopChecks returns check names by descending finding count.
func (s *Store) TopChecks(limit int, opts QueryOpts) ([]DimensionCount, error) {
	return s.topDimension("TopChecks", "check_name", limit, opts)
}

// TopAttributes returns the most frequent attribute key-value pairs.
func (s *Store) TopAttributes(limit int, opts QueryOpts) ([]AttributeStat, error) {
	where, wArgs := projectFilter(opts)
	query := fmt.Sprintf(`
		WITH attrs AS (
			SELECT
				unnest(map_keys(CAST(attributes AS MAP(VARCHAR, VARCHAR)))) AS attr_key,
				unnest(map_values(CAST(attributes AS MAP(VARCHAR, VARCHAR)))) AS attr_value
			FROM findings %s
		)
		SELECT attr_key, attr_value, COUNT(*) AS count
		FROM attrs
		WHERE attr_key IS NOT NULL AND attr_value IS NOT NULL
		GROUP BY attr_key, attr_value
		ORDER BY count DESC
		LIMIT ?`, where)

	var results []AttributeStat
	err := s.collectRows("TopAttributes", query, append(wArgs, limit), func(rows *sql.Rows) error {
		var as AttributeStat
		if err := rows.Scan(&as.Key, &as.Value, &as.Count); err != nil {
			return err
		}
		results = append(results, as)
		return nil
	})
	return results, err
}

// ListProjects returns all distinct project names from the findings table.
func (s *Store) ListProjects() ([]string, error) {
	var projects []string
	err := s.collectRows("ListProjects",
		`SELECT DISTINCT project FROM findings ORDER BY project`, nil,
		func(rows *sql.Rows) error {
			var project string
			if err := rows.Scan(&project); err != nil {
				return err
			}
			projects = append(projects, project)
			return nil
		})
	return projects, err
}

// RunHistory returns the most recent harness runs, newest first.
func (s *Store) RunHistory(limit int, opts QueryOpts) ([]Run, error) {
	where, wArgs := projectFilter(opts)
	query := fmt.Sprintf(`
		SELECT id, started_at, duration_ms, project, outcome, checks, findings, exit_code
		FROM runs %s
		ORDER BY started_at DESC
		LIMIT ?`, where)

	var results []Run
	err := s.collectRows("RunHistory", query, append(wArgs, limit), func(rows *sql.Rows) error {
		var r Run
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.StartedAt, &durationMS, &r.Project, &r.Outcome, &r.Checks, &r.Findings, &r.ExitCode); err != nil {
			return err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
		return nil
	})
	return results, err
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH queries are allowed; DDL and DML are rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Semicolons would allow statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip comments so keywords hidden inside them are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}
	if match := writeKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	const maxRows = 1000
	var results []map[string]interface{}
	for rows.Next() && len(results) < maxRows {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			log.Printf("duckdb: ExecuteQuery scan error: %v", err)
			continue
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable schema description.
func (s *Store) GetSchemaDescription() string {
	return `Table 'findings': id (BIGINT), timestamp (TIMESTAMP), run_id (VARCHAR), ` +
		`check_name (VARCHAR), rule (VARCHAR), severity (VARCHAR: INFO/WARN/ERROR), ` +
		`sev_num (INTEGER), file (VARCHAR), line (INTEGER), col (INTEGER), ` +
		`message (VARCHAR), raw_line (VARCHAR), attributes (JSON), ` +
		`source (VARCHAR: runner/tcp/stdin), project (VARCHAR), event_id (VARCHAR). ` +
		`Table 'runs': id (VARCHAR), started_at (TIMESTAMP), duration_ms (BIGINT), ` +
		`project (VARCHAR), outcome (VARCHAR: clean/findings/error), checks (INTEGER), ` +
		`findings (BIGINT), exit_code (INTEGER).`
}

// TableRowCounts returns the row count for each known table.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	counts := make(map[string]int64, 2)
	// Table names are constants, not user input.
	for _, table := range []string{"findings", "runs"} {
		count, err := s.scalarCount("SELECT COUNT(*) FROM "+table, nil)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}

// RecentFindingsFiltered returns recent findings, optionally filtered by
// project, severity levels, and a message regex. Results come back in
// chronological order.
func (s *Store) RecentFindingsFiltered(limit int, project string, severityLevels []string, messagePattern string) ([]Finding, error) {
	var conditions []string
	var args []interface{}

	if project != "" {
		conditions = append(conditions, "project = ?")
		args = append(args, project)
	}
	if len(severityLevels) > 0 {
		placeholders := make([]string, len(severityLevels))
		for i, lvl := range severityLevels {
			placeholders[i] = "?"
			args = append(args, lvl)
		}
		conditions = append(conditions, "severity IN ("+strings.Join(placeholders, ", ")+")")
	}
	if messagePattern != "" {
		conditions = append(conditions, "regexp_matches(message, ?)")
		args = append(args, messagePattern)
	}

	inner := "SELECT timestamp, run_id, check_name, rule, severity, sev_num, file, line, col, message, raw_line, CAST(attributes AS VARCHAR) AS attributes, source, project, event_id FROM findings"
	if len(conditions) > 0 {
		inner += " WHERE " + strings.Join(conditions, " AND ")
	}
	inner += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	// The inner LIMIT selects the newest rows; the outer ORDER flips
	// them back into chronological order.
	query := "SELECT * FROM (" + inner + ") ORDER BY timestamp ASC"

	var results []Finding
	err := s.collectRows("RecentFindingsFiltered", query, args, func(rows *sql.Rows) error {
		var f Finding
		var runID sql.NullString
		var attrsJSON string
		if err := rows.Scan(&f.Timestamp, &runID, &f.Check, &f.Rule, &f.Severity, &f.SevNum, &f.File, &f.Line, &f.Col, &f.Message, &f.RawLine, &attrsJSON, &f.Source, &f.Project, &f.EventID); err != nil {
			return err
		}
		if runID.Valid {
			f.RunID = runID.String
		}
		f.Attributes = make(map[string]string)
		if attrsJSON != "" && attrsJSON != "{}" {
			parseJSONMap(attrsJSON, f.Attributes)
		}
		results = append(results, f)
		return nil
	})
	return results, err
}

func parseJSONMap(jsonStr string, dest map[string]string) error {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return err
	}
	for k, v := range raw {
		dest[k] = fmt.Sprintf("%v", v)
	}
	return nil
}
