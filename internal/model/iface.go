package model

import "time"

// QueryOpts holds optional filters applied to most queries.
type QueryOpts struct {
	Project string // empty = all projects
}

// FindingQuerier provides read-only queries on finding data.
type FindingQuerier interface {
	TotalFindingCount(opts QueryOpts) (int64, error)
	TotalRunCount(opts QueryOpts) (int64, error)
	SeverityCounts(opts QueryOpts) (map[string]int64, error)
	SeverityCountsByMinute(window time.Duration, opts QueryOpts) ([]MinuteCounts, error)
	TopRules(limit int, opts QueryOpts) ([]RuleCount, error)
	TopFiles(limit int, opts QueryOpts) ([]DimensionCount, error)
	TopChecks(limit int, opts QueryOpts) ([]DimensionCount, error)
	TopAttributes(limit int, opts QueryOpts) ([]AttributeStat, error)
	ListProjects() ([]string, error)
	RunHistory(limit int, opts QueryOpts) ([]Run, error)
	RecentFindingsFiltered(limit int, project string, severityLevels []string, messagePattern string) ([]Finding, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// FindingWriter provides append-oriented write operations for processed findings.
type FindingWriter interface {
	InsertFindingBatch(findings []*Finding) error
}

// RunWriter records harness run results.
type RunWriter interface {
	InsertRun(run *Run) error
}

// FindingReader provides the unified read-side query contract.
type FindingReader interface {
	FindingQuerier
	SchemaQuerier
}

// ReadAPI is the unified read contract for read surfaces (HTTP and socket RPC).
type ReadAPI interface {
	FindingReader
}
