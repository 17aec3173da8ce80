package model

import "time"

// Finding represents a single normalized diagnostic used across the system.
// It is the canonical type for storage, transport (socket RPC), and display.
type Finding struct {
	Timestamp  time.Time
	RunID      string // empty for findings ingested outside a harness run
	Check      string // tool that produced the diagnostic ("flake8", "eslint")
	Rule       string // rule code ("E501", "no-unused-vars"); empty if unknown
	Severity   string // INFO/WARN/ERROR
	SevNum     int    // numeric severity: 30/40/50
	File       string // path as reported by the tool
	Line       int    // 0 = no position
	Col        int
	Message    string
	RawLine    string
	Attributes map[string]string
	Source     string // "runner", "tcp", "stdin"
	Project    string // project name, defaults to "default"
	EventID    string
}

// Run represents one harness invocation and its aggregate result.
type Run struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Project   string
	Outcome   string // OutcomeClean, OutcomeFindings, OutcomeError
	Checks    int
	Findings  int64
	ExitCode  int // normalized: 0 clean, 1 otherwise
}

// Run outcomes.
const (
	OutcomeClean    = "clean"
	OutcomeFindings = "findings"
	OutcomeError    = "error"
)

// RuleCount represents a rule code and how often it fired.
type RuleCount struct {
	Rule  string
	Check string
	Count int64
}

// DimensionCount represents grouped counts by a single dimension value
// (for example file or check name).
type DimensionCount struct {
	Value string
	Count int64
}

// AttributeStat represents an attribute key-value pair and its count.
type AttributeStat struct {
	Key   string
	Value string
	Count int64
}

// MinuteCounts represents severity counts for one minute.
type MinuteCounts struct {
	Minute time.Time
	Info   int64
	Warn   int64
	Error  int64
	Total  int64
}
