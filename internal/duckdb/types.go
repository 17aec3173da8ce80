package duckdb

import "github.com/checksift/sift/internal/model"

// Type aliases re-export model types so duckdb.Store method signatures
// stay readable without importing model at every call site.
type Finding = model.Finding
type Run = model.Run
type RuleCount = model.RuleCount
type DimensionCount = model.DimensionCount
type AttributeStat = model.AttributeStat
type MinuteCounts = model.MinuteCounts
type QueryOpts = model.QueryOpts

// Run outcome values re-exported for callers working through this package.
const (
	OutcomeClean    = model.OutcomeClean
	OutcomeFindings = model.OutcomeFindings
	OutcomeError    = model.OutcomeError
)
