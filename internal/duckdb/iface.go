package duckdb

import "github.com/checksift/sift/internal/model"

// Type aliases re-export model interfaces so existing consumers that
// import duckdb for these continue to compile.
type FindingQuerier = model.FindingQuerier
type SchemaQuerier = model.SchemaQuerier
type FindingWriter = model.FindingWriter
type RunWriter = model.RunWriter
type FindingReader = model.FindingReader
type ReadAPI = model.ReadAPI

// Compile-time checks that Store satisfies the read and write contracts.
var (
	_ FindingQuerier = (*Store)(nil)
	_ SchemaQuerier  = (*Store)(nil)
	_ FindingWriter  = (*Store)(nil)
	_ RunWriter      = (*Store)(nil)
)
