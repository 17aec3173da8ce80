package model

import "time"

// Shared defaults used by the harness, the service, and the TUI client.
const (
	DefaultUpdateInterval = 2 * time.Second
	DefaultLineBuffer     = 1000
	DefaultProject        = "default"
)

// Numeric severity values. The scale leaves room below and above for
// tools that report finer-grained levels.
const (
	SevNumInfo  = 30
	SevNumWarn  = 40
	SevNumError = 50
)
