package main

import (
	"github.com/checksift/sift/internal/checkdef"
	"github.com/checksift/sift/internal/runner"
)

const (
	defaultChecksPath  = checkdef.DefaultPath
	defaultConcurrency = runner.DefaultConcurrency
)

// harnessConfig is the runtime configuration of the check harness.
type harnessConfig struct {
	ChecksPath     string `mapstructure:"checks-path"`
	Concurrency    int    `mapstructure:"concurrency"`
	Record         bool   `mapstructure:"record"`
	DBPath         string `mapstructure:"db-path"`
	JournalEnabled bool   `mapstructure:"journal-enabled"`
	JournalPath    string `mapstructure:"journal-path"`

	Only    []string `mapstructure:"-"` // from the -only flag
	ShowEnv bool     `mapstructure:"-"` // from the -show-env flag
}
