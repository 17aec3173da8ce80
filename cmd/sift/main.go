package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var checksPath string
	var only string
	var concurrency int
	var noRecord bool
	var showEnv bool
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/sift/config.yml)")
	flag.StringVar(&checksPath, "checks", "", "check definition file (default is .sift.yml)")
	flag.StringVar(&only, "only", "", "comma-separated check names to run")
	flag.IntVar(&concurrency, "concurrency", 0, "max checks to run in parallel")
	flag.BoolVar(&noRecord, "no-record", false, "do not record the run in the local database")
	flag.BoolVar(&showEnv, "show-env", false, "print each check's resolved environment (secrets redacted) and exit")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("sift - Check Harness\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadHarnessConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if checksPath != "" {
		cfg.ChecksPath = checksPath
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if noRecord {
		cfg.Record = false
	}
	if showEnv {
		cfg.ShowEnv = true
	}
	if only != "" {
		for _, name := range strings.Split(only, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Only = append(cfg.Only, name)
			}
		}
	}

	os.Exit(runHarness(cfg))
}

func loadHarnessConfig(configPath string) (harnessConfig, error) {
	var cfg harnessConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "sift")

	v := viper.New()
	v.SetEnvPrefix("SIFT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("checks-path", defaultChecksPath)
	v.SetDefault("concurrency", defaultConcurrency)
	v.SetDefault("record", true)
	v.SetDefault("db-path", filepath.Join(dataDir, "sift.duckdb"))
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(dataDir, "journal"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "sift", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	for _, p := range []*string{&cfg.DBPath, &cfg.JournalPath} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	return cfg, nil
}
