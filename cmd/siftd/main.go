package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/checksift/sift/internal/socketrpc"

	"github.com/spf13/viper"
)

// Build variables, set by ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/sift/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("siftd - Finding Ingestion Service\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, an optional YAML file, and SIFT_*
// environment variables, then validates and normalizes the result.
func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := newConfigReader(home)
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "sift", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}
	normalizeConfig(&cfg, home)
	return cfg, nil
}

func newConfigReader(home string) *viper.Viper {
	dataDir := filepath.Join(home, ".local", "share", "sift")

	v := viper.New()
	v.SetEnvPrefix("SIFT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("project", defaultProject)
	v.SetDefault("processor", defaultProcessor)
	v.SetDefault("host", defaultBindHost)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("db-path", filepath.Join(dataDir, "sift.duckdb"))
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("finding-retention", defaultFindingRetention)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(dataDir, "journal"))
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-s3-use-ssl", true)
	return v
}

func validateConfig(cfg *appConfig) error {
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if !cfg.BackupEnabled {
		return nil
	}
	if cfg.BackupInterval <= 0 {
		return fmt.Errorf("invalid backup-interval: %s", cfg.BackupInterval)
	}
	if cfg.BackupKeepLast <= 0 {
		return fmt.Errorf("invalid backup-keep-last: %d", cfg.BackupKeepLast)
	}
	if cfg.BackupBucketURL != "" && (cfg.BackupS3AccessKey == "" || cfg.BackupS3SecretKey == "") {
		return fmt.Errorf("backup-s3-access-key and backup-s3-secret-key are required with backup-bucket-url")
	}
	return nil
}

// normalizeConfig expands ~ in paths and derives listen addresses from
// host and port unless set explicitly.
func normalizeConfig(cfg *appConfig, home string) {
	for _, p := range []*string{&cfg.DBPath, &cfg.JournalPath, &cfg.BackupLocalDir} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
}
