package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/checksift/sift/internal/model"
	"github.com/checksift/sift/internal/socketrpc"
	"github.com/spf13/viper"
)

// cliConfig is the TUI-relevant slice of the shared sift config file.
// The daemon's other keys are simply ignored here.
type cliConfig struct {
	UpdateInterval time.Duration `mapstructure:"update-interval"`
	SocketPath     string        `mapstructure:"socket-path"`
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	var cfg cliConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	if configPath == "" {
		configPath = filepath.Join(home, ".config", "sift", "config.yml")
	}

	v := viper.New()
	v.SetEnvPrefix("SIFT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetDefault("update-interval", model.DefaultUpdateInterval)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
