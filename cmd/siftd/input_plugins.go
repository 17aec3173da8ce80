package main

import (
	"context"
	"fmt"
	"os"

	"github.com/checksift/sift/internal/findingsource"
	"github.com/checksift/sift/internal/tcpserver"
)

// NamedFindingSource aliases the shared source abstraction so the
// app-layer signatures stay explicit.
type NamedFindingSource = findingsource.Source

// InputSourcePlugin wires one kind of finding input into the daemon.
// Build is only called on enabled plugins.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedFindingSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled bool
	TCPAddr    string
}

// buildInputPlugins returns the plugin set in priority order: the TCP
// listener first, then stdin, which enables itself only when the
// daemon's stdin is a pipe.
func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	return []InputSourcePlugin{
		tcpInputPlugin{addr: cfg.TCPAddr, enabled: cfg.TCPEnabled},
		stdinInputPlugin{},
	}
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
}

func (p tcpInputPlugin) Name() string  { return "tcp" }
func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedFindingSource, error) {
	server := tcpserver.NewServer(p.addr)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return findingsource.NewTCPSource(server), nil
}

type stdinInputPlugin struct{}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedFindingSource, error) {
	return findingsource.NewStdinSource(ctx), nil
}
