// Command sift-tui renders the live findings dashboard. It is a thin
// client: all data comes from a running siftd over the Unix socket.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/checksift/sift/internal/socketrpc"
	"github.com/checksift/sift/internal/tui"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default is $HOME/.config/sift/config.yml)")
	socketPath := flag.String("socket", "", "override socket path to connect to the sift service")
	showVersion := flag.Bool("version", false, "print version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("sift-tui - Dashboard Client\n")
	fmt.Printf("  Version:    %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Built:      %s\n", buildTime)
	fmt.Printf("  Go version: %s\n", goVersion)
}

func runTUI(cfg cliConfig) error {
	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to the sift service at %s: %w\nIs siftd running? Start it with: siftd", cfg.SocketPath, err)
	}
	defer client.Close()

	err = tui.Run(client, cfg.UpdateInterval)
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "TTY"), strings.Contains(err.Error(), "/dev/tty"):
		return fmt.Errorf("TUI requires a real terminal")
	default:
		return fmt.Errorf("error running TUI: %w", err)
	}
}
