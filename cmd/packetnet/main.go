package main

import (
	"fmt"
	"os"

	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/config"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "packetnet",
		Short: "Framed packet networking over TCP or WebSocket",
		Long: `packetnet runs a length-prefixed packet server and client.

The bundled echo protocol answers pings and relays chat lines, which makes
the binary useful to exercise framing, encryption, capture and metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $XDG_CONFIG_HOME/packetnet/config.yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		pingCmd(),
		initCmd(),
		captureCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig loads the configuration and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}
	return cfg, nil
}
