package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/packetnet/internal/echo"
	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/adapter"
	"github.com/marmos91/packetnet/pkg/capture"
	"github.com/marmos91/packetnet/pkg/config"
	"github.com/marmos91/packetnet/pkg/network"
	"github.com/marmos91/packetnet/pkg/server"
	"github.com/spf13/cobra"
)

var _ network.Recorder = (*capture.Recorder)(nil)

func serveCmd() *cobra.Command {
	var (
		listen    string
		transport string
		capturing bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		Long: `Run the echo server on the configured listener until SIGINT or SIGTERM.

The metrics endpoint and traffic capture start when enabled in the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen.Address = listen
			}
			if transport != "" {
				cfg.Listen.Transport = transport
				config.ApplyDefaults(cfg)
			}
			if capturing {
				cfg.Capture.Enabled = true
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address, overrides listen.address")
	cmd.Flags().StringVarP(&transport, "transport", "t", "", "tcp or websocket, overrides listen.transport")
	cmd.Flags().BoolVar(&capturing, "capture", false, "record traffic, overrides capture.enabled")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	m := config.InitializeMetrics(cfg)

	crypt, err := config.CreateCryptor(&cfg.Crypto)
	if err != nil {
		return err
	}

	handler := echo.NewHandler(nil)
	opts := network.Options{
		Registry: echo.Registry,
		Handler:  handler,
		Cryptor:  crypt,
		Metrics:  m.Network,
		OnAccept: func(c *network.Connection) error {
			logger.Info("Accepted %s from %s", c.ID(), c.RemoteAddr())
			return nil
		},
		OnClose: func(c *network.Connection, reason error) {
			logger.Info("Closed %s: %v", c.ID(), reason)
		},
	}

	orchestrator := server.New(cfg.Server.ShutdownTimeout)

	if cfg.Capture.Enabled {
		store, err := config.CreateCaptureStore(ctx, &cfg.Capture)
		if err != nil {
			return err
		}
		recorder := capture.NewRecorder(store, cfg.Capture.Recorder, capture.Options{Metrics: m.Capture})
		opts.Recorder = recorder

		// Closers run in reverse: the recorder flushes before the store closes.
		orchestrator.AddCloser("capture store", func(context.Context) error { return store.Close() })
		orchestrator.AddCloser("capture recorder", recorder.Close)
		logger.Info("Capturing traffic to %s store", store.Name())
	}

	srv, err := network.NewServer(cfg.Network, opts)
	if err != nil {
		return err
	}
	handler.SetRelay(srv)

	ln, err := config.CreateListener(&cfg.Listen)
	if err != nil {
		return err
	}
	if err := orchestrator.AddAdapter(adapter.NewNetworkAdapter(srv, ln, cfg.Listen.Transport)); err != nil {
		_ = ln.Close()
		return err
	}

	if m.Server != nil {
		addr := fmt.Sprintf(":%d", cfg.Server.Metrics.Port)
		if err := orchestrator.AddAdapter(adapter.NewMetricsAdapter(m.Server, addr)); err != nil {
			return err
		}
	}

	err = orchestrator.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
