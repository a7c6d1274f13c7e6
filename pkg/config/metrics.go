package config

import (
	"github.com/marmos91/packetnet/pkg/metrics"
	promMetrics "github.com/marmos91/packetnet/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Network collects connection and packet metrics (never nil)
	Network metrics.NetworkMetrics

	// Capture collects recorder metrics (never nil)
	Capture metrics.CaptureMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// When metrics are disabled the collectors are no-ops and Server is nil.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Network: metrics.NewNoopNetworkMetrics(),
			Capture: metrics.NewNoopCaptureMetrics(),
		}
	}

	metrics.InitRegistry(metrics.RuntimeCollectors()...)

	return &MetricsResult{
		Server:  metrics.NewServer(metrics.ServerConfig{Port: cfg.Server.Metrics.Port}),
		Network: promMetrics.NewNetworkMetrics(),
		Capture: promMetrics.NewCaptureMetrics(),
	}
}
