// Package metrics defines the metrics packetnet networks and the capture
// recorder report, and the HTTP server exposing them.
//
// Collection is opt-in. Until InitRegistry is called GetRegistry returns nil,
// the Prometheus constructors hand out no-op collectors and /metrics answers
// 503. A network built with nil Options.Metrics reports nothing.
//
//	metrics.InitRegistry(metrics.RuntimeCollectors()...)
//	netMetrics := prometheus.NewNetworkMetrics()
//	srv, err := network.NewServer(cfg, network.Options{Metrics: netMetrics})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry and registers extra on it.
// Only the first call has any effect.
func InitRegistry(extra ...prometheus.Collector) {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(extra...)
		registry = reg
	})
}

// RuntimeCollectors returns the Go runtime and process collectors.
func RuntimeCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
