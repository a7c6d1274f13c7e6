package adapter

import (
	"context"

	"github.com/marmos91/packetnet/pkg/metrics"
)

// MetricsAdapter runs the Prometheus HTTP endpoint.
type MetricsAdapter struct {
	server *metrics.Server
	addr   string
}

// NewMetricsAdapter wraps server, which is configured to listen on addr.
func NewMetricsAdapter(server *metrics.Server, addr string) *MetricsAdapter {
	return &MetricsAdapter{server: server, addr: addr}
}

func (a *MetricsAdapter) Serve(ctx context.Context) error { return a.server.Start(ctx) }

func (a *MetricsAdapter) Stop(ctx context.Context) error { return a.server.Stop(ctx) }

func (a *MetricsAdapter) Protocol() string { return "metrics" }

// Addr returns the bound address once serving, otherwise the configured one.
func (a *MetricsAdapter) Addr() string {
	if bound := a.server.Addr(); bound != nil {
		return bound.String()
	}
	return a.addr
}
