package adapter

import (
	"context"
	"errors"
	"net"

	"github.com/marmos91/packetnet/pkg/network"
)

// NetworkAdapter serves a network.Server on a listener.
type NetworkAdapter struct {
	server   *network.Server
	listener net.Listener
	protocol string
}

// NewNetworkAdapter binds server to ln. protocol names the transport in logs.
func NewNetworkAdapter(server *network.Server, ln net.Listener, protocol string) *NetworkAdapter {
	return &NetworkAdapter{server: server, listener: ln, protocol: protocol}
}

// Serve accepts connections until ctx is cancelled or Stop is called. A stop
// initiated through Stop is a graceful shutdown and returns nil.
func (a *NetworkAdapter) Serve(ctx context.Context) error {
	err := a.server.ServeListener(ctx, a.listener)
	if errors.Is(err, network.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *NetworkAdapter) Stop(ctx context.Context) error {
	return a.server.Stop(ctx)
}

func (a *NetworkAdapter) Protocol() string { return a.protocol }

func (a *NetworkAdapter) Addr() string { return a.listener.Addr().String() }

// Server returns the wrapped network server.
func (a *NetworkAdapter) Server() *network.Server { return a.server }
