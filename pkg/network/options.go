package network

import (
	"context"
	"net"

	"github.com/benbjohnson/clock"
	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/marmos91/packetnet/pkg/cryptor"
	"github.com/marmos91/packetnet/pkg/metrics"
	"github.com/marmos91/packetnet/pkg/packet"
	"go.opentelemetry.io/otel/trace"
)

// Handler receives every decoded inbound packet.
//
// Calls for one connection are sequential and in wire order. Calls for
// different connections run concurrently, bounded by Config.Workers. A
// returned error or a panic drops the packet; the connection stays open
// unless Config.CloseOnHandlerError is set.
type Handler interface {
	HandlePacket(ctx context.Context, c *Connection, p packet.Readable) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Connection, p packet.Readable) error

func (f HandlerFunc) HandlePacket(ctx context.Context, c *Connection, p packet.Readable) error {
	return f(ctx, c, p)
}

// Runnable is implemented by packets that carry their own logic. It is used
// when no Handler is configured.
type Runnable interface {
	Run(ctx context.Context, c *Connection) error
}

// Dialer opens client connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Recorder receives a copy of every framed payload, id included. Record must
// not retain payload and must not block.
type Recorder interface {
	Record(connID string, inbound bool, payload []byte)
}

// Options wires collaborators into a network. Every field is optional.
type Options struct {
	// Registry decodes payloads by their leading packet id. When nil every
	// payload is decoded by Fallback.
	Registry *packet.Registry

	// Fallback builds the packet for payloads when no registry is set.
	// Defaults to *packet.Raw.
	Fallback packet.Factory

	// Handler receives decoded packets. When nil, packets implementing
	// Runnable are run and others are logged and dropped.
	Handler Handler

	// OnAccept is called for every server connection before its first read.
	// Returning an error closes the connection.
	OnAccept func(c *Connection) error

	// OnConnect is called for every client connection before its first read.
	// Returning an error closes the connection and fails Connect.
	OnConnect func(c *Connection) error

	// OnClose is called once per connection with the close reason, nil for a
	// local Close.
	OnClose func(c *Connection, reason error)

	// Cryptor creates the per-connection cryptor. Defaults to no encryption.
	Cryptor cryptor.Factory

	// Allocator supplies connection buffers. Defaults to a Pool sized from
	// the config, or a HeapAllocator when BufferPoolCapacity is 0.
	Allocator buffer.Allocator

	// Metrics defaults to a no-op implementation.
	Metrics metrics.NetworkMetrics

	// Recorder captures framed traffic when set.
	Recorder Recorder

	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer

	// Clock drives last-activity timestamps and the idle sweep.
	Clock clock.Clock

	// Dialer is used by clients. Defaults to a net.Dialer with
	// Config.DialTimeout.
	Dialer Dialer
}
