package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/cryptor"
	"github.com/marmos91/packetnet/pkg/metrics"
	"github.com/marmos91/packetnet/pkg/packet"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Connection is one framed, optionally encrypted byte stream.
//
// A Connection is created by a Server for each accepted socket or by a Client
// for each dial. Send may be called from any goroutine; inbound packets reach
// the Handler sequentially and in wire order.
type Connection struct {
	id      string
	net     *core
	raw     net.Conn
	cryptor cryptor.Cryptor
	reader  *reader
	writer  *writer
	log     *logger.Entry
	created time.Time

	owner        atomic.Pointer[ownerBox]
	lastActivity atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closing   chan struct{}
	reason    error
}

type ownerBox struct{ v any }

func (n *core) newConnection(raw net.Conn) (*Connection, error) {
	cr, err := n.opts.Cryptor(n.side)
	if err != nil {
		return nil, fmt.Errorf("create cryptor: %w", err)
	}

	c := &Connection{
		id:      uuid.NewString(),
		net:     n,
		raw:     raw,
		cryptor: cr,
		closing: make(chan struct{}),
		created: n.now(),
	}
	c.log = logger.WithFields(logger.Fields{
		"conn":   c.id,
		"remote": remoteString(raw),
		"side":   n.side.String(),
	})
	c.touch()
	c.reader = newReader(c)
	c.writer = newWriter(c)
	return c, nil
}

func remoteString(raw net.Conn) string {
	if addr := raw.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }
func (c *Connection) LocalAddr() net.Addr  { return c.raw.LocalAddr() }

// Created returns when the connection was established.
func (c *Connection) Created() time.Time { return c.created }

// Owner returns the value attached with SetOwner, or nil.
func (c *Connection) Owner() any {
	if b := c.owner.Load(); b != nil {
		return b.v
	}
	return nil
}

// SetOwner attaches an application value, typically a session, to the
// connection.
func (c *Connection) SetOwner(v any) {
	c.owner.Store(&ownerBox{v: v})
}

// LastActivity returns the time of the last framed read or flushed write.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() {
	c.lastActivity.Store(c.net.now().UnixNano())
}

// IsClosed reports whether Close has been initiated.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// Done is closed when the connection starts closing.
func (c *Connection) Done() <-chan struct{} { return c.closing }

// Err returns the close reason once Done is closed: nil for a local Close.
func (c *Connection) Err() error {
	select {
	case <-c.closing:
		return c.reason
	default:
		return nil
	}
}

// ReaderState returns the current state of the inbound state machine.
func (c *Connection) ReaderState() ReaderState { return ReaderState(c.reader.state.Load()) }

// WriterState returns the current state of the outbound state machine.
func (c *Connection) WriterState() WriterState { return WriterState(c.writer.state.Load()) }

// Queued returns the number of packets waiting in the send queue.
func (c *Connection) Queued() int { return len(c.writer.queue) }

// Send queues p for writing. When the queue is full it applies the
// configured OverflowPolicy, blocking until there is room by default.
func (c *Connection) Send(p packet.Writable) error {
	return c.SendContext(context.Background(), p)
}

// SendContext is Send bounded by ctx under the block overflow policy. When
// called from a handler with the handler's context, the worker running the
// handler is released while the call waits.
func (c *Connection) SendContext(ctx context.Context, p packet.Writable) error {
	return c.enqueue(ctx, p, true)
}

// TrySend queues p without ever blocking. A full queue returns ErrQueueFull,
// or closes the connection under the close overflow policy.
func (c *Connection) TrySend(p packet.Writable) error {
	return c.enqueue(context.Background(), p, false)
}

func (c *Connection) enqueue(ctx context.Context, p packet.Writable, wait bool) error {
	if p == nil {
		return ErrNilPacket
	}
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.writer.queue <- p:
		return nil
	default:
	}

	policy := c.net.cfg.OverflowPolicy
	switch {
	case policy == OverflowClose:
		c.log.Warn("Send queue full (%d packets), closing connection", cap(c.writer.queue))
		c.net.metrics.RecordPacketDropped(metrics.DirectionOut, metrics.ReasonQueueFull)
		c.closeWith(ErrQueueFull)
		return ErrQueueFull
	case policy == OverflowDrop || !wait:
		c.net.metrics.RecordPacketDropped(metrics.DirectionOut, metrics.ReasonQueueFull)
		return ErrQueueFull
	}

	var err error
	yieldWorker(ctx, func() { err = c.waitQueue(ctx, p) })
	return err
}

// waitQueue blocks until p is queued, the connection closes, ctx ends or
// SendTimeout passes. A timeout closes the connection: its peer is not
// reading.
func (c *Connection) waitQueue(ctx context.Context, p packet.Writable) error {
	timer := c.net.opts.Clock.Timer(c.net.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case c.writer.queue <- p:
		return nil
	case <-c.closing:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.log.Warn("Send queue full for %v, closing connection", c.net.cfg.SendTimeout)
		c.net.metrics.RecordPacketDropped(metrics.DirectionOut, metrics.ReasonQueueFull)
		c.closeWith(ErrSendTimeout)
		return ErrSendTimeout
	}
}

// Close closes the connection. It is idempotent and safe from any goroutine,
// including handlers. Only the call that actually closes the socket reports
// its error.
func (c *Connection) Close() error {
	return c.closeWith(nil)
}

// closeWith closes the connection once, recording reason.
func (c *Connection) closeWith(reason error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.reason = reason
		c.closed.Store(true)
		close(c.closing)
		if err := c.raw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = err
			c.log.Debug("Error closing socket: %v", err)
		}
		c.net.connectionClosed(c, reason)
	})
	return closeErr
}

// discard releases a connection that was never started.
func (c *Connection) discard() {
	c.closeOnce.Do(func() {
		c.reason = errShutdown(c.net.side)
		c.closed.Store(true)
		close(c.closing)
		_ = c.raw.Close()
	})
	c.reader.release()
	c.writer.release()
}

// serve runs the writer in its own goroutine and the reader inline, and
// returns once both have stopped and released their buffers.
func (c *Connection) serve() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writer.run()
	}()

	err := c.reader.run()
	c.closeWith(err)
	wg.Wait()
}

// handle runs the handler for one decoded packet.
func (c *Connection) handle(ctx context.Context, p packet.Readable, name string) {
	n := c.net
	ctx, span := n.opts.Tracer.Start(ctx, "packetnet.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("packetnet.packet", name),
			attribute.String("packetnet.conn", c.id),
			attribute.String("packetnet.side", n.side.String()),
		))
	defer span.End()

	start := time.Now()
	err := safely(func() error { return c.invoke(ctx, p, name) })
	n.metrics.RecordDispatch(name, time.Since(start), err)
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.log.Warn("Handler failed for %s: %v", name, err)
	if n.cfg.CloseOnHandlerError {
		c.closeWith(fmt.Errorf("handle %s: %w", name, err))
	}
}

func (c *Connection) invoke(ctx context.Context, p packet.Readable, name string) error {
	if h := c.net.opts.Handler; h != nil {
		return h.HandlePacket(ctx, c, p)
	}
	if r, ok := p.(Runnable); ok {
		return r.Run(ctx, c)
	}
	c.log.Debug("No handler for %s, dropping", name)
	return nil
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s(%s)", c.id, remoteString(c.raw))
}
