// Package network implements the connection framework shared by packet
// servers and clients.
//
// A network owns a bounded worker group, a buffer allocator and the set of
// live connections. Each Connection runs one reader goroutine and one writer
// goroutine; both block on the socket without holding a worker. Bytes read
// from the socket are decrypted, framed into length-prefixed packets, decoded
// through an immutable packet.Registry and handed in wire order to the
// configured Handler, with at most Config.MaxPacketsPerRead packets per
// worker task.
//
// Wire format:
//
//	[length header][packet id][body]
//
// The length header is HeaderSize bytes and counts the id and the body. The id
// is PacketIDSize bytes and is present when the sender's packet implements
// packet.Identified; receivers without a registry hand the whole payload to the
// fallback packet type.
package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/marmos91/packetnet/pkg/cryptor"
	"github.com/marmos91/packetnet/pkg/frame"
	"github.com/marmos91/packetnet/pkg/metrics"
	"github.com/marmos91/packetnet/pkg/packet"
	"go.opentelemetry.io/otel"
)

const tracerName = "github.com/marmos91/packetnet/pkg/network"

// core is the state shared by Server and Client.
type core struct {
	cfg     Config
	opts    Options
	side    cryptor.Side
	header  frame.Header
	ids     frame.ID
	order   binary.ByteOrder
	workers *workerGroup
	metrics metrics.NetworkMetrics

	// ctx is cancelled on shutdown and passed to handlers.
	ctx    context.Context
	cancel context.CancelFunc

	// conns maps connection id to *Connection.
	conns sync.Map
	count atomic.Int32

	// mu guards closed and the Add side of connWG so no connection starts
	// once shutdown is waiting.
	mu       sync.Mutex
	closed   bool
	connWG   sync.WaitGroup
	sweepWG  sync.WaitGroup
	stopOnce sync.Once

	// onClosed lets the owning Server or Client react to a closed connection.
	onClosed func(c *Connection)
}

func newCore(cfg Config, opts Options, side cryptor.Side) (*core, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	order := cfg.Order()
	header, err := frame.NewHeader(cfg.HeaderSize, order, cfg.MaxPacketSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	ids, err := frame.NewID(cfg.PacketIDSize, order)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if opts.Registry == nil && opts.Fallback == nil {
		opts.Fallback = func() packet.Readable { return &packet.Raw{} }
	}
	if opts.Cryptor == nil {
		opts.Cryptor = cryptor.NoopFactory()
	}
	if opts.Allocator == nil {
		opts.Allocator, err = newAllocator(&cfg, order)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopNetworkMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &core{
		cfg:     cfg,
		opts:    opts,
		side:    side,
		header:  header,
		ids:     ids,
		order:   order,
		workers: newWorkerGroup(cfg.WorkerGroup, cfg.Workers),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}

	name := cfg.WorkerGroup + "-" + side.String()
	if s, ok := opts.Allocator.(interface{ Stats() buffer.Stats }); ok {
		n.metrics.ObserveAllocator(name, s.Stats)
	}
	n.metrics.ObserveWorkers(name, cfg.Workers, n.workers.Busy)

	if cfg.IdleTimeout > 0 {
		ticker := opts.Clock.Ticker(cfg.IdleCheckInterval)
		n.sweepWG.Add(1)
		go n.sweepIdle(ticker)
	}

	logger.Debug("Network %s (%s): workers=%d read=%d pending=%d write=%d header=%d id=%d max_packet=%d order=%s",
		cfg.WorkerGroup, side, cfg.Workers, cfg.ReadBufferSize, cfg.PendingBufferSize, cfg.WriteBufferSize,
		cfg.HeaderSize, cfg.PacketIDSize, cfg.MaxPacketSize, order)

	return n, nil
}

func newAllocator(cfg *Config, order binary.ByteOrder) (buffer.Allocator, error) {
	if cfg.BufferPoolCapacity == 0 {
		return buffer.NewHeapAllocator(cfg.BufferSizes(), order)
	}
	return buffer.NewPool(cfg.BufferSizes(), order, cfg.BufferPoolCapacity)
}

// Config returns the effective configuration, defaults applied.
func (n *core) Config() Config { return n.cfg }

// ActiveConnections returns the number of open connections.
func (n *core) ActiveConnections() int32 { return n.count.Load() }

// Connections returns a snapshot of the open connections.
func (n *core) Connections() []*Connection {
	var out []*Connection
	n.conns.Range(func(_, v any) bool {
		out = append(out, v.(*Connection))
		return true
	})
	return out
}

// Connection returns the open connection with the given id.
func (n *core) Connection(id string) (*Connection, bool) {
	v, ok := n.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// start tracks c, runs hook and launches its goroutines. A hook error closes
// c and is returned. onExit runs once the connection goroutines are done.
func (n *core) start(c *Connection, hook func(*Connection) error, onExit func()) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		c.discard()
		if onExit != nil {
			onExit()
		}
		return errShutdown(n.side)
	}
	n.connWG.Add(1)
	n.mu.Unlock()

	n.conns.Store(c.id, c)
	active := n.count.Add(1)
	n.metrics.RecordConnectionOpened(n.side.String())
	n.metrics.SetActiveConnections(n.side.String(), active)
	c.log.Debug("Connection opened (active: %d)", active)

	var hookErr error
	if hook != nil {
		hookErr = safely(func() error { return hook(c) })
		if hookErr != nil {
			c.log.Warn("Connection rejected by hook: %v", hookErr)
			c.closeWith(hookErr)
		}
	}

	go func() {
		defer n.connWG.Done()
		if onExit != nil {
			defer onExit()
		}
		c.serve()
	}()
	return hookErr
}

// connectionClosed runs exactly once per started connection.
func (n *core) connectionClosed(c *Connection, reason error) {
	if _, loaded := n.conns.LoadAndDelete(c.id); !loaded {
		return
	}
	active := n.count.Add(-1)
	label := reasonLabel(reason)
	n.metrics.RecordConnectionClosed(n.side.String(), label)
	n.metrics.SetActiveConnections(n.side.String(), active)
	if label == "framing" {
		n.metrics.RecordFramingError(n.side.String())
	}

	if reason == nil || label == "eof" || label == "shutdown" {
		c.log.Debug("Connection closed: %s (active: %d)", label, active)
	} else {
		c.log.Info("Connection closed: %v (active: %d)", reason, active)
	}

	if n.onClosed != nil {
		n.onClosed(c)
	}
	if n.opts.OnClose != nil {
		if err := safely(func() error { n.opts.OnClose(c, reason); return nil }); err != nil {
			c.log.Error("OnClose callback failed: %v", err)
		}
	}
}

// closeAll closes every open connection with reason.
func (n *core) closeAll(reason error) int {
	closed := 0
	n.conns.Range(func(_, v any) bool {
		v.(*Connection).closeWith(reason)
		closed++
		return true
	})
	return closed
}

// shutdown closes every connection, stops the idle sweep and waits for all
// connection goroutines until ctx ends. It may be called more than once.
func (n *core) shutdown(ctx context.Context) error {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()

		if closed := n.closeAll(errShutdown(n.side)); closed > 0 {
			logger.Info("Network %s: closing %d connection(s)", n.cfg.WorkerGroup, closed)
		}
		n.cancel()
	})

	done := make(chan struct{})
	go func() {
		n.connWG.Wait()
		n.sweepWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("Network %s: all connection goroutines stopped", n.cfg.WorkerGroup)
		return nil
	case <-ctx.Done():
		logger.Warn("Network %s shutdown timeout: %d connection(s) still running handlers",
			n.cfg.WorkerGroup, n.count.Load())
		return fmt.Errorf("network %s shutdown: %w", n.cfg.WorkerGroup, ctx.Err())
	}
}

func (n *core) shutdownTimeoutContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || n.cfg.ShutdownTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.cfg.ShutdownTimeout)
}

func (n *core) sweepIdle(ticker *clock.Ticker) {
	defer n.sweepWG.Done()
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if evicted := n.evictIdle(); evicted > 0 {
				logger.Debug("Network %s: closed %d idle connection(s)", n.cfg.WorkerGroup, evicted)
			}
		}
	}
}

// evictIdle closes connections without activity for IdleTimeout.
func (n *core) evictIdle() int {
	now := n.opts.Clock.Now()
	evicted := 0
	n.conns.Range(func(_, v any) bool {
		c := v.(*Connection)
		if now.Sub(c.LastActivity()) >= n.cfg.IdleTimeout {
			c.closeWith(ErrIdleTimeout)
			evicted++
		}
		return true
	})
	return evicted
}

// decode turns one framed payload into a packet.
func (n *core) decode(payload []byte) (p packet.Readable, name string, err error) {
	body := payload
	if reg := n.opts.Registry; reg != nil {
		if len(payload) < n.ids.Size() {
			return nil, "", fmt.Errorf("%w: %d byte payload has no packet id", buffer.ErrUnderflow, len(payload))
		}
		id := n.ids.Decode(payload)
		if p, err = reg.FindByID(id); err != nil {
			return nil, "", err
		}
		name = reg.Name(id)
		body = payload[n.ids.Size():]
	} else {
		p = n.opts.Fallback()
		name = packetName(p)
	}

	err = safely(func() error { return p.ReadPacket(buffer.Wrap(body, n.order)) })
	if err != nil {
		return nil, name, fmt.Errorf("decode %s: %w", name, err)
	}
	return p, name, nil
}

// outboundName names a packet for metrics and logs.
func (n *core) outboundName(p packet.Writable) string {
	if reg := n.opts.Registry; reg != nil {
		if id, ok := p.(packet.Identified); ok {
			if d, ok := reg.Lookup(id.PacketID()); ok {
				return d.Name
			}
		}
	}
	return packetName(p)
}

func (n *core) now() time.Time { return n.opts.Clock.Now() }

func packetName(p any) string {
	if d, ok := p.(interface{ PacketName() string }); ok {
		return d.PacketName()
	}
	name := fmt.Sprintf("%T", p)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// safely runs fn and converts a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

func errShutdown(side cryptor.Side) error {
	if side == cryptor.SideClient {
		return ErrClientClosed
	}
	return ErrServerClosed
}

func reasonLabel(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return "local"
	case errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, ErrIdleTimeout):
		return "idle"
	case isFramingError(err):
		return "framing"
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrSendTimeout):
		return "overflow"
	case errors.Is(err, ErrServerClosed), errors.Is(err, ErrClientClosed), errors.Is(err, context.Canceled):
		return "shutdown"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, net.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
