package network

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/marmos91/packetnet/pkg/cryptor"
	"github.com/marmos91/packetnet/pkg/packet"
	"github.com/stretchr/testify/require"
)

type pingPacket struct{ Seq uint32 }

func (*pingPacket) PacketID() uint16   { return 1 }
func (*pingPacket) PacketName() string { return "ping" }
func (*pingPacket) ExpectedSize() int  { return 4 }

func (p *pingPacket) ReadPacket(b *buffer.Buffer) error {
	p.Seq = b.Uint32()
	return b.Err()
}

func (p *pingPacket) WritePacket(b *buffer.Buffer) error {
	b.PutUint32(p.Seq)
	return b.Err()
}

type pongPacket struct{ Seq uint32 }

func (*pongPacket) PacketID() uint16   { return 2 }
func (*pongPacket) PacketName() string { return "pong" }

func (p *pongPacket) ReadPacket(b *buffer.Buffer) error {
	p.Seq = b.Uint32()
	return b.Err()
}

func (p *pongPacket) WritePacket(b *buffer.Buffer) error {
	b.PutUint32(p.Seq)
	return b.Err()
}

type chatPacket struct{ Text string }

func (*chatPacket) PacketID() uint16   { return 3 }
func (*chatPacket) PacketName() string { return "chat" }

func (p *chatPacket) ReadPacket(b *buffer.Buffer) error {
	p.Text = b.ReadString()
	return b.Err()
}

func (p *chatPacket) WritePacket(b *buffer.Buffer) error {
	b.PutString(p.Text)
	return b.Err()
}

func testRegistry(t *testing.T) *packet.Registry {
	t.Helper()
	reg, err := packet.Scan(&pingPacket{}, &pongPacket{}, &chatPacket{})
	require.NoError(t, err)
	return reg
}

func testConfig() Config {
	return Config{
		WorkerGroup:     "test",
		Workers:         2,
		ReadBufferSize:  64,
		WriteBufferSize: 256,
		MaxPacketSize:   200,
		ShutdownTimeout: 5 * time.Second,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: 5 * time.Millisecond,
		DialTimeout:     time.Second,
	}
}

// encodeFrame builds [u16 LE length][u16 LE id][body].
func encodeFrame(id uint16, body []byte) []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(2+len(body)))
	out = binary.LittleEndian.AppendUint16(out, id)
	return append(out, body...)
}

func pingFrame(seq uint32) []byte {
	return encodeFrame(1, binary.LittleEndian.AppendUint32(nil, seq))
}

// collector is a Handler recording every packet it receives.
type collector struct {
	mu      sync.Mutex
	packets []packet.Readable
	ch      chan packet.Readable
}

func newCollector() *collector {
	return &collector{ch: make(chan packet.Readable, 1024)}
}

func (c *collector) HandlePacket(_ context.Context, _ *Connection, p packet.Readable) error {
	c.mu.Lock()
	c.packets = append(c.packets, p)
	c.mu.Unlock()
	c.ch <- p
	return nil
}

func (c *collector) all() []packet.Readable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]packet.Readable(nil), c.packets...)
}

func (c *collector) next(t *testing.T) packet.Readable {
	t.Helper()
	select {
	case p := <-c.ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a packet")
		return nil
	}
}

// newTestConn builds an unstarted server connection over a net.Pipe.
func newTestConn(t *testing.T, cfg Config, opts Options) (*Connection, net.Conn) {
	t.Helper()
	n, err := newCore(cfg, opts, cryptor.SideServer)
	require.NoError(t, err)

	local, peer := net.Pipe()
	c, err := n.newConnection(local)
	require.NoError(t, err)

	t.Cleanup(func() {
		c.discard()
		_ = peer.Close()
		n.cancel()
	})
	return c, peer
}

// startTestConn starts a tracked server connection over a net.Pipe and shuts
// its network down on cleanup.
func startTestConn(t *testing.T, cfg Config, opts Options) (*Connection, net.Conn, *core) {
	t.Helper()
	n, err := newCore(cfg, opts, cryptor.SideServer)
	require.NoError(t, err)

	local, peer := net.Pipe()
	c, err := n.newConnection(local)
	require.NoError(t, err)
	require.NoError(t, n.start(c, nil, nil))

	t.Cleanup(func() {
		_ = peer.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, n.shutdown(ctx))
	})
	return c, peer, n
}

// countingAllocator counts acquisitions and releases.
type countingAllocator struct {
	buffer.Allocator
	acquired atomic.Int32
	released atomic.Int32
}

func newCountingAllocator(t *testing.T, cfg Config) *countingAllocator {
	t.Helper()
	cfg.ApplyDefaults()
	heap, err := buffer.NewHeapAllocator(cfg.BufferSizes(), cfg.Order())
	require.NoError(t, err)
	return &countingAllocator{Allocator: heap}
}

func (a *countingAllocator) AcquireRead() *buffer.Buffer {
	a.acquired.Add(1)
	return a.Allocator.AcquireRead()
}

func (a *countingAllocator) AcquirePending() *buffer.Buffer {
	a.acquired.Add(1)
	return a.Allocator.AcquirePending()
}

func (a *countingAllocator) AcquireDecrypted() *buffer.Buffer {
	a.acquired.Add(1)
	return a.Allocator.AcquireDecrypted()
}

func (a *countingAllocator) AcquireWrite() *buffer.Buffer {
	a.acquired.Add(1)
	return a.Allocator.AcquireWrite()
}

func (a *countingAllocator) Release(b *buffer.Buffer) {
	a.released.Add(1)
	a.Allocator.Release(b)
}

// flakyDialer fails the first failures dials and then dials for real.
type flakyDialer struct {
	failures int32
	calls    atomic.Int32
	gate     chan struct{}
}

var errDialRefused = errors.New("dial refused")

func (d *flakyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	n := d.calls.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= d.failures {
		return nil, errDialRefused
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, addr)
}

func netPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}
