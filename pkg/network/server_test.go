package network

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/packetnet/pkg/cryptor"
	"github.com/marmos91/packetnet/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler answers every ping with a pong carrying the same sequence.
var echoHandler = HandlerFunc(func(_ context.Context, c *Connection, p packet.Readable) error {
	if ping, ok := p.(*pingPacket); ok {
		return c.Send(&pongPacket{Seq: ping.Seq})
	}
	return nil
})

func startServer(t *testing.T, cfg Config, opts Options) *Server {
	t.Helper()
	s, err := NewServer(cfg, opts)
	require.NoError(t, err)
	require.NoError(t, s.Listen("127.0.0.1:0"))

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	t.Cleanup(func() {
		require.NoError(t, s.Stop(context.Background()))
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrServerClosed)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Stop")
		}
	})
	return s
}

func newTestClient(t *testing.T, cfg Config, opts Options) *Client {
	t.Helper()
	c, err := NewClient(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Shutdown()) })
	return c
}

func TestServer_RoundTrip(t *testing.T) {
	reg := testRegistry(t)
	s := startServer(t, testConfig(), Options{Registry: reg, Handler: echoHandler})

	pongs := newCollector()
	client := newTestClient(t, testConfig(), Options{Registry: reg, Handler: pongs})
	conn, err := client.Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)

	for i := uint32(0); i < 200; i++ {
		require.NoError(t, conn.Send(&pingPacket{Seq: i}))
	}
	for i := uint32(0); i < 200; i++ {
		p := pongs.next(t)
		require.IsType(t, &pongPacket{}, p)
		require.Equal(t, i, p.(*pongPacket).Seq, "packets arrive in send order")
	}
	assert.Equal(t, int32(1), s.ActiveConnections())
}

func TestServer_EncryptedRoundTrip(t *testing.T) {
	key := make([]byte, cryptor.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	factory, err := cryptor.ChaCha20Factory(key)
	require.NoError(t, err)

	reg := testRegistry(t)
	s := startServer(t, testConfig(), Options{Registry: reg, Handler: echoHandler, Cryptor: factory})

	pongs := newCollector()
	client := newTestClient(t, testConfig(), Options{Registry: reg, Handler: pongs, Cryptor: factory})
	conn, err := client.Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)

	for i := uint32(0); i < 50; i++ {
		require.NoError(t, conn.Send(&pingPacket{Seq: i * 7}))
	}
	for i := uint32(0); i < 50; i++ {
		assert.Equal(t, i*7, pongs.next(t).(*pongPacket).Seq)
	}
}

func TestServer_OnAcceptRejects(t *testing.T) {
	var closed atomic.Int32
	var reason atomic.Value
	s := startServer(t, testConfig(), Options{
		OnAccept: func(*Connection) error { return assert.AnError },
		OnClose: func(_ *Connection, err error) {
			reason.Store(err)
			closed.Add(1)
		},
	})

	raw, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = raw.Read(make([]byte, 1))
	assert.Error(t, err, "rejected connections are closed by the server")
	require.Eventually(t, func() bool { return closed.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, reason.Load().(error), assert.AnError)
	assert.Equal(t, int32(0), s.ActiveConnections())
}

func TestServer_Broadcast(t *testing.T) {
	reg := testRegistry(t)
	s := startServer(t, testConfig(), Options{Registry: reg})

	collectors := make([]*collector, 3)
	for i := range collectors {
		collectors[i] = newCollector()
		client := newTestClient(t, testConfig(), Options{Registry: reg, Handler: collectors[i]})
		_, err := client.Connect(context.Background(), s.Addr().String())
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return s.ActiveConnections() == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, s.Connections(), 3)

	assert.Equal(t, 3, s.Broadcast(&chatPacket{Text: "hello all"}))
	for _, c := range collectors {
		assert.Equal(t, &chatPacket{Text: "hello all"}, c.next(t))
	}
}

func TestServer_MaxConnections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	s := startServer(t, cfg, Options{})

	first, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, 5*time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), s.ActiveConnections(), "second connection waits in the backlog")

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return s.ActiveConnections() == 1 && len(s.Connections()) == 1 &&
			s.Connections()[0].RemoteAddr().String() == second.LocalAddr().String()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestServer_StopClosesConnections(t *testing.T) {
	reg := testRegistry(t)
	s, err := NewServer(testConfig(), Options{Registry: reg})
	require.NoError(t, err)
	require.NoError(t, s.Listen("127.0.0.1:0"))

	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background()) }()

	client := newTestClient(t, testConfig(), Options{Registry: reg})
	conn, err := client.Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, <-served, ErrServerClosed)
	assert.Equal(t, int32(0), s.ActiveConnections())

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client connection not closed after server stop")
	}
	assert.NoError(t, s.Stop(context.Background()), "Stop is idempotent")
	assert.ErrorIs(t, s.Serve(context.Background()), ErrServerClosed)
}

func TestServer_ServeReturnsOnContextCancel(t *testing.T) {
	s, err := NewServer(testConfig(), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServer_ServeWithoutListen(t *testing.T) {
	s, err := NewServer(testConfig(), Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Serve(context.Background()), ErrNotListening)
	assert.Nil(t, s.Addr())
	require.NoError(t, s.Shutdown())
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.HeaderSize = 3
	_, err := NewServer(cfg, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
