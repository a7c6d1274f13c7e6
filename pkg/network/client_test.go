package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ConcurrentConnectSharesOneDial(t *testing.T) {
	s := startServer(t, testConfig(), Options{})

	dialer := &flakyDialer{gate: make(chan struct{})}
	client := newTestClient(t, testConfig(), Options{Dialer: dialer})

	const callers = 8
	conns := make([]*Connection, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = client.Connect(context.Background(), s.Addr().String())
		}(i)
	}

	require.Eventually(t, func() bool { return dialer.calls.Load() == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(dialer.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, conns[0], conns[i])
	}
	assert.Equal(t, int32(1), dialer.calls.Load())
	assert.Same(t, conns[0], client.Current())

	again, err := client.Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)
	assert.Same(t, conns[0], again)
}

func TestClient_RetriesWithBackoff(t *testing.T) {
	s := startServer(t, testConfig(), Options{})

	cfg := testConfig()
	cfg.ConnectRetries = 3
	dialer := &flakyDialer{failures: 2}
	client := newTestClient(t, cfg, Options{Dialer: dialer})

	conn, err := client.Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Equal(t, int32(3), dialer.calls.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectRetries = 2
	dialer := &flakyDialer{failures: 100}
	client := newTestClient(t, cfg, Options{Dialer: dialer})

	_, err := client.Connect(context.Background(), "127.0.0.1:1")
	require.ErrorIs(t, err, errDialRefused)
	assert.ErrorContains(t, err, "after 3 attempt(s)")
	assert.Equal(t, int32(3), dialer.calls.Load())
	assert.Nil(t, client.Current())
}

func TestClient_ConnectHonoursCallerContext(t *testing.T) {
	dialer := &flakyDialer{gate: make(chan struct{})}
	client := newTestClient(t, testConfig(), Options{Dialer: dialer})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Connect(ctx, "127.0.0.1:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_OnConnectErrorFailsConnect(t *testing.T) {
	s := startServer(t, testConfig(), Options{})
	client := newTestClient(t, testConfig(), Options{
		OnConnect: func(*Connection) error { return assert.AnError },
	})

	_, err := client.Connect(context.Background(), s.Addr().String())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, client.Current())
}

func TestClient_ReconnectsAfterClose(t *testing.T) {
	s := startServer(t, testConfig(), Options{})
	client := newTestClient(t, testConfig(), Options{})

	first, err := client.Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)
	require.NoError(t, first.Close())
	assert.Nil(t, client.Current())

	second, err := client.Connect(context.Background(), s.Addr().String())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestClient_ConnectAfterShutdown(t *testing.T) {
	client, err := NewClient(testConfig(), Options{})
	require.NoError(t, err)
	require.NoError(t, client.Shutdown())

	_, err = client.Connect(context.Background(), "127.0.0.1:1")
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, nextBackoff(time.Second, time.Second))
}
