package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until its context ends, Stop is called or fail
// is closed.
type fakeAdapter struct {
	protocol string
	addr     string
	failWith error

	fail     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	log      *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newFake(protocol, addr string, log *eventLog) *fakeAdapter {
	return &fakeAdapter{
		protocol: protocol,
		addr:     addr,
		fail:     make(chan struct{}),
		stopped:  make(chan struct{}),
		log:      log,
	}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stopped:
		return nil
	case <-f.fail:
		return f.failWith
	}
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.stopOnce.Do(func() {
		f.log.add("stop " + f.protocol)
		close(f.stopped)
	})
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Addr() string     { return f.addr }

func serveAsync(ctx context.Context, s *Server) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestAddAdapter_RejectsDuplicates(t *testing.T) {
	log := &eventLog{}
	s := New(time.Second)

	require.NoError(t, s.AddAdapter(newFake("tcp", ":1", log)))
	assert.ErrorContains(t, s.AddAdapter(newFake("tcp", ":2", log)), "already registered")
	assert.ErrorContains(t, s.AddAdapter(newFake("metrics", ":1", log)), "already in use")
	assert.Error(t, s.AddAdapter(nil))
	assert.Len(t, s.Adapters(), 1)
}

func TestServe_NoAdapters(t *testing.T) {
	err := New(time.Second).Serve(context.Background())
	assert.ErrorContains(t, err, "no adapters registered")
}

func TestServe_CancelStopsInReverseOrderThenCloses(t *testing.T) {
	log := &eventLog{}
	s := New(time.Second)
	require.NoError(t, s.AddAdapter(newFake("tcp", ":1", log)))
	require.NoError(t, s.AddAdapter(newFake("metrics", ":2", log)))
	s.AddCloser("store", func(context.Context) error {
		log.add("close store")
		return nil
	})
	s.AddCloser("recorder", func(context.Context) error {
		log.add("close recorder")
		return errors.New("flush failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := serveAsync(ctx, s)
	cancel()

	assert.ErrorIs(t, wait(t, done), context.Canceled)
	assert.Equal(t, []string{"stop metrics", "stop tcp", "close recorder", "close store"}, log.all())

	assert.ErrorIs(t, s.Serve(context.Background()), ErrAlreadyServed)
	assert.Error(t, s.AddAdapter(newFake("ws", ":3", log)))
}

func TestServe_AdapterFailureStopsOthers(t *testing.T) {
	log := &eventLog{}
	s := New(time.Second)
	healthy := newFake("metrics", ":2", log)
	broken := newFake("tcp", ":1", log)
	broken.failWith = errors.New("listener died")
	require.NoError(t, s.AddAdapter(broken))
	require.NoError(t, s.AddAdapter(healthy))

	done := serveAsync(context.Background(), s)
	close(broken.fail)

	err := wait(t, done)
	assert.ErrorContains(t, err, "tcp adapter error: listener died")
	assert.Contains(t, log.all(), "stop metrics")
}

func TestServe_UnexpectedReturnIsFailure(t *testing.T) {
	log := &eventLog{}
	s := New(time.Second)
	quitter := newFake("tcp", ":1", log)
	require.NoError(t, s.AddAdapter(quitter))
	require.NoError(t, s.AddAdapter(newFake("metrics", ":2", log)))

	done := serveAsync(context.Background(), s)
	close(quitter.fail)

	assert.ErrorContains(t, wait(t, done), "stopped unexpectedly")
}
