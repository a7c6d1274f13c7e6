package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/cryptor"
	"golang.org/x/sync/singleflight"
)

const connectKey = "connect"

// Client maintains at most one connection to a server.
//
// Concurrent Connect calls share a single dial: the first caller dials and
// every caller observes its outcome. A failed dial is retried ConnectRetries
// times with exponential backoff capped at MaxRetryBackoff.
type Client struct {
	*core

	dialer Dialer
	group  singleflight.Group
	dialWG sync.WaitGroup

	mu      sync.Mutex
	current *Connection
}

// NewClient creates a client. No connection is made until Connect.
func NewClient(cfg Config, opts Options) (*Client, error) {
	n, err := newCore(cfg, opts, cryptor.SideClient)
	if err != nil {
		return nil, err
	}

	c := &Client{core: n, dialer: n.opts.Dialer}
	if c.dialer == nil {
		c.dialer = &net.Dialer{Timeout: n.cfg.DialTimeout}
	}
	n.onClosed = c.clearCurrent
	return c, nil
}

// Current returns the open connection, or nil.
func (c *Client) Current() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && !c.current.IsClosed() {
		return c.current
	}
	return nil
}

func (c *Client) clearCurrent(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == conn {
		c.current = nil
	}
}

type connectResult struct {
	conn *Connection
	err  error
}

// Connect returns the open connection or dials addr. ctx bounds how long the
// caller waits; the shared dial itself is bounded by DialTimeout per attempt
// and by Shutdown.
func (c *Client) Connect(ctx context.Context, addr string) (*Connection, error) {
	if conn := c.Current(); conn != nil {
		return conn, nil
	}

	c.core.mu.Lock()
	if c.closed {
		c.core.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.dialWG.Add(1)
	c.core.mu.Unlock()

	done := make(chan connectResult, 1)
	go func() {
		defer c.dialWG.Done()
		v, err, shared := c.group.Do(connectKey, func() (any, error) {
			return c.connect(addr)
		})
		if shared {
			logger.Debug("Client shared an in-flight connect to %s", addr)
		}
		conn, _ := v.(*Connection)
		done <- connectResult{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) connect(addr string) (*Connection, error) {
	if conn := c.Current(); conn != nil {
		return conn, nil
	}

	raw, err := c.dial(addr)
	if err != nil {
		return nil, err
	}
	applySocketOptions(raw, &c.cfg)

	conn, err := c.newConnection(raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	c.mu.Lock()
	c.current = conn
	c.mu.Unlock()

	if err := c.start(conn, c.opts.OnConnect, nil); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	logger.Info("Connected to %s", raw.RemoteAddr())
	return conn, nil
}

// dial tries addr until it succeeds, the retries are exhausted or the client
// shuts down.
func (c *Client) dial(addr string) (net.Conn, error) {
	backoff := c.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
		raw, err := c.dialer.DialContext(ctx, "tcp", addr)
		cancel()
		if err == nil {
			return raw, nil
		}

		if c.ctx.Err() != nil {
			return nil, ErrClientClosed
		}
		if attempt >= c.cfg.ConnectRetries {
			return nil, fmt.Errorf("connect to %s after %d attempt(s): %w", addr, attempt+1, err)
		}

		logger.Warn("Connect to %s failed (attempt %d/%d), retrying in %v: %v",
			addr, attempt+1, c.cfg.ConnectRetries+1, backoff, err)
		select {
		case <-c.opts.Clock.After(backoff):
		case <-c.ctx.Done():
			return nil, ErrClientClosed
		}
		backoff = nextBackoff(backoff, c.cfg.MaxRetryBackoff)
	}
}

func nextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

// Shutdown closes the connection, aborts in-flight dials and waits up to
// ShutdownTimeout for goroutines to stop. Connect fails with ErrClientClosed
// afterwards.
func (c *Client) Shutdown() error {
	return c.Stop(context.Background())
}

// Stop is Shutdown bounded by ctx.
func (c *Client) Stop(ctx context.Context) error {
	ctx, cancel := c.shutdownTimeoutContext(ctx)
	defer cancel()

	err := c.core.shutdown(ctx)

	done := make(chan struct{})
	go func() {
		c.dialWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("client shutdown: %w", ctx.Err())
		}
	}
	return err
}
