package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens WebSocket connections. It satisfies network.Dialer: the
// address passed to DialContext is host:port and Path is appended.
type Dialer struct {
	// Path is the upgrade endpoint. Defaults to DefaultPath.
	Path string

	// Secure dials wss:// instead of ws://.
	Secure bool

	// Header is sent with the upgrade request.
	Header http.Header

	HandshakeTimeout time.Duration
}

func (d *Dialer) DialContext(ctx context.Context, _, addr string) (net.Conn, error) {
	path := d.Path
	if path == "" {
		path = DefaultPath
	}
	scheme := "ws"
	if d.Secure {
		scheme = "wss"
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	url := fmt.Sprintf("%s://%s%s", scheme, addr, path)
	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return NewConn(ws), nil
}
