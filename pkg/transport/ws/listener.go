package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/marmos91/packetnet/internal/logger"
)

// DefaultPath is the upgrade endpoint used when none is configured.
const DefaultPath = "/ws"

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Path is the upgrade endpoint. Defaults to DefaultPath.
	Path string

	// MaxMessageSize bounds one inbound message. 0 means no limit.
	MaxMessageSize int64

	// AcceptBacklog is the number of upgraded connections waiting for Accept.
	AcceptBacklog int

	// CheckOrigin validates the Origin header. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool

	// HandshakeTimeout bounds the upgrade. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (c *ListenerConfig) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = 64
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Listener accepts WebSocket connections and hands them out through Accept.
//
// It is an http.Handler: mount it on any router, or use Listen to run it on
// its own HTTP server.
type Listener struct {
	cfg      ListenerConfig
	upgrader websocket.Upgrader
	conns    chan *Conn

	addr   net.Addr
	server *http.Server
	served chan struct{}

	// queueMu is held shared while a handler queues a connection and
	// exclusively while Close drains the queue.
	queueMu   sync.RWMutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewListener creates a listener that is fed by ServeHTTP.
func NewListener(cfg ListenerConfig) *Listener {
	cfg.applyDefaults()
	return &Listener{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      cfg.CheckOrigin,
		},
		conns:  make(chan *Conn, cfg.AcceptBacklog),
		closed: make(chan struct{}),
	}
}

// Listen serves the listener on addr with a chi router exposing the upgrade
// endpoint and /healthz.
func Listen(addr string, cfg ListenerConfig) (*Listener, error) {
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	l := NewListener(cfg)
	l.addr = tcp.Addr()
	l.server = &http.Server{
		Handler:           l.Router(),
		ReadHeaderTimeout: l.cfg.HandshakeTimeout,
	}
	l.served = make(chan struct{})

	go func() {
		defer close(l.served)
		if err := l.server.Serve(tcp); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebSocket HTTP server error: %v", err)
		}
	}()

	logger.Info("WebSocket listener on ws://%s%s", l.addr, l.cfg.Path)
	return l, nil
}

// Router returns a chi router serving the upgrade endpoint and /healthz.
func (l *Listener) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get(l.cfg.Path, l.ServeHTTP)
	return r
}

// ServeHTTP upgrades the request and queues the connection for Accept.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.closed:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	if l.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(l.cfg.MaxMessageSize)
	}

	conn := NewConn(ws)
	l.queueMu.RLock()
	defer l.queueMu.RUnlock()
	select {
	case <-l.closed:
		_ = conn.Close()
		return
	default:
	}
	select {
	case l.conns <- conn:
	case <-l.closed:
		_ = conn.Close()
	case <-r.Context().Done():
		_ = conn.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Close stops accepting and shuts the HTTP server down when Listen created
// one. Connections already accepted stay open.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.queueMu.Lock()
		for {
			select {
			case c := <-l.conns:
				_ = c.Close()
				continue
			default:
			}
			break
		}
		l.queueMu.Unlock()

		if l.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
			defer cancel()
			if serr := l.server.Shutdown(ctx); serr != nil {
				err = l.server.Close()
			}
			<-l.served
		}
	})
	return err
}

// Addr returns the HTTP listen address, or a placeholder when the listener is
// mounted on an external router.
func (l *Listener) Addr() net.Addr {
	if l.addr != nil {
		return l.addr
	}
	return wsAddr(l.cfg.Path)
}

// URL returns the ws:// URL clients should dial.
func (l *Listener) URL() string {
	return "ws://" + l.Addr().String() + l.cfg.Path
}

type wsAddr string

func (a wsAddr) Network() string { return "ws" }
func (a wsAddr) String() string  { return string(a) }
