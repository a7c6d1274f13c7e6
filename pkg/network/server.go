package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/cryptor"
	"github.com/marmos91/packetnet/pkg/packet"
)

// Server accepts connections and serves the packet protocol on each.
//
// Architecture:
// Serve runs the accept loop. Every accepted socket gets socket options, a
// Connection, the OnAccept hook and its reader and writer goroutines.
// MaxConnections, when set, makes the accept loop wait for a free slot.
//
// Graceful shutdown:
//  1. Cancelling the Serve context or calling Stop closes the listener
//  2. Every open connection is closed with ErrServerClosed
//  3. Stop waits for connection goroutines up to ShutdownTimeout
type Server struct {
	*core

	lnMu     sync.Mutex
	listener net.Listener

	// connSemaphore limits concurrent connections when MaxConnections > 0.
	connSemaphore chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates a server. Listen or ServeListener must be called before
// it accepts connections.
func NewServer(cfg Config, opts Options) (*Server, error) {
	n, err := newCore(cfg, opts, cryptor.SideServer)
	if err != nil {
		return nil, err
	}

	s := &Server{
		core:     n,
		shutdown: make(chan struct{}),
	}
	if n.cfg.MaxConnections > 0 {
		s.connSemaphore = make(chan struct{}, n.cfg.MaxConnections)
	}
	return s, nil
}

// Listen binds a TCP listener on addr, for example ":7000" or
// "127.0.0.1:0".
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.setListener(ln)
	return nil
}

func (s *Server) setListener(ln net.Listener) {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	s.listener = ln
}

func (s *Server) getListener() net.Listener {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	return s.listener
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if ln := s.getListener(); ln != nil {
		return ln.Addr()
	}
	return nil
}

// ServeListener serves connections accepted from ln, which may be any
// net.Listener such as a WebSocket listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.setListener(ln)
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or Stop is called.
//
// When ctx ends, Serve performs the graceful shutdown itself and returns its
// result. After Stop it returns ErrServerClosed.
func (s *Server) Serve(ctx context.Context) error {
	ln := s.getListener()
	if ln == nil {
		return ErrNotListening
	}
	select {
	case <-s.shutdown:
		return ErrServerClosed
	default:
	}

	logger.Info("Server listening on %s", ln.Addr())
	logger.Debug("Server config: max_connections=%d workers=%d idle_timeout=%v write_timeout=%v",
		s.cfg.MaxConnections, s.cfg.Workers, s.cfg.IdleTimeout, s.cfg.WriteTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Server shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.served(ctx)
			}
		}

		raw, err := ln.Accept()
		if err != nil {
			s.releaseSlot()

			select {
			case <-s.shutdown:
				return s.served(ctx)
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.initiateShutdown()
				return s.served(ctx)
			}
			logger.Debug("Error accepting connection: %v", err)
			continue
		}

		s.accept(raw)
	}
}

// served is the result of Serve once the accept loop stopped.
func (s *Server) served(ctx context.Context) error {
	if ctx.Err() != nil {
		return s.Stop(context.Background())
	}
	return ErrServerClosed
}

func (s *Server) accept(raw net.Conn) {
	applySocketOptions(raw, &s.cfg)

	c, err := s.newConnection(raw)
	if err != nil {
		logger.Warn("Rejecting connection from %s: %v", remoteString(raw), err)
		_ = raw.Close()
		s.releaseSlot()
		return
	}
	_ = s.start(c, s.opts.OnAccept, s.releaseSlot)
}

func (s *Server) releaseSlot() {
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Server shutdown initiated")
		close(s.shutdown)

		if ln := s.getListener(); ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("Error closing listener: %v", err)
			}
		}
	})
}

// Stop stops accepting, closes every connection and waits for their
// goroutines. Without a deadline on ctx it waits up to ShutdownTimeout.
// Stop is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	ctx, cancel := s.shutdownTimeoutContext(ctx)
	defer cancel()

	logger.Info("Server graceful shutdown: waiting for %d active connection(s)", s.count.Load())
	if err := s.core.shutdown(ctx); err != nil {
		return err
	}
	logger.Info("Server graceful shutdown complete")
	return nil
}

// Shutdown is Stop with the configured ShutdownTimeout.
func (s *Server) Shutdown() error {
	return s.Stop(context.Background())
}

// Broadcast queues p on every open connection without blocking and returns
// how many accepted it.
func (s *Server) Broadcast(p packet.Writable) int {
	delivered := 0
	s.conns.Range(func(_, v any) bool {
		if err := v.(*Connection).TrySend(p); err == nil {
			delivered++
		}
		return true
	})
	return delivered
}

// applySocketOptions tunes TCP sockets. Other connection types are left as is.
func applySocketOptions(raw net.Conn, cfg *Config) {
	tcp, ok := raw.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetNoDelay(cfg.TCPNoDelay); err != nil {
		logger.Debug("Failed to set TCP_NODELAY: %v", err)
	}
	if cfg.TCPKeepAlive > 0 {
		if err := tcp.SetKeepAlive(true); err != nil {
			logger.Debug("Failed to enable keep-alive: %v", err)
		} else if err := tcp.SetKeepAlivePeriod(cfg.TCPKeepAlive); err != nil {
			logger.Debug("Failed to set keep-alive period: %v", err)
		}
	}
	if cfg.SocketReadBuffer > 0 {
		if err := tcp.SetReadBuffer(cfg.SocketReadBuffer); err != nil {
			logger.Debug("Failed to set socket read buffer: %v", err)
		}
	}
	if cfg.SocketWriteBuffer > 0 {
		if err := tcp.SetWriteBuffer(cfg.SocketWriteBuffer); err != nil {
			logger.Debug("Failed to set socket write buffer: %v", err)
		}
	}
}
