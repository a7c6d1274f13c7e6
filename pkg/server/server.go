// Package server runs a set of adapters as one process and shuts them down
// together.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/adapter"
)

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("server: Serve already called")

// Closer releases a resource after every adapter has stopped, e.g. flushing a
// capture recorder and closing its store.
type Closer func(ctx context.Context) error

type closer struct {
	name string
	fn   Closer
}

// Server orchestrates adapters.
//
// Serve starts every adapter in its own goroutine. When ctx is cancelled or
// any adapter fails, all adapters are stopped in reverse registration order,
// then the closers run in reverse registration order.
type Server struct {
	adapters []adapter.Adapter
	closers  []closer

	shutdownTimeout time.Duration

	mu     sync.RWMutex
	served bool
}

// New creates an orchestrator. shutdownTimeout bounds stopping all adapters
// and running the closers; 0 means 30 seconds.
func New(shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Server{
		adapters:        make([]adapter.Adapter, 0, 2),
		shutdownTimeout: shutdownTimeout,
	}
}

// AddAdapter registers a. Protocols and addresses must be unique.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		return errors.New("server: nil adapter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("server: cannot add adapter after Serve")
	}

	protocol, addr := a.Protocol(), a.Addr()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Addr() == addr {
			return fmt.Errorf("address %s already in use by %s adapter", addr, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on %s", protocol, addr)
	return nil
}

// AddCloser registers fn to run after all adapters stopped.
func (s *Server) AddCloser(name string, fn Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Adapters returns a copy of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}

// Serve runs all adapters and blocks until ctx is cancelled or one of them
// fails. It returns ctx.Err() after a requested shutdown, or the failure.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	closers := append([]closer(nil), s.closers...)
	s.mu.Unlock()

	logger.Info("Starting packetnet with %d adapter(s)", len(adapters))

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on %s", protocol, a.Addr())

			err := a.Serve(ctx)
			switch {
			case err == nil:
				if ctx.Err() == nil {
					// Returned without being asked to: treat as a failure so the
					// process does not keep running half its services.
					errChan <- adapterError{protocol: protocol, err: errors.New("stopped unexpectedly")}
					return
				}
				logger.Info("%s adapter stopped", protocol)
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped gracefully", protocol)
			default:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.stopAllAdapters(stopCtx, adapters)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	runClosers(stopCtx, closers)

	logger.Info("packetnet stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters stops adapters in reverse registration order.
func (s *Server) stopAllAdapters(ctx context.Context, adapters []adapter.Adapter) {
	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (%s)", protocol, adp.Addr())
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		}
	}
}

func runClosers(ctx context.Context, closers []closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			logger.Error("Error closing %s: %v", c.name, err)
		} else {
			logger.Debug("Closed %s", c.name)
		}
	}
}
