package adapter

import "context"

// Adapter is a long-running service managed by the process orchestrator in
// pkg/server: a packet listener, the metrics endpoint, and so on.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and collaborators
//  2. Startup: Serve() runs the service and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown bounded by its context
//
// Thread safety:
// Stop() may be called concurrently with Serve() and more than once.
type Adapter interface {
	// Serve runs the service and blocks until ctx is cancelled, Stop is called,
	// or an unrecoverable error occurs.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - context.Canceled if cancelled via context
	//   - error if startup fails or the service dies
	//
	// If Serve returns an error before cancellation the orchestrator treats it
	// as fatal and stops every other adapter.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. ctx bounds how long it may take.
	Stop(ctx context.Context) error

	// Protocol returns a short unique name, e.g. "tcp", "websocket", "metrics".
	Protocol() string

	// Addr returns the address the adapter serves on.
	Addr() string
}
