package network

import (
	"errors"

	"github.com/marmos91/packetnet/pkg/frame"
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("network: connection closed")

	// ErrQueueFull is returned by Send when the outbound queue is full and the
	// overflow policy is drop or close.
	ErrQueueFull = errors.New("network: send queue full")

	// ErrPacketTooLarge is returned for frames above MaxPacketSize or packets
	// that do not fit an empty write buffer.
	ErrPacketTooLarge = frame.ErrPacketTooLarge

	// ErrPendingOverflow is a framing error: an incomplete frame does not fit
	// the pending buffer.
	ErrPendingOverflow = errors.New("network: pending buffer overflow")

	// ErrSendTimeout is returned, and recorded as the close reason, when a
	// blocked Send waited longer than SendTimeout.
	ErrSendTimeout = errors.New("network: send timeout")

	// ErrNilPacket is returned when sending a nil packet.
	ErrNilPacket = errors.New("network: nil packet")

	// ErrIdleTimeout is the close reason of connections evicted by the idle sweep.
	ErrIdleTimeout = errors.New("network: idle timeout")

	// ErrServerClosed is returned by Serve after Stop or Shutdown.
	ErrServerClosed = errors.New("network: server closed")

	// ErrNotListening is returned by Serve when Listen was not called.
	ErrNotListening = errors.New("network: server is not listening")

	// ErrClientClosed is returned by Connect after Shutdown.
	ErrClientClosed = errors.New("network: client closed")

	// ErrPanic wraps a panic recovered from packet or callback code.
	ErrPanic = errors.New("network: panic")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("network: invalid config")
)

// isFramingError reports whether err violates the wire format.
func isFramingError(err error) bool {
	return errors.Is(err, frame.ErrPacketTooLarge) || errors.Is(err, ErrPendingOverflow)
}
