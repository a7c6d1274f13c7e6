package metrics

import (
	"time"

	"github.com/marmos91/packetnet/pkg/buffer"
)

// Directions used as label values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Drop reasons used as label values.
const (
	ReasonDecode    = "decode"
	ReasonUnknownID = "unknown_id"
	ReasonQueueFull = "queue_full"
	ReasonTooLarge  = "too_large"
	ReasonEncode    = "encode"
)

// NetworkMetrics provides observability for client and server networks.
//
// Implementations can collect metrics about connection lifecycle, packet
// throughput, dispatch latency and dropped packets. This interface is optional:
// if not provided to a network, a no-op implementation is used.
//
// The side argument is "server" or "client".
type NetworkMetrics interface {
	// RecordConnectionOpened counts a connection accepted or dialed.
	RecordConnectionOpened(side string)

	// RecordConnectionClosed counts a closed connection. reason is a short
	// classification such as "eof", "idle", "framing" or "shutdown".
	RecordConnectionClosed(side string, reason string)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(side string, count int32)

	// RecordPacket counts one packet and its framed size in a direction.
	RecordPacket(direction string, packet string, bytes int)

	// RecordPacketDropped counts a packet that never reached the application
	// (inbound) or the wire (outbound).
	RecordPacketDropped(direction string, reason string)

	// RecordFramingError counts framing violations that closed a connection.
	RecordFramingError(side string)

	// RecordDispatch records the handler latency of one inbound packet.
	RecordDispatch(packet string, duration time.Duration, err error)

	// RecordWrite records one flush of the write buffer to the socket.
	RecordWrite(bytes int, packets int)

	// ObserveAllocator exports the counters of a buffer allocator.
	ObserveAllocator(name string, stats func() buffer.Stats)

	// ObserveWorkers exports the size and utilisation of a worker group.
	ObserveWorkers(name string, size int, busy func() int)
}

// NewNoopNetworkMetrics returns a NetworkMetrics that discards everything.
func NewNoopNetworkMetrics() NetworkMetrics {
	return noopNetworkMetrics{}
}

type noopNetworkMetrics struct{}

func (noopNetworkMetrics) RecordConnectionOpened(string)                {}
func (noopNetworkMetrics) RecordConnectionClosed(string, string)        {}
func (noopNetworkMetrics) SetActiveConnections(string, int32)           {}
func (noopNetworkMetrics) RecordPacket(string, string, int)             {}
func (noopNetworkMetrics) RecordPacketDropped(string, string)           {}
func (noopNetworkMetrics) RecordFramingError(string)                    {}
func (noopNetworkMetrics) RecordDispatch(string, time.Duration, error)  {}
func (noopNetworkMetrics) RecordWrite(int, int)                         {}
func (noopNetworkMetrics) ObserveAllocator(string, func() buffer.Stats) {}
func (noopNetworkMetrics) ObserveWorkers(string, int, func() int)       {}
