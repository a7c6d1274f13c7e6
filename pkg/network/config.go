package network

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/packetnet/pkg/buffer"
)

// OverflowPolicy decides what Send does when the outbound queue is full.
type OverflowPolicy string

const (
	// OverflowBlock waits for room, for the connection to close or for the
	// context to end.
	OverflowBlock OverflowPolicy = "block"

	// OverflowDrop discards the packet and returns ErrQueueFull.
	OverflowDrop OverflowPolicy = "drop"

	// OverflowClose closes the connection and returns ErrQueueFull.
	OverflowClose OverflowPolicy = "close"
)

// Config holds the framing, buffering and lifecycle parameters of a network.
//
// Zero values are replaced by ApplyDefaults. The same Config type is used by
// servers and clients; fields that only apply to one side are ignored by the
// other.
//
// Default values:
//   - WorkerGroup: "packetnet", Workers: 4
//   - ReadBufferSize: 8KiB, PendingBufferSize: HeaderSize+MaxPacketSize, WriteBufferSize: 16KiB
//   - MaxPacketsPerRead: 64
//   - HeaderSize: 2, ByteOrder: little, PacketIDSize: 2, MaxPacketSize: 16KiB-1
//   - SendQueueSize: 256, OverflowPolicy: block, SendTimeout: 10s
//   - ShutdownTimeout: 30s, IdleCheckInterval: 30s
//   - ConnectRetries: 0, RetryBackoff: 200ms, MaxRetryBackoff: 5s, DialTimeout: 10s
type Config struct {
	// WorkerGroup names the worker group in logs and metrics.
	WorkerGroup string `mapstructure:"worker_group" yaml:"worker_group" validate:"required"`

	// Workers is the number of framing and dispatch tasks that may run at once
	// across all connections of the network.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"min=1"`

	// ReadBufferSize is the capacity of each socket read.
	ReadBufferSize int `mapstructure:"read_buffer_size" yaml:"read_buffer_size" validate:"min=1"`

	// PendingBufferSize holds an incomplete frame between reads. It must fit
	// one header plus the largest payload.
	PendingBufferSize int `mapstructure:"pending_buffer_size" yaml:"pending_buffer_size" validate:"min=1"`

	// WriteBufferSize bounds how many bytes one socket write carries.
	WriteBufferSize int `mapstructure:"write_buffer_size" yaml:"write_buffer_size" validate:"min=1"`

	// BufferPoolCapacity is the number of idle buffers kept per role.
	// 0 disables pooling.
	BufferPoolCapacity int `mapstructure:"buffer_pool_capacity" yaml:"buffer_pool_capacity" validate:"min=0"`

	// MaxPacketsPerRead bounds the frames dispatched per worker task so one
	// busy connection cannot starve the others.
	MaxPacketsPerRead int `mapstructure:"max_packets_per_read" yaml:"max_packets_per_read" validate:"min=1"`

	// HeaderSize is the width of the length prefix: 1, 2 or 4 bytes.
	HeaderSize int `mapstructure:"header_size" yaml:"header_size" validate:"oneof=1 2 4"`

	// ByteOrder of the length prefix, packet ids and packet fields:
	// "little" or "big".
	ByteOrder string `mapstructure:"byte_order" yaml:"byte_order" validate:"oneof=little big"`

	// PacketIDSize is the width of the packet id leading each payload when a
	// registry is configured: 1 or 2 bytes.
	PacketIDSize int `mapstructure:"packet_id_size" yaml:"packet_id_size" validate:"oneof=1 2"`

	// MaxPacketSize is the largest payload accepted or sent, id included.
	// A peer declaring more is disconnected.
	MaxPacketSize int `mapstructure:"max_packet_size" yaml:"max_packet_size" validate:"min=1"`

	// SendQueueSize bounds the packets waiting to be written per connection.
	SendQueueSize int `mapstructure:"send_queue_size" yaml:"send_queue_size" validate:"min=1"`

	// OverflowPolicy applies when the send queue is full.
	OverflowPolicy OverflowPolicy `mapstructure:"overflow_policy" yaml:"overflow_policy" validate:"oneof=block drop close"`

	// SendTimeout bounds how long a Send waits for room under the block
	// policy. On expiry the connection is closed.
	SendTimeout time.Duration `mapstructure:"send_timeout" yaml:"send_timeout" validate:"min=0"`

	// WriteTimeout bounds one socket write. 0 means no timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// IdleTimeout closes connections without traffic for this long.
	// 0 disables the idle sweep.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// IdleCheckInterval is the period of the idle sweep.
	IdleCheckInterval time.Duration `mapstructure:"idle_check_interval" yaml:"idle_check_interval" validate:"min=0"`

	// CloseOnHandlerError closes a connection whose handler returns an error
	// or panics. By default such failures only drop the packet.
	CloseOnHandlerError bool `mapstructure:"close_on_handler_error" yaml:"close_on_handler_error"`

	// InboundPacketRate limits packets per second read from each connection.
	// 0 disables the limit.
	InboundPacketRate uint `mapstructure:"inbound_packet_rate" yaml:"inbound_packet_rate"`

	// InboundPacketBurst is the token bucket size of the inbound limit.
	InboundPacketBurst uint `mapstructure:"inbound_packet_burst" yaml:"inbound_packet_burst"`

	// MaxConnections limits concurrent server connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// ShutdownTimeout bounds how long Shutdown waits for connection goroutines.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// TCPNoDelay disables Nagle's algorithm on TCP connections.
	TCPNoDelay bool `mapstructure:"tcp_no_delay" yaml:"tcp_no_delay"`

	// TCPKeepAlive sets the keep-alive period. 0 keeps the OS default.
	TCPKeepAlive time.Duration `mapstructure:"tcp_keep_alive" yaml:"tcp_keep_alive" validate:"min=0"`

	// SocketReadBuffer and SocketWriteBuffer size the kernel buffers.
	// 0 keeps the OS default.
	SocketReadBuffer  int `mapstructure:"socket_read_buffer" yaml:"socket_read_buffer" validate:"min=0"`
	SocketWriteBuffer int `mapstructure:"socket_write_buffer" yaml:"socket_write_buffer" validate:"min=0"`

	// ConnectRetries is the number of additional dial attempts after a failure.
	ConnectRetries int `mapstructure:"connect_retries" yaml:"connect_retries" validate:"min=0"`

	// RetryBackoff is the delay before the first retry; it doubles per attempt
	// up to MaxRetryBackoff.
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" validate:"min=0"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff" yaml:"max_retry_backoff" validate:"min=0"`

	// DialTimeout bounds one dial attempt.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"min=0"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.WorkerGroup == "" {
		c.WorkerGroup = "packetnet"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 8 * 1024
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 16 * 1024
	}
	if c.MaxPacketsPerRead <= 0 {
		c.MaxPacketsPerRead = 64
	}
	if c.HeaderSize == 0 {
		c.HeaderSize = 2
	}
	if c.ByteOrder == "" {
		c.ByteOrder = "little"
	}
	if c.PacketIDSize == 0 {
		c.PacketIDSize = 2
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = min(16*1024-1, maxPayloadFor(c.HeaderSize))
	}
	if c.PendingBufferSize <= 0 {
		c.PendingBufferSize = c.HeaderSize + c.MaxPacketSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = OverflowBlock
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.IdleCheckInterval == 0 {
		c.IdleCheckInterval = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.InboundPacketRate > 0 && c.InboundPacketBurst == 0 {
		c.InboundPacketBurst = max(c.InboundPacketRate*2, uint(c.MaxPacketsPerRead))
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = 5 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Validate checks field ranges and the relations between them.
func (c *Config) Validate() error {
	if c.WorkerGroup == "" {
		return fmt.Errorf("%w: worker group name is required", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers %d must be > 0", ErrInvalidConfig, c.Workers)
	}
	if err := c.BufferSizes().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.HeaderSize {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: header size %d must be 1, 2 or 4", ErrInvalidConfig, c.HeaderSize)
	}
	if c.PacketIDSize != 1 && c.PacketIDSize != 2 {
		return fmt.Errorf("%w: packet id size %d must be 1 or 2", ErrInvalidConfig, c.PacketIDSize)
	}
	if _, err := parseByteOrder(c.ByteOrder); err != nil {
		return err
	}
	if c.MaxPacketSize <= 0 || c.MaxPacketSize > maxPayloadFor(c.HeaderSize) {
		return fmt.Errorf("%w: max packet size %d does not fit a %d byte header",
			ErrInvalidConfig, c.MaxPacketSize, c.HeaderSize)
	}
	if c.PendingBufferSize < c.HeaderSize+c.MaxPacketSize {
		return fmt.Errorf("%w: pending buffer size %d must hold a header and a max packet (%d)",
			ErrInvalidConfig, c.PendingBufferSize, c.HeaderSize+c.MaxPacketSize)
	}
	if c.WriteBufferSize < c.HeaderSize+c.PacketIDSize {
		return fmt.Errorf("%w: write buffer size %d is smaller than one header", ErrInvalidConfig, c.WriteBufferSize)
	}
	if c.MaxPacketsPerRead <= 0 {
		return fmt.Errorf("%w: max packets per read %d must be > 0", ErrInvalidConfig, c.MaxPacketsPerRead)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%w: send queue size %d must be > 0", ErrInvalidConfig, c.SendQueueSize)
	}
	switch c.OverflowPolicy {
	case OverflowBlock, OverflowDrop, OverflowClose:
	default:
		return fmt.Errorf("%w: overflow policy %q must be block, drop or close", ErrInvalidConfig, c.OverflowPolicy)
	}
	if c.IdleTimeout < 0 || c.IdleCheckInterval < 0 || c.SendTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: timeouts must be >= 0", ErrInvalidConfig)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: max connections %d must be >= 0", ErrInvalidConfig, c.MaxConnections)
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("%w: connect retries %d must be >= 0", ErrInvalidConfig, c.ConnectRetries)
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		return fmt.Errorf("%w: max retry backoff %v is below retry backoff %v",
			ErrInvalidConfig, c.MaxRetryBackoff, c.RetryBackoff)
	}
	return nil
}

// BufferSizes returns the allocator sizes derived from the config.
func (c *Config) BufferSizes() buffer.Sizes {
	return buffer.Sizes{
		Read:    c.ReadBufferSize,
		Pending: c.PendingBufferSize,
		Write:   c.WriteBufferSize,
	}
}

// Order returns the configured byte order.
func (c *Config) Order() binary.ByteOrder {
	order, err := parseByteOrder(c.ByteOrder)
	if err != nil {
		return binary.LittleEndian
	}
	return order
}

func parseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("%w: byte order %q must be little or big", ErrInvalidConfig, s)
	}
}

func maxPayloadFor(headerSize int) int {
	switch headerSize {
	case 1:
		return 1<<8 - 1
	case 2:
		return 1<<16 - 1
	default:
		return 1<<31 - 1
	}
}
