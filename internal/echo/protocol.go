// Package echo is the demo protocol served by the packetnet command: clients
// send pings and chat lines, the server answers pings and relays chat to
// every connection.
package echo

import (
	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/marmos91/packetnet/pkg/packet"
)

// Packet ids.
const (
	PingID uint16 = 1
	PongID uint16 = 2
	ChatID uint16 = 3
)

// Ping asks the server for a Pong carrying the same fields.
type Ping struct {
	Seq uint32
	// SentAt is the sender's clock in Unix nanoseconds, echoed back for RTT.
	SentAt int64
}

func (*Ping) PacketID() uint16   { return PingID }
func (*Ping) PacketName() string { return "ping" }
func (*Ping) ExpectedSize() int  { return 12 }

func (p *Ping) ReadPacket(b *buffer.Buffer) error {
	p.Seq = b.Uint32()
	p.SentAt = b.Int64()
	return b.Err()
}

func (p *Ping) WritePacket(b *buffer.Buffer) error {
	b.PutUint32(p.Seq)
	b.PutInt64(p.SentAt)
	return b.Err()
}

// Pong answers a Ping.
type Pong struct {
	Seq    uint32
	SentAt int64
}

func (*Pong) PacketID() uint16   { return PongID }
func (*Pong) PacketName() string { return "pong" }
func (*Pong) ExpectedSize() int  { return 12 }

func (p *Pong) ReadPacket(b *buffer.Buffer) error {
	p.Seq = b.Uint32()
	p.SentAt = b.Int64()
	return b.Err()
}

func (p *Pong) WritePacket(b *buffer.Buffer) error {
	b.PutUint32(p.Seq)
	b.PutInt64(p.SentAt)
	return b.Err()
}

// Chat is a text line relayed to every connection.
type Chat struct {
	From string
	Text string
}

func (*Chat) PacketID() uint16   { return ChatID }
func (*Chat) PacketName() string { return "chat" }

func (c *Chat) ExpectedSize() int { return 4 + len(c.From) + len(c.Text) }

func (c *Chat) ReadPacket(b *buffer.Buffer) error {
	c.From = b.ReadString()
	c.Text = b.ReadString()
	return b.Err()
}

func (c *Chat) WritePacket(b *buffer.Buffer) error {
	b.PutString(c.From)
	b.PutString(c.Text)
	return b.Err()
}

// Registry decodes the echo protocol.
var Registry = packet.MustRegistry(
	packet.Descriptor{ID: PingID, Name: "ping", New: func() packet.Readable { return &Ping{} }},
	packet.Descriptor{ID: PongID, Name: "pong", New: func() packet.Readable { return &Pong{} }},
	packet.Descriptor{ID: ChatID, Name: "chat", New: func() packet.Readable { return &Chat{} }},
)
