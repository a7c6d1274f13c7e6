// Package packet defines the packet contracts the network layer serializes
// and the immutable registry mapping wire ids to packet factories.
package packet

import (
	"github.com/marmos91/packetnet/pkg/buffer"
)

// Readable is a packet that can be decoded from a frame payload.
//
// ReadPacket receives a view limited to the packet body; reading past it
// fails with buffer.ErrUnderflow.
type Readable interface {
	ReadPacket(b *buffer.Buffer) error
}

// Writable is a packet that can be serialized into a connection's write buffer.
type Writable interface {
	WritePacket(b *buffer.Buffer) error
}

// Sized is implemented by Writable packets that know their serialized body
// size in advance. The writer uses it to flush before a packet that would not
// fit instead of rolling back a partial write.
type Sized interface {
	ExpectedSize() int
}

// Identified is implemented by Writable packets that carry a wire id. The
// writer emits the id in front of the body.
type Identified interface {
	PacketID() uint16
}

// Described marks a Readable prototype that can be registered by Scan.
type Described interface {
	Readable
	Identified
	PacketName() string
}

// Factory creates a fresh packet ready to be decoded.
type Factory func() Readable

// Raw carries an opaque payload. It is both Readable and Writable and is the
// usual fallback type when no registry is configured.
type Raw struct {
	Payload []byte
}

// ReadPacket copies the remaining bytes: the view aliases a connection buffer
// that is reused after dispatch.
func (r *Raw) ReadPacket(b *buffer.Buffer) error {
	r.Payload = append(r.Payload[:0], b.Remaining()...)
	return b.Err()
}

func (r *Raw) WritePacket(b *buffer.Buffer) error {
	b.PutBytes(r.Payload)
	return b.Err()
}

func (r *Raw) ExpectedSize() int { return len(r.Payload) }
