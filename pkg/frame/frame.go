// Package frame implements the length-prefixed framing used on the wire:
//
//	[length header][payload]
//
// The header is an unsigned integer of 1, 2 or 4 bytes holding the payload
// length, excluding the header itself. When a packet registry is in use the
// payload starts with the packet id, which is counted in the length.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrPacketTooLarge is returned when a declared or encoded payload length
	// exceeds the configured maximum.
	ErrPacketTooLarge = errors.New("frame: packet too large")

	// ErrInvalidHeader is returned for an unsupported header or id width.
	ErrInvalidHeader = errors.New("frame: invalid header")

	// ErrIDOutOfRange is returned when a packet id does not fit the id width.
	ErrIDOutOfRange = errors.New("frame: packet id out of range")
)

// Header encodes and decodes the length prefix.
type Header struct {
	size  int
	order binary.ByteOrder
	max   int
}

// NewHeader creates a codec for headers of size bytes. maxPayload bounds the
// payload length; it must be representable in size bytes.
func NewHeader(size int, order binary.ByteOrder, maxPayload int) (Header, error) {
	var limit uint64
	switch size {
	case 1:
		limit = math.MaxUint8
	case 2:
		limit = math.MaxUint16
	case 4:
		limit = math.MaxUint32
	default:
		return Header{}, fmt.Errorf("%w: header size %d", ErrInvalidHeader, size)
	}
	if maxPayload <= 0 || uint64(maxPayload) > limit {
		return Header{}, fmt.Errorf("%w: max payload %d does not fit a %d byte header", ErrInvalidHeader, maxPayload, size)
	}
	if order == nil {
		order = binary.LittleEndian
	}
	return Header{size: size, order: order, max: maxPayload}, nil
}

// Size returns the header width in bytes.
func (h Header) Size() int { return h.size }

// MaxPayload returns the largest accepted payload length.
func (h Header) MaxPayload() int { return h.max }

// Decode reads the payload length from the first Size bytes of p.
func (h Header) Decode(p []byte) int {
	switch h.size {
	case 1:
		return int(p[0])
	case 2:
		return int(h.order.Uint16(p))
	default:
		return int(h.order.Uint32(p))
	}
}

// Encode writes n into the first Size bytes of p.
func (h Header) Encode(p []byte, n int) error {
	if n < 0 || n > h.max {
		return fmt.Errorf("%w: %d bytes, max %d", ErrPacketTooLarge, n, h.max)
	}
	switch h.size {
	case 1:
		p[0] = byte(n)
	case 2:
		h.order.PutUint16(p, uint16(n))
	default:
		h.order.PutUint32(p, uint32(n))
	}
	return nil
}

// Next extracts the first complete frame from p.
//
// It returns the payload and the number of bytes the frame occupies. When p
// does not yet hold a complete frame it returns (nil, 0, nil) and the caller
// keeps the bytes for the next read. A declared length above the maximum is a
// framing error: the stream cannot be resynchronised.
func (h Header) Next(p []byte) (payload []byte, n int, err error) {
	if len(p) < h.size {
		return nil, 0, nil
	}
	length := h.Decode(p)
	if length > h.max {
		return nil, 0, fmt.Errorf("%w: declared %d bytes, max %d", ErrPacketTooLarge, length, h.max)
	}
	end := h.size + length
	if len(p) < end {
		return nil, 0, nil
	}
	return p[h.size:end], end, nil
}

// Append appends a framed payload to dst.
func (h Header) Append(dst, payload []byte) ([]byte, error) {
	var hdr [4]byte
	if err := h.Encode(hdr[:h.size], len(payload)); err != nil {
		return dst, err
	}
	dst = append(dst, hdr[:h.size]...)
	return append(dst, payload...), nil
}

// ID encodes and decodes the packet id that leads a payload.
type ID struct {
	size  int
	order binary.ByteOrder
}

// NewID creates an id codec of size 1 or 2 bytes.
func NewID(size int, order binary.ByteOrder) (ID, error) {
	if size != 1 && size != 2 {
		return ID{}, fmt.Errorf("%w: packet id size %d", ErrInvalidHeader, size)
	}
	if order == nil {
		order = binary.LittleEndian
	}
	return ID{size: size, order: order}, nil
}

// Size returns the id width in bytes.
func (c ID) Size() int { return c.size }

// Fits reports whether id is representable.
func (c ID) Fits(id uint16) bool {
	return c.size == 2 || id <= math.MaxUint8
}

// Decode reads the id from the first Size bytes of p.
func (c ID) Decode(p []byte) uint16 {
	if c.size == 1 {
		return uint16(p[0])
	}
	return c.order.Uint16(p)
}

// Encode writes id into the first Size bytes of p.
func (c ID) Encode(p []byte, id uint16) error {
	if !c.Fits(id) {
		return fmt.Errorf("%w: %d", ErrIDOutOfRange, id)
	}
	if c.size == 1 {
		p[0] = byte(id)
		return nil
	}
	c.order.PutUint16(p, id)
	return nil
}
