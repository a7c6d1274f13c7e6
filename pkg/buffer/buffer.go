// Package buffer provides the fixed-capacity byte buffers used by connections
// and the allocators that hand them out.
//
// A Buffer has a read cursor and a write cursor over a fixed backing array.
// Writes past the capacity and reads past the written region do not panic:
// they set a sticky error, reported by Err, and turn every following
// operation into a no-op. Packet serializers can therefore write a sequence of
// fields and check for failure once at the end:
//
//	b.PutUint16(id)
//	b.PutString(name)
//	b.PutUint32(level)
//	if err := b.Err(); err != nil {
//	    return err
//	}
package buffer

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	// ErrOverflow is reported when a write does not fit in the remaining capacity.
	ErrOverflow = errors.New("buffer: overflow")

	// ErrUnderflow is reported when a read asks for more bytes than are available.
	ErrUnderflow = errors.New("buffer: underflow")
)

// Role identifies what a connection uses a buffer for.
type Role uint8

const (
	// RoleRead receives raw socket data.
	RoleRead Role = iota
	// RolePending holds bytes carried over between read cycles.
	RolePending
	// RoleDecrypted stages pending bytes followed by freshly decrypted bytes.
	RoleDecrypted
	// RoleWrite is the serialization target for outgoing packets.
	RoleWrite
	// RoleView marks a buffer wrapping caller-owned memory. Views are never pooled.
	RoleView

	roleCount = int(RoleWrite) + 1
)

func (r Role) String() string {
	switch r {
	case RoleRead:
		return "read"
	case RolePending:
		return "pending"
	case RoleDecrypted:
		return "decrypted"
	case RoleWrite:
		return "write"
	case RoleView:
		return "view"
	default:
		return "unknown"
	}
}

// Buffer is a fixed-capacity byte region with independent read and write cursors.
//
// A Buffer is not safe for concurrent use. While acquired it belongs to exactly
// one connection goroutine.
type Buffer struct {
	data  []byte
	r, w  int
	order binary.ByteOrder
	role  Role
	err   error

	// inUse is set between Acquire and Release and guards against double release.
	inUse bool
}

// New allocates a Buffer of the given capacity.
func New(size int, order binary.ByteOrder) *Buffer {
	return newBuffer(size, order, RoleView)
}

func newBuffer(size int, order binary.ByteOrder, role Role) *Buffer {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Buffer{data: make([]byte, size), order: order, role: role}
}

// Wrap returns a read-only view over b. The view does not copy: the caller must
// keep b alive and unmodified while the view is in use.
func Wrap(b []byte, order binary.ByteOrder) *Buffer {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Buffer{data: b, w: len(b), order: order, role: RoleView}
}

// Role reports what the buffer was acquired for.
func (b *Buffer) Role() Role { return b.role }

// Order returns the byte order used by the numeric accessors.
func (b *Buffer) Order() binary.ByteOrder { return b.order }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of written but unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Written returns the write cursor position.
func (b *Buffer) Written() int { return b.w }

// Available returns how many more bytes can be written.
func (b *Buffer) Available() int { return len(b.data) - b.w }

// Bytes returns the unread region. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.r:b.w] }

// Window returns data[off:off+n] of the underlying array regardless of the
// cursors. It is used to patch headers after the payload has been written.
func (b *Buffer) Window(off, n int) []byte { return b.data[off : off+n] }

// Tail returns the free region after the write cursor, for direct reads into
// the buffer. Call Advance after filling it.
func (b *Buffer) Tail() []byte { return b.data[b.w:] }

// Advance moves the write cursor forward by n bytes written through Tail.
func (b *Buffer) Advance(n int) {
	if n < 0 || b.w+n > len(b.data) {
		b.fail(ErrOverflow)
		return
	}
	b.w += n
}

// Err returns the first overflow or underflow error, if any.
func (b *Buffer) Err() error { return b.err }

// ClearErr drops the sticky error so the buffer can be reused after a rollback.
func (b *Buffer) ClearErr() { b.err = nil }

// Reset empties the buffer and clears the sticky error.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
	b.err = nil
}

// Truncate moves the write cursor back to n, discarding everything written after it.
func (b *Buffer) Truncate(n int) {
	if n < b.r {
		n = b.r
	}
	if n < b.w {
		b.w = n
	}
}

// Compact moves the unread region to the front of the buffer.
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.data, b.data[b.r:b.w])
	b.r, b.w = 0, n
}

// Skip consumes n unread bytes.
func (b *Buffer) Skip(n int) {
	if !b.canRead(n) {
		return
	}
	b.r += n
}

// Reserve advances the write cursor by n zero bytes and returns their offset.
func (b *Buffer) Reserve(n int) int {
	off := b.w
	if !b.canWrite(n) {
		return off
	}
	clear(b.data[b.w : b.w+n])
	b.w += n
	return off
}

func (b *Buffer) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Buffer) canWrite(n int) bool {
	if b.err != nil {
		return false
	}
	if n > len(b.data)-b.w {
		b.fail(ErrOverflow)
		return false
	}
	return true
}

func (b *Buffer) canRead(n int) bool {
	if b.err != nil {
		return false
	}
	if n < 0 || n > b.w-b.r {
		b.fail(ErrUnderflow)
		return false
	}
	return true
}

// Write appends p. It either writes all of p or nothing.
func (b *Buffer) Write(p []byte) (int, error) {
	if !b.canWrite(len(p)) {
		return 0, b.err
	}
	n := copy(b.data[b.w:], p)
	b.w += n
	return n, nil
}

// Read copies unread bytes into p.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.r == b.w {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.r:b.w])
	b.r += n
	return n, nil
}

func (b *Buffer) PutUint8(v uint8) {
	if b.canWrite(1) {
		b.data[b.w] = v
		b.w++
	}
}

func (b *Buffer) PutBool(v bool) {
	if v {
		b.PutUint8(1)
		return
	}
	b.PutUint8(0)
}

func (b *Buffer) PutUint16(v uint16) {
	if b.canWrite(2) {
		b.order.PutUint16(b.data[b.w:], v)
		b.w += 2
	}
}

func (b *Buffer) PutUint32(v uint32) {
	if b.canWrite(4) {
		b.order.PutUint32(b.data[b.w:], v)
		b.w += 4
	}
}

func (b *Buffer) PutUint64(v uint64) {
	if b.canWrite(8) {
		b.order.PutUint64(b.data[b.w:], v)
		b.w += 8
	}
}

func (b *Buffer) PutInt32(v int32) { b.PutUint32(uint32(v)) }
func (b *Buffer) PutInt64(v int64) { b.PutUint64(uint64(v)) }

// PutBytes appends p without a length prefix.
func (b *Buffer) PutBytes(p []byte) {
	_, _ = b.Write(p)
}

// PutString appends s prefixed by its length as a uint16.
func (b *Buffer) PutString(s string) {
	if len(s) > 0xFFFF {
		b.fail(ErrOverflow)
		return
	}
	if !b.canWrite(2 + len(s)) {
		return
	}
	b.order.PutUint16(b.data[b.w:], uint16(len(s)))
	b.w += 2
	b.w += copy(b.data[b.w:], s)
}

func (b *Buffer) Uint8() uint8 {
	if !b.canRead(1) {
		return 0
	}
	v := b.data[b.r]
	b.r++
	return v
}

func (b *Buffer) Bool() bool { return b.Uint8() != 0 }

func (b *Buffer) Uint16() uint16 {
	if !b.canRead(2) {
		return 0
	}
	v := b.order.Uint16(b.data[b.r:])
	b.r += 2
	return v
}

func (b *Buffer) Uint32() uint32 {
	if !b.canRead(4) {
		return 0
	}
	v := b.order.Uint32(b.data[b.r:])
	b.r += 4
	return v
}

func (b *Buffer) Uint64() uint64 {
	if !b.canRead(8) {
		return 0
	}
	v := b.order.Uint64(b.data[b.r:])
	b.r += 8
	return v
}

func (b *Buffer) Int32() int32 { return int32(b.Uint32()) }
func (b *Buffer) Int64() int64 { return int64(b.Uint64()) }

// Next consumes n bytes and returns them. The slice aliases the buffer.
func (b *Buffer) Next(n int) []byte {
	if !b.canRead(n) {
		return nil
	}
	p := b.data[b.r : b.r+n]
	b.r += n
	return p
}

// ReadString reads a uint16 length-prefixed string.
func (b *Buffer) ReadString() string {
	n := int(b.Uint16())
	if b.err != nil {
		return ""
	}
	return string(b.Next(n))
}

// Remaining consumes and returns every unread byte.
func (b *Buffer) Remaining() []byte {
	return b.Next(b.Len())
}
