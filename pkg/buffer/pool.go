package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidSize is returned when a configured buffer size is not positive.
var ErrInvalidSize = errors.New("buffer: invalid size")

// Sizes holds the capacity of each buffer role.
//
// The decrypted staging buffer must hold a full pending carry-over followed by
// a full read, so its capacity is always Read + Pending.
type Sizes struct {
	Read    int
	Pending int
	Write   int
}

// Validate rejects non-positive sizes.
func (s Sizes) Validate() error {
	if s.Read <= 0 {
		return fmt.Errorf("%w: read buffer size %d", ErrInvalidSize, s.Read)
	}
	if s.Pending <= 0 {
		return fmt.Errorf("%w: pending buffer size %d", ErrInvalidSize, s.Pending)
	}
	if s.Write <= 0 {
		return fmt.Errorf("%w: write buffer size %d", ErrInvalidSize, s.Write)
	}
	return nil
}

// Of returns the capacity used for role.
func (s Sizes) Of(role Role) int {
	switch role {
	case RoleRead:
		return s.Read
	case RolePending:
		return s.Pending
	case RoleDecrypted:
		return s.Read + s.Pending
	case RoleWrite:
		return s.Write
	default:
		return 0
	}
}

// Allocator supplies and reclaims the per-connection buffers.
//
// Implementations must be safe for concurrent use: connections acquire and
// release from arbitrary goroutines.
type Allocator interface {
	AcquireRead() *Buffer
	AcquirePending() *Buffer
	AcquireDecrypted() *Buffer
	AcquireWrite() *Buffer

	// Release returns b to the allocator. The caller must not touch b afterwards.
	// Releasing a buffer twice is ignored.
	Release(b *Buffer)
}

// Stats is a snapshot of allocator counters.
type Stats struct {
	// Allocated counts buffers created because no free buffer was available.
	Allocated uint64
	// Reused counts acquisitions served from a free list.
	Reused uint64
	// Released counts buffers handed back.
	Released uint64
	// Dropped counts released buffers discarded because the free list was full
	// or the buffer did not belong to this allocator.
	Dropped uint64
	// InUse is the number of buffers currently acquired.
	InUse int64
}

type counters struct {
	allocated atomic.Uint64
	reused    atomic.Uint64
	released  atomic.Uint64
	dropped   atomic.Uint64
	inUse     atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Allocated: c.allocated.Load(),
		Reused:    c.reused.Load(),
		Released:  c.released.Load(),
		Dropped:   c.dropped.Load(),
		InUse:     c.inUse.Load(),
	}
}

// Pool is a fixed-capacity allocator keeping one bounded free list per role.
//
// Free lists are buffered channels: acquiring pops without blocking and falls
// back to a fresh allocation, releasing pushes without blocking and drops the
// buffer when the list is full. Memory held by the pool is therefore bounded by
// capacity buffers per role.
type Pool struct {
	sizes Sizes
	order binary.ByteOrder
	free  [roleCount]chan *Buffer
	stats counters
}

// NewPool creates a Pool retaining up to capacity idle buffers per role.
func NewPool(sizes Sizes, order binary.ByteOrder, capacity int) (*Pool, error) {
	if err := sizes.Validate(); err != nil {
		return nil, err
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: pool capacity %d", ErrInvalidSize, capacity)
	}
	if order == nil {
		order = binary.LittleEndian
	}

	p := &Pool{sizes: sizes, order: order}
	for i := range p.free {
		p.free[i] = make(chan *Buffer, capacity)
	}
	return p, nil
}

// Sizes returns the configured sizes.
func (p *Pool) Sizes() Sizes { return p.sizes }

func (p *Pool) AcquireRead() *Buffer      { return p.acquire(RoleRead) }
func (p *Pool) AcquirePending() *Buffer   { return p.acquire(RolePending) }
func (p *Pool) AcquireDecrypted() *Buffer { return p.acquire(RoleDecrypted) }
func (p *Pool) AcquireWrite() *Buffer     { return p.acquire(RoleWrite) }

func (p *Pool) acquire(role Role) *Buffer {
	var b *Buffer
	select {
	case b = <-p.free[role]:
		p.stats.reused.Add(1)
	default:
		b = newBuffer(p.sizes.Of(role), p.order, role)
		p.stats.allocated.Add(1)
	}
	b.inUse = true
	p.stats.inUse.Add(1)
	return b
}

// Release resets b and puts it back on its free list.
func (p *Pool) Release(b *Buffer) {
	if b == nil || !b.inUse {
		return
	}
	b.inUse = false
	p.stats.released.Add(1)
	p.stats.inUse.Add(-1)

	if b.role == RoleView || b.Cap() != p.sizes.Of(b.role) {
		p.stats.dropped.Add(1)
		return
	}

	b.Reset()
	select {
	case p.free[b.role] <- b:
	default:
		p.stats.dropped.Add(1)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return p.stats.snapshot()
}

// Idle returns the number of free buffers held for role.
func (p *Pool) Idle(role Role) int {
	if int(role) >= roleCount {
		return 0
	}
	return len(p.free[role])
}

// HeapAllocator allocates a fresh buffer on every acquisition and lets the
// garbage collector reclaim released ones. It suits clients with a single
// connection where pooling buys nothing.
type HeapAllocator struct {
	sizes Sizes
	order binary.ByteOrder
	stats counters
}

// NewHeapAllocator creates a non-pooling allocator.
func NewHeapAllocator(sizes Sizes, order binary.ByteOrder) (*HeapAllocator, error) {
	if err := sizes.Validate(); err != nil {
		return nil, err
	}
	if order == nil {
		order = binary.LittleEndian
	}
	return &HeapAllocator{sizes: sizes, order: order}, nil
}

func (h *HeapAllocator) AcquireRead() *Buffer      { return h.acquire(RoleRead) }
func (h *HeapAllocator) AcquirePending() *Buffer   { return h.acquire(RolePending) }
func (h *HeapAllocator) AcquireDecrypted() *Buffer { return h.acquire(RoleDecrypted) }
func (h *HeapAllocator) AcquireWrite() *Buffer     { return h.acquire(RoleWrite) }

func (h *HeapAllocator) acquire(role Role) *Buffer {
	b := newBuffer(h.sizes.Of(role), h.order, role)
	b.inUse = true
	h.stats.allocated.Add(1)
	h.stats.inUse.Add(1)
	return b
}

func (h *HeapAllocator) Release(b *Buffer) {
	if b == nil || !b.inUse {
		return
	}
	b.inUse = false
	h.stats.released.Add(1)
	h.stats.dropped.Add(1)
	h.stats.inUse.Add(-1)
}

// Stats returns a snapshot of the allocator counters.
func (h *HeapAllocator) Stats() Stats {
	return h.stats.snapshot()
}
