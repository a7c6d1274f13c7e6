package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/packetnet/internal/ratelimiter"
	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/marmos91/packetnet/pkg/metrics"
	"github.com/marmos91/packetnet/pkg/packet"
)

// reader is the inbound half of a Connection.
//
// Each socket read lands in the read buffer and is decrypted in place. If an
// incomplete frame was left over from the previous read, the carry-over and
// the new bytes are joined in the staging buffer. Complete frames are then
// dispatched on a worker, MaxPacketsPerRead at a time; whatever incomplete
// tail remains is moved to the pending buffer for the next read.
type reader struct {
	c       *Connection
	read    *buffer.Buffer
	pending *buffer.Buffer
	staging *buffer.Buffer
	limiter *ratelimiter.RateLimiter
	state   atomic.Int32
	once    sync.Once
}

func newReader(c *Connection) *reader {
	alloc := c.net.opts.Allocator
	r := &reader{
		c:       c,
		read:    alloc.AcquireRead(),
		pending: alloc.AcquirePending(),
		staging: alloc.AcquireDecrypted(),
	}
	if cfg := c.net.cfg; cfg.InboundPacketRate > 0 {
		r.limiter = ratelimiter.New(cfg.InboundPacketRate, cfg.InboundPacketBurst)
	}
	return r
}

func (r *reader) setState(s ReaderState) { r.state.Store(int32(s)) }

// release hands the buffers back. Safe to call more than once.
func (r *reader) release() {
	r.once.Do(func() {
		r.setState(ReaderClosed)
		alloc := r.c.net.opts.Allocator
		alloc.Release(r.read)
		alloc.Release(r.pending)
		alloc.Release(r.staging)
	})
}

// run reads until the socket fails or the connection closes, and returns the
// reason.
func (r *reader) run() error {
	defer r.release()

	for !r.c.IsClosed() {
		r.setState(ReaderReadPending)
		r.read.Reset()
		n, err := r.c.raw.Read(r.read.Tail())
		if n > 0 {
			r.read.Advance(n)
			if cerr := r.cycle(r.read.Bytes()); cerr != nil {
				return cerr
			}
		}
		if err != nil {
			if r.c.IsClosed() {
				return nil
			}
			return err
		}
		r.setState(ReaderIdle)
	}
	return nil
}

// cycle frames and dispatches one read's worth of decrypted bytes.
func (r *reader) cycle(data []byte) error {
	r.setState(ReaderFraming)
	if err := r.c.cryptor.Decrypt(data); err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	src := data
	if r.pending.Len() > 0 {
		r.staging.Reset()
		r.staging.PutBytes(r.pending.Bytes())
		r.staging.PutBytes(data)
		if err := r.staging.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrPendingOverflow, err)
		}
		r.pending.Reset()
		src = r.staging.Bytes()
	}

	n := r.c.net
	for {
		var (
			frames int
			more   bool
			ferr   error
		)
		if err := n.workers.Do(n.ctx, func(ctx context.Context) {
			src, frames, more, ferr = r.frame(ctx, src)
		}); err != nil {
			return err
		}
		if ferr != nil {
			return ferr
		}
		if r.limiter != nil && frames > 0 {
			if err := r.limiter.WaitN(n.ctx, frames); err != nil {
				return err
			}
		}
		if !more || r.c.IsClosed() {
			return nil
		}
		r.setState(ReaderFraming)
	}
}

// frame dispatches up to MaxPacketsPerRead complete frames from src. more is
// set when the limit was hit and src still starts with a complete frame, in
// which case rest holds the unconsumed bytes. Otherwise the incomplete tail
// has been moved to the pending buffer.
func (r *reader) frame(ctx context.Context, src []byte) (rest []byte, frames int, more bool, err error) {
	header := r.c.net.header
	limit := r.c.net.cfg.MaxPacketsPerRead

	for frames < limit {
		if r.c.IsClosed() {
			return nil, frames, false, nil
		}
		payload, n, err := header.Next(src)
		if err != nil {
			return nil, frames, false, err
		}
		if n == 0 {
			break
		}
		src = src[n:]
		frames++

		r.c.touch()
		r.setState(ReaderDispatching)
		r.dispatch(ctx, payload)
		r.setState(ReaderFraming)
	}
	if r.c.IsClosed() {
		return nil, frames, false, nil
	}

	if frames == limit && len(src) > 0 {
		if _, n, err := header.Next(src); err != nil || n > 0 {
			return src, frames, true, nil
		}
	}

	if len(src) > r.pending.Cap() {
		return nil, frames, false, fmt.Errorf("%w: %d bytes buffered, capacity %d",
			ErrPendingOverflow, len(src), r.pending.Cap())
	}
	r.pending.Reset()
	r.pending.PutBytes(src)
	return nil, frames, false, nil
}

// dispatch decodes one payload and hands it to the handler. Undecodable
// packets are dropped and the connection stays open.
func (r *reader) dispatch(ctx context.Context, payload []byte) {
	n := r.c.net
	if n.opts.Recorder != nil {
		n.opts.Recorder.Record(r.c.id, true, payload)
	}

	p, name, err := n.decode(payload)
	if err != nil {
		reason := metrics.ReasonDecode
		if errors.Is(err, packet.ErrUnknownPacket) {
			reason = metrics.ReasonUnknownID
		}
		n.metrics.RecordPacketDropped(metrics.DirectionIn, reason)
		r.c.log.Warn("Dropping inbound packet: %v", err)
		return
	}

	n.metrics.RecordPacket(metrics.DirectionIn, name, n.header.Size()+len(payload))
	r.c.handle(ctx, p, name)
}
