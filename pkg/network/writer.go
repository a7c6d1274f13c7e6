package network

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/marmos91/packetnet/pkg/metrics"
	"github.com/marmos91/packetnet/pkg/packet"
)

// writer is the outbound half of a Connection.
//
// Packets are serialized in queue order into the write buffer as
// [header][id][body] and flushed with one encrypted socket write. A packet
// that does not fit behind already buffered packets is carried over to the
// next flush.
type writer struct {
	c     *Connection
	queue chan packet.Writable
	buf   *buffer.Buffer
	carry packet.Writable
	batch int
	state atomic.Int32
	once  sync.Once
}

func newWriter(c *Connection) *writer {
	return &writer{
		c:     c,
		queue: make(chan packet.Writable, c.net.cfg.SendQueueSize),
		buf:   c.net.opts.Allocator.AcquireWrite(),
	}
}

func (w *writer) setState(s WriterState) { w.state.Store(int32(s)) }

func (w *writer) release() {
	w.once.Do(func() {
		w.setState(WriterClosed)
		w.c.net.opts.Allocator.Release(w.buf)
	})
}

func (w *writer) run() {
	defer w.release()

	for {
		w.setState(WriterIdle)
		p, ok := w.next(true)
		if !ok {
			return
		}

		w.setState(WriterDraining)
		w.buf.Reset()
		w.batch = 0
		for ok {
			if !w.encode(p) {
				break
			}
			p, ok = w.next(false)
		}
		if w.buf.Len() == 0 {
			continue
		}

		w.setState(WriterWritePending)
		if err := w.flush(); err != nil {
			if !w.c.IsClosed() {
				w.c.log.Debug("Write failed: %v", err)
			}
			w.c.closeWith(err)
			return
		}
	}
}

// next returns the carried packet or the next queued one. With wait set it
// blocks until a packet arrives or the connection closes.
func (w *writer) next(wait bool) (packet.Writable, bool) {
	if p := w.carry; p != nil {
		w.carry = nil
		return p, true
	}
	if wait {
		select {
		case p := <-w.queue:
			return p, true
		case <-w.c.closing:
			return nil, false
		}
	}
	select {
	case p := <-w.queue:
		return p, true
	default:
		return nil, false
	}
}

// encode appends one frame to the write buffer. It returns false when p was
// carried over to the next flush; dropped packets count as consumed.
func (w *writer) encode(p packet.Writable) bool {
	n := w.c.net
	hs := n.header.Size()
	id, identified := p.(packet.Identified)
	idSize := 0
	if identified {
		idSize = n.ids.Size()
	}

	if sized, ok := p.(packet.Sized); ok {
		need := hs + idSize + sized.ExpectedSize()
		if need-hs > n.header.MaxPayload() || need > w.buf.Cap() {
			w.drop(p, metrics.ReasonTooLarge, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, need-hs))
			return true
		}
		if need > w.buf.Available() && w.buf.Len() > 0 {
			w.carry = p
			return false
		}
	}

	mark := w.buf.Written()
	off := w.buf.Reserve(hs)
	idOff := w.buf.Reserve(idSize)
	if w.buf.Err() == nil && identified {
		if err := n.ids.Encode(w.buf.Window(idOff, idSize), id.PacketID()); err != nil {
			w.buf.Truncate(mark)
			w.drop(p, metrics.ReasonEncode, err)
			return true
		}
	}

	var err error
	if w.buf.Err() == nil {
		err = safely(func() error { return p.WritePacket(w.buf) })
	}
	if bufErr := w.buf.Err(); bufErr != nil || errors.Is(err, buffer.ErrOverflow) {
		w.buf.Truncate(mark)
		w.buf.ClearErr()
		if mark == 0 {
			w.drop(p, metrics.ReasonTooLarge, fmt.Errorf("%w: exceeds %d byte write buffer", ErrPacketTooLarge, w.buf.Cap()))
			return true
		}
		w.carry = p
		return false
	}
	if err != nil {
		w.buf.Truncate(mark)
		w.drop(p, metrics.ReasonEncode, err)
		return true
	}

	length := w.buf.Written() - off - hs
	if err := n.header.Encode(w.buf.Window(off, hs), length); err != nil {
		w.buf.Truncate(mark)
		w.drop(p, metrics.ReasonTooLarge, err)
		return true
	}

	w.batch++
	if n.opts.Recorder != nil {
		n.opts.Recorder.Record(w.c.id, false, w.buf.Window(off+hs, length))
	}
	n.metrics.RecordPacket(metrics.DirectionOut, n.outboundName(p), hs+length)
	return true
}

func (w *writer) drop(p packet.Writable, reason string, err error) {
	w.c.net.metrics.RecordPacketDropped(metrics.DirectionOut, reason)
	w.c.log.Warn("Dropping outbound %s: %v", w.c.net.outboundName(p), err)
}

// flush encrypts and writes the buffered frames.
func (w *writer) flush() error {
	data := w.buf.Bytes()
	if err := w.c.cryptor.Encrypt(data); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	if timeout := w.c.net.cfg.WriteTimeout; timeout > 0 {
		if err := w.c.raw.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := w.c.raw.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	w.c.touch()
	w.c.net.metrics.RecordWrite(len(data), w.batch)
	return nil
}
