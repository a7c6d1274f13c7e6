package network

// ReaderState is the position of a connection's inbound state machine.
type ReaderState int32

const (
	// ReaderIdle: no read in flight, waiting to issue the next one.
	ReaderIdle ReaderState = iota
	// ReaderReadPending: blocked in a socket read.
	ReaderReadPending
	// ReaderFraming: decrypting and splitting received bytes into frames.
	ReaderFraming
	// ReaderDispatching: a decoded packet is in the handler.
	ReaderDispatching
	// ReaderClosed: the reader has stopped and released its buffers.
	ReaderClosed
)

func (s ReaderState) String() string {
	switch s {
	case ReaderIdle:
		return "idle"
	case ReaderReadPending:
		return "read-pending"
	case ReaderFraming:
		return "framing"
	case ReaderDispatching:
		return "dispatching"
	case ReaderClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WriterState is the position of a connection's outbound state machine.
type WriterState int32

const (
	// WriterIdle: the queue is empty.
	WriterIdle WriterState = iota
	// WriterDraining: serializing queued packets into the write buffer.
	WriterDraining
	// WriterWritePending: a socket write is in flight.
	WriterWritePending
	// WriterClosed: the writer has stopped and released its buffer.
	WriterClosed
)

func (s WriterState) String() string {
	switch s {
	case WriterIdle:
		return "idle"
	case WriterDraining:
		return "draining"
	case WriterWritePending:
		return "write-pending"
	case WriterClosed:
		return "closed"
	default:
		return "unknown"
	}
}
