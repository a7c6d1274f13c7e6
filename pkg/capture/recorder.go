package capture

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/metrics"
)

// Config controls batching.
type Config struct {
	// QueueSize bounds records waiting to be batched. Records arriving while
	// the queue is full are dropped.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"min=0"`

	// BatchSize flushes as soon as this many records are queued.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"min=0"`

	// FlushInterval flushes partial batches.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval" validate:"min=0"`

	// FlushTimeout bounds one Append call.
	FlushTimeout time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout" validate:"min=0"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
}

// Recorder captures payloads asynchronously into a Store.
//
// Record never blocks: it copies the payload and hands it to a background
// goroutine through a bounded queue. Batches are appended when BatchSize
// records are queued or every FlushInterval. A failed Append is logged and
// its records are lost.
//
// The Recorder does not own the store; close the store after Close.
type Recorder struct {
	store   Store
	cfg     Config
	metrics metrics.CaptureMetrics
	clock   clock.Clock

	queue  chan Record
	ticker *clock.Ticker
	seq    atomic.Uint64

	captured atomic.Uint64
	dropped  atomic.Uint64

	closed   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Options holds optional collaborators of a Recorder.
type Options struct {
	Metrics metrics.CaptureMetrics
	Clock   clock.Clock
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store Store, cfg Config, opts Options) *Recorder {
	cfg.ApplyDefaults()
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopCaptureMetrics()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	r := &Recorder{
		store:   store,
		cfg:     cfg,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		queue:   make(chan Record, cfg.QueueSize),
		ticker:  opts.Clock.Ticker(cfg.FlushInterval),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.run()

	logger.Debug("Capture recorder started: store=%s queue=%d batch=%d interval=%v",
		store.Name(), cfg.QueueSize, cfg.BatchSize, cfg.FlushInterval)
	return r
}

// Record queues a copy of payload.
func (r *Recorder) Record(connID string, inbound bool, payload []byte) {
	rec := Record{
		Seq:       r.seq.Add(1),
		Timestamp: r.clock.Now().UnixNano(),
		ConnID:    connID,
		Inbound:   inbound,
		Payload:   bytes.Clone(payload),
	}
	if r.closed.Load() {
		r.drop()
		return
	}

	select {
	case r.queue <- rec:
		r.captured.Add(1)
		r.metrics.RecordCaptured(rec.Direction())
	default:
		r.drop()
	}
}

func (r *Recorder) drop() {
	if r.dropped.Add(1) == 1 {
		logger.Warn("Capture queue full, dropping records")
	}
	r.metrics.RecordCaptureDropped()
}

// Captured returns the number of records queued.
func (r *Recorder) Captured() uint64 { return r.captured.Load() }

// Dropped returns the number of records dropped because the queue was full
// or the recorder was closed.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) run() {
	defer close(r.done)
	defer r.ticker.Stop()

	batch := make([]Record, 0, r.cfg.BatchSize)
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
			if len(batch) >= r.cfg.BatchSize {
				batch = r.flush(batch)
			}
		case <-r.ticker.C:
			batch = r.flush(batch)
		case <-r.stop:
			for {
				select {
				case rec := <-r.queue:
					batch = append(batch, rec)
					if len(batch) >= r.cfg.BatchSize {
						batch = r.flush(batch)
					}
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

// flush appends batch and returns it emptied.
func (r *Recorder) flush(batch []Record) []Record {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.Append(ctx, batch)
	r.metrics.RecordFlush(r.store.Name(), len(batch), time.Since(start), err)
	if err != nil {
		logger.Error("Capture flush of %d record(s) to %s failed: %v", len(batch), r.store.Name(), err)
	}
	clear(batch)
	return batch[:0]
}

// Close stops accepting records, flushes what is queued and waits for the
// background goroutine until ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.closed.Store(true)
	r.stopOnce.Do(func() { close(r.stop) })

	select {
	case <-r.done:
		logger.Debug("Capture recorder stopped: captured=%d dropped=%d", r.Captured(), r.Dropped())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture recorder close: %w", ctx.Err())
	}
}
