package metrics

import "time"

// CaptureMetrics provides observability for the traffic capture recorder.
type CaptureMetrics interface {
	// RecordCaptured counts records accepted into the recorder queue.
	RecordCaptured(direction string)

	// RecordCaptureDropped counts records discarded because the queue was full.
	RecordCaptureDropped()

	// RecordFlush records one batch written to a store.
	RecordFlush(store string, records int, duration time.Duration, err error)
}

// NewNoopCaptureMetrics returns a CaptureMetrics that discards everything.
func NewNoopCaptureMetrics() CaptureMetrics {
	return noopCaptureMetrics{}
}

type noopCaptureMetrics struct{}

func (noopCaptureMetrics) RecordCaptured(string)                         {}
func (noopCaptureMetrics) RecordCaptureDropped()                         {}
func (noopCaptureMetrics) RecordFlush(string, int, time.Duration, error) {}
