package prometheus

import (
	"time"

	"github.com/marmos91/packetnet/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// captureMetrics is the Prometheus implementation of metrics.CaptureMetrics.
type captureMetrics struct {
	captured      *prometheus.CounterVec
	dropped       prometheus.Counter
	flushTotal    *prometheus.CounterVec
	flushRecords  *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
}

// NewCaptureMetrics creates a Prometheus-backed CaptureMetrics on the global
// registry, or a no-op one when metrics are disabled.
func NewCaptureMetrics() metrics.CaptureMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopCaptureMetrics()
	}
	return NewCaptureMetricsWith(metrics.GetRegistry())
}

// NewCaptureMetricsWith registers the capture collectors on reg.
func NewCaptureMetricsWith(reg prometheus.Registerer) metrics.CaptureMetrics {
	f := promauto.With(reg)

	return &captureMetrics{
		captured: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_capture_records_total",
				Help: "Total number of frames queued for capture",
			},
			[]string{"direction"},
		),
		dropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "packetnet_capture_dropped_total",
				Help: "Total number of frames dropped because the capture queue was full",
			},
		),
		flushTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_capture_flushes_total",
				Help: "Total number of capture batches written by store and status",
			},
			[]string{"store", "status"},
		),
		flushRecords: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_capture_flushed_records_total",
				Help: "Total number of records written to capture stores",
			},
			[]string{"store"},
		),
		flushDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "packetnet_capture_flush_duration_seconds",
				Help: "Duration of capture batch writes in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.1,   // 100ms
					1.0,   // 1s
					10.0,  // 10s
				},
			},
			[]string{"store"},
		),
	}
}

func (m *captureMetrics) RecordCaptured(direction string) {
	m.captured.WithLabelValues(direction).Inc()
}

func (m *captureMetrics) RecordCaptureDropped() {
	m.dropped.Inc()
}

func (m *captureMetrics) RecordFlush(store string, records int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.flushRecords.WithLabelValues(store).Add(float64(records))
	}
	m.flushTotal.WithLabelValues(store, status).Inc()
	m.flushDuration.WithLabelValues(store).Observe(duration.Seconds())
}
