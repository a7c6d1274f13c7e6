package prometheus

import (
	"errors"
	"time"

	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/marmos91/packetnet/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// networkMetrics is the Prometheus implementation of metrics.NetworkMetrics.
type networkMetrics struct {
	reg prometheus.Registerer

	connectionsOpened *prometheus.CounterVec
	connectionsClosed *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
	packetsTotal      *prometheus.CounterVec
	packetBytes       *prometheus.CounterVec
	packetsDropped    *prometheus.CounterVec
	framingErrors     *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	writeBytes        prometheus.Histogram
	writePackets      prometheus.Histogram
}

// NewNetworkMetrics creates a Prometheus-backed NetworkMetrics on the global
// registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewNetworkMetrics() metrics.NetworkMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopNetworkMetrics()
	}
	return NewNetworkMetricsWith(metrics.GetRegistry())
}

// NewNetworkMetricsWith registers the network collectors on reg.
func NewNetworkMetricsWith(reg prometheus.Registerer) metrics.NetworkMetrics {
	f := promauto.With(reg)

	return &networkMetrics{
		reg: reg,
		connectionsOpened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_connections_opened_total",
				Help: "Total number of connections accepted or dialed",
			},
			[]string{"side"},
		),
		connectionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_connections_closed_total",
				Help: "Total number of connections closed by reason",
			},
			[]string{"side", "reason"},
		),
		activeConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "packetnet_active_connections",
				Help: "Current number of open connections",
			},
			[]string{"side"},
		),
		packetsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_packets_total",
				Help: "Total number of packets by direction and type",
			},
			[]string{"direction", "packet"},
		),
		packetBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_packet_bytes_total",
				Help: "Total framed packet bytes by direction",
			},
			[]string{"direction"},
		),
		packetsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_packets_dropped_total",
				Help: "Total number of packets dropped by direction and reason",
			},
			[]string{"direction", "reason"},
		),
		framingErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_framing_errors_total",
				Help: "Total number of framing violations that closed a connection",
			},
			[]string{"side"},
		),
		dispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetnet_dispatch_total",
				Help: "Total number of dispatched packets by type and status",
			},
			[]string{"packet", "status"},
		),
		dispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "packetnet_dispatch_duration_seconds",
				Help: "Duration of packet handlers in seconds",
				Buckets: []float64{
					0.0001, // 100us
					0.0005, // 500us
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"packet"},
		),
		writeBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "packetnet_write_bytes",
				Help:    "Distribution of bytes per socket write",
				Buckets: prometheus.ExponentialBuckets(64, 4, 7),
			},
		),
		writePackets: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "packetnet_write_packets",
				Help:    "Distribution of packets coalesced per socket write",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
	}
}

func (m *networkMetrics) RecordConnectionOpened(side string) {
	m.connectionsOpened.WithLabelValues(side).Inc()
}

func (m *networkMetrics) RecordConnectionClosed(side string, reason string) {
	m.connectionsClosed.WithLabelValues(side, reason).Inc()
}

func (m *networkMetrics) SetActiveConnections(side string, count int32) {
	m.activeConnections.WithLabelValues(side).Set(float64(count))
}

func (m *networkMetrics) RecordPacket(direction string, packet string, bytes int) {
	m.packetsTotal.WithLabelValues(direction, packet).Inc()
	m.packetBytes.WithLabelValues(direction).Add(float64(bytes))
}

func (m *networkMetrics) RecordPacketDropped(direction string, reason string) {
	m.packetsDropped.WithLabelValues(direction, reason).Inc()
}

func (m *networkMetrics) RecordFramingError(side string) {
	m.framingErrors.WithLabelValues(side).Inc()
}

func (m *networkMetrics) RecordDispatch(packet string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dispatchTotal.WithLabelValues(packet, status).Inc()
	m.dispatchDuration.WithLabelValues(packet).Observe(duration.Seconds())
}

func (m *networkMetrics) RecordWrite(bytes int, packets int) {
	m.writeBytes.Observe(float64(bytes))
	m.writePackets.Observe(float64(packets))
}

// ObserveAllocator registers function-backed collectors reading stats on
// every scrape. Registering the same name twice keeps the first collectors.
func (m *networkMetrics) ObserveAllocator(name string, stats func() buffer.Stats) {
	labels := prometheus.Labels{"allocator": name}
	m.register(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "packetnet_buffers_allocated_total",
			Help:        "Buffers allocated because no pooled buffer was free",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Allocated) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "packetnet_buffers_reused_total",
			Help:        "Buffer acquisitions served from a free list",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Reused) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "packetnet_buffers_dropped_total",
			Help:        "Released buffers discarded instead of pooled",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Dropped) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "packetnet_buffers_in_use",
			Help:        "Buffers currently held by connections",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().InUse) }),
	)
}

func (m *networkMetrics) ObserveWorkers(name string, size int, busy func() int) {
	labels := prometheus.Labels{"group": name}
	m.register(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "packetnet_workers",
			Help:        "Size of the worker group",
			ConstLabels: labels,
		}, func() float64 { return float64(size) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "packetnet_workers_busy",
			Help:        "Workers currently framing or dispatching",
			ConstLabels: labels,
		}, func() float64 { return float64(busy()) }),
	)
}

func (m *networkMetrics) register(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := m.reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
