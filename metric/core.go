package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the process-wide sync protocol metrics
type Metrics struct {
	SyncsPushed      *prometheus.CounterVec
	SyncsSuppressed  prometheus.Counter
	SnapshotQueries  prometheus.Gauge
	CommandsHandled  *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	StorageWrites    *prometheus.CounterVec
	ConnectionState  prometheus.Gauge
	FramesReceived   *prometheus.CounterVec
	FramesSent       *prometheus.CounterVec
	TransportErrors  *prometheus.CounterVec
}

// NewMetrics creates the core metric set
func NewMetrics() *Metrics {
	return &Metrics{
		SyncsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "sync",
			Name:      "pushed_total",
			Help:      "Snapshots pushed to the inspector",
		}, []string{"mode"}),

		SyncsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "sync",
			Name:      "suppressed_total",
			Help:      "Cache notifications that produced no push because nothing relevant changed",
		}),

		SnapshotQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachescope",
			Subsystem: "sync",
			Name:      "snapshot_queries",
			Help:      "Number of queries in the last pushed snapshot",
		}),

		CommandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "commands",
			Name:      "handled_total",
			Help:      "Inspector commands by action and outcome",
		}, []string{"action", "outcome"}),

		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cachescope",
			Subsystem: "commands",
			Name:      "duration_seconds",
			Help:      "Synchronous command handling time",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"action"}),

		StorageWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "storage",
			Name:      "writes_total",
			Help:      "Storage bridge writes by namespace, operation and outcome (ok, degraded, failed)",
		}, []string{"namespace", "operation", "outcome"}),

		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachescope",
			Subsystem: "transport",
			Name:      "connected",
			Help:      "Inspector connection state (0=disconnected, 1=connected)",
		}),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Frames received by event type",
		}, []string{"event"}),

		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Frames sent by event type",
		}, []string{"event"}),

		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Transport errors by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SyncsPushed,
		m.SyncsSuppressed,
		m.SnapshotQueries,
		m.CommandsHandled,
		m.CommandDuration,
		m.StorageWrites,
		m.ConnectionState,
		m.FramesReceived,
		m.FramesSent,
		m.TransportErrors,
	}
}

// RecordPush counts a pushed snapshot and its size in queries
func (m *Metrics) RecordPush(mode string, queries int) {
	m.SyncsPushed.WithLabelValues(mode).Inc()
	m.SnapshotQueries.Set(float64(queries))
}

// RecordSuppressed counts a notification that did not lead to a push
func (m *Metrics) RecordSuppressed() {
	m.SyncsSuppressed.Inc()
}

// RecordCommand counts a handled command and its synchronous duration
func (m *Metrics) RecordCommand(action, outcome string, duration time.Duration) {
	m.CommandsHandled.WithLabelValues(action, outcome).Inc()
	m.CommandDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordStorageWrite counts a storage bridge write
func (m *Metrics) RecordStorageWrite(namespace, operation, outcome string) {
	m.StorageWrites.WithLabelValues(namespace, operation, outcome).Inc()
}

// RecordConnection updates the connection state gauge
func (m *Metrics) RecordConnection(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.ConnectionState.Set(value)
}

// RecordFrame counts a frame in the given direction ("in" or "out")
func (m *Metrics) RecordFrame(direction, event string) {
	if direction == "in" {
		m.FramesReceived.WithLabelValues(event).Inc()
		return
	}
	m.FramesSent.WithLabelValues(event).Inc()
}

// RecordTransportError counts a transport error
func (m *Metrics) RecordTransportError(errorType string) {
	m.TransportErrors.WithLabelValues(errorType).Inc()
}
