package inspector

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/cachescope/metric"
)

// Metrics holds hub metrics.
type Metrics struct {
	devicesConnected    prometheus.Gauge
	dashboardsConnected prometheus.Gauge
	devicesReplaced     prometheus.Counter
	syncsRelayed        prometheus.Counter
	syncsSuppressed     prometheus.Counter
	commands            *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		devicesConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachescope",
			Subsystem: "inspector",
			Name:      "devices_connected",
			Help:      "Devices currently connected",
		}),
		dashboardsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachescope",
			Subsystem: "inspector",
			Name:      "dashboards_connected",
			Help:      "Dashboards currently connected",
		}),
		devicesReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "inspector",
			Name:      "devices_replaced_total",
			Help:      "Device connections closed because the same device id connected again",
		}),
		syncsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "inspector",
			Name:      "syncs_relayed_total",
			Help:      "Device query-sync events relayed to dashboards",
		}),
		syncsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "inspector",
			Name:      "syncs_suppressed_total",
			Help:      "Device query-sync events dropped as unchanged",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachescope",
			Subsystem: "inspector",
			Name:      "commands_total",
			Help:      "Dashboard commands by event and outcome (routed, invalid, rate_limited, no_target)",
		}, []string{"event", "outcome"}),
	}

	errs := []error{
		registry.RegisterGauge("inspector", "devices_connected", m.devicesConnected),
		registry.RegisterGauge("inspector", "dashboards_connected", m.dashboardsConnected),
		registry.RegisterCounter("inspector", "devices_replaced_total", m.devicesReplaced),
		registry.RegisterCounter("inspector", "syncs_relayed_total", m.syncsRelayed),
		registry.RegisterCounter("inspector", "syncs_suppressed_total", m.syncsSuppressed),
		registry.RegisterCounterVec("inspector", "commands_total", m.commands),
	}
	for _, err := range errs {
		if err != nil {
			logger.Warn("inspector metrics registration failed", "error", err)
		}
	}
	return m
}

func (m *Metrics) recordPeers(devices, dashboards int) {
	if m == nil {
		return
	}
	m.devicesConnected.Set(float64(devices))
	m.dashboardsConnected.Set(float64(dashboards))
}

func (m *Metrics) recordReplaced() {
	if m != nil {
		m.devicesReplaced.Inc()
	}
}

func (m *Metrics) recordSync(relayed bool) {
	if m == nil {
		return
	}
	if relayed {
		m.syncsRelayed.Inc()
		return
	}
	m.syncsSuppressed.Inc()
}

func (m *Metrics) recordCommand(event, outcome string) {
	if m != nil {
		m.commands.WithLabelValues(event, outcome).Inc()
	}
}
