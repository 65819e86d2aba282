// Package metric wraps a Prometheus registry for cachescope components.
//
// Components receive a *MetricsRegistry and register their own collectors
// under a "service.metric" key. A nil registry disables metrics for that
// component; constructors check for nil and skip creating collectors.
//
// The registry also carries the core sync metrics (pushes, suppressed
// notifications, commands, storage writes, transport frames) that the
// session, detector and router record into.
//
//	registry := metric.NewMetricsRegistry()
//	srv := metric.NewServer(":9090", "/metrics", registry)
//	go srv.Start()
package metric
