package metric

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_fallbacks_total", Help: "h"})
	require.NoError(t, registry.RegisterCounter("bridge", "fallbacks", counter))
	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["bridge_fallbacks_total"])

	assert.True(t, registry.Unregister("bridge", "fallbacks"))
	assert.False(t, registry.Unregister("bridge", "fallbacks"))
	assert.False(t, gatheredNames(t, registry)["bridge_fallbacks_total"])
}

func TestMetricsRegistry_DuplicateIsInvalid(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "pollers_active", Help: "h"})
	require.NoError(t, registry.RegisterGauge("storage", "pollers", gauge))

	err := registry.RegisterGauge("storage", "pollers", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewGauge(prometheus.GaugeOpts{Name: "pollers_active", Help: "h"})
	err = registry.RegisterGauge("storage", "pollers_again", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_VecTypes(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cv_total", Help: "h"}, []string{"a"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "gv", Help: "h"}, []string{"a"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "hv", Help: "h"}, []string{"a"})
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "h", Help: "h"})

	require.NoError(t, registry.RegisterCounterVec("svc", "cv", cv))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gv", gv))
	require.NoError(t, registry.RegisterHistogramVec("svc", "hv", hv))
	require.NoError(t, registry.RegisterHistogram("svc", "h", h))
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordPush("strict", 3)
	m.RecordSuppressed()
	m.RecordCommand("ACTION-REFETCH", "ok", time.Millisecond)
	m.RecordStorageWrite("async", "update", "degraded")
	m.RecordConnection(true)
	m.RecordFrame("in", "query-action")
	m.RecordFrame("out", "query-sync")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncsPushed.WithLabelValues("strict")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SnapshotQueries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncsSuppressed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageWrites.WithLabelValues("async", "update", "degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("query-sync")))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordPush("unconditional", 1)

	srv := httptest.NewServer(NewServer("", "", registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "cachescope_sync_pushed_total")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_CustomHealthHandler(t *testing.T) {
	unavailable := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(NewServer("", "", NewMetricsRegistry(), WithHealthHandler(unavailable)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_StopWithoutStart(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "/metrics", NewMetricsRegistry())
	assert.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, "http://127.0.0.1:0/metrics", srv.Address())
}
