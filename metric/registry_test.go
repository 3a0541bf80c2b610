package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorhub/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().WakelockHeld.Set(1)
	names := gatheredNames(t, registry)
	assert.True(t, names["sensorhub_wakelock_held"])
	assert.True(t, names["go_goroutines"])
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"k"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "gv"}, []string{"k"})

	require.NoError(t, registry.RegisterCounter("svc", "counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("svc", "counter_vec", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gauge_vec", gaugeVec))

	counter.Inc()
	gauge.Set(3)
	histogram.Observe(0.5)
	counterVec.WithLabelValues("a").Inc()
	gaugeVec.WithLabelValues("a").Set(1)

	names := gatheredNames(t, registry)
	for _, name := range []string{"test_counter", "test_gauge", "test_histogram", "test_counter_vec", "test_gauge_vec"} {
		assert.True(t, names[name], "%s should be gathered", name)
	}
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "d"})
	require.NoError(t, registry.RegisterCounter("svc", "dup", first))

	// Same key.
	err := registry.RegisterCounter("svc", "dup", first)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Different key, same fully-qualified prometheus name.
	clash := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "d"})
	err = registry.RegisterCounter("other", "dup", clash)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "gone", Help: "g"})

	require.NoError(t, registry.RegisterGauge("svc", "gone", gauge))
	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))

	// Key is free again.
	require.NoError(t, registry.RegisterGauge("svc", "gone", gauge))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "racy", Help: "r"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if registry.RegisterGauge("svc", "racy", gauge) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestCoreMetricsRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordPosted("imu", 5)
	m.RecordPosted("imu", 2)
	m.RecordDelivered(PathImmediate, 3)
	m.RecordDelivered(PathWriter, 4)
	m.RecordDropped("timeout", 1)
	m.RecordBackendCall("imu", "activate", "OK")
	m.RecordWakelock(2, true)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.EventsPosted.WithLabelValues("imu")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsDelivered.WithLabelValues(PathImmediate)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.EventsDelivered.WithLabelValues(PathWriter)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendCalls.WithLabelValues("imu", "activate", "OK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WakelockRefCount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WakelockHeld))

	m.RecordWakelock(0, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WakelockHeld))
}

func findFamily(t *testing.T, r *MetricsRegistry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestGatherBackendCallLabels(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()
	core.RecordBackendCall("imu", "activate", "OK")
	core.RecordBackendCall("imu", "activate", "OK")
	core.RecordBackendCall("environment", "flush", "BAD_VALUE")

	mf := findFamily(t, registry, "sensorhub_backend_calls_total")
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())

	got := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		labels := make(map[string]string)
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		got[labels["backend"]+"/"+labels["op"]+"/"+labels["result"]] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"imu/activate/OK":            2,
		"environment/flush/BAD_VALUE": 1,
	}, got)
}

func TestServerHandler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordPosted("imu", 1)

	server := NewServer(0, "", registry)
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sensorhub_events_posted_total{backend="imu"} 1`)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServerStartWithoutRegistry(t *testing.T) {
	server := NewServer(0, "", nil)
	err := server.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
