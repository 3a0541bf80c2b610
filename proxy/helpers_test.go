package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorhub/backend/fake"
	"github.com/c360/sensorhub/sensors"
	"github.com/c360/sensorhub/subhal"
)

type clientRecorder struct {
	mu           sync.Mutex
	connected    [][]sensors.Descriptor
	disconnected [][]int32
}

func (c *clientRecorder) OnDynamicSensorsConnected(list []sensors.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = append(c.connected, list)
}

func (c *clientRecorder) OnDynamicSensorsDisconnected(handles []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = append(c.disconnected, handles)
}

func (c *clientRecorder) snapshot() ([][]sensors.Descriptor, [][]int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]sensors.Descriptor(nil), c.connected...), append([][]int32(nil), c.disconnected...)
}

type countingLock struct {
	acquires atomic.Int32
	releases atomic.Int32
}

func (l *countingLock) Acquire(string) error { l.acquires.Add(1); return nil }
func (l *countingLock) Release(string) error { l.releases.Add(1); return nil }

// mockAdapter is a testify mock of subhal.Adapter.
type mockAdapter struct {
	mock.Mock
}

func newMockAdapter(name string, list ...sensors.Descriptor) *mockAdapter {
	m := &mockAdapter{}
	m.On("Name").Return(name).Maybe()
	m.On("SensorsList").Return(list).Maybe()
	m.On("Initialize", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

func (m *mockAdapter) Name() string { return m.Called().String(0) }

func (m *mockAdapter) Initialize(ctx context.Context, cb subhal.Callback) error {
	return m.Called(ctx, cb).Error(0)
}

func (m *mockAdapter) SensorsList() []sensors.Descriptor {
	return m.Called().Get(0).([]sensors.Descriptor)
}

func (m *mockAdapter) Activate(handle int32, enabled bool) error {
	return m.Called(handle, enabled).Error(0)
}

func (m *mockAdapter) Batch(handle int32, samplingPeriodNs, maxReportLatencyNs int64) error {
	return m.Called(handle, samplingPeriodNs, maxReportLatencyNs).Error(0)
}

func (m *mockAdapter) Flush(handle int32) error {
	return m.Called(handle).Error(0)
}

func (m *mockAdapter) InjectSensorData(event sensors.Event) error {
	return m.Called(event).Error(0)
}

func (m *mockAdapter) SetOperationMode(mode sensors.OperationMode) error {
	return m.Called(mode).Error(0)
}

func (m *mockAdapter) RegisterDirectChannel(mem sensors.SharedMemInfo) (int32, error) {
	args := m.Called(mem)
	return args.Get(0).(int32), args.Error(1)
}

func (m *mockAdapter) UnregisterDirectChannel(channelHandle int32) error {
	return m.Called(channelHandle).Error(0)
}

func (m *mockAdapter) ConfigDirectReport(handle, channelHandle int32, rate sensors.RateLevel) (int32, error) {
	args := m.Called(handle, channelHandle, rate)
	return args.Get(0).(int32), args.Error(1)
}

func accel(handle int32, flags sensors.Flags) sensors.Descriptor {
	return sensors.Descriptor{
		Handle: handle,
		Name:   "accel",
		Vendor: "test",
		Type:   sensors.TypeAccelerometer,
		Flags:  flags,
	}
}

func proximity(handle int32) sensors.Descriptor {
	return sensors.Descriptor{
		Handle: handle,
		Name:   "proximity",
		Vendor: "test",
		Type:   sensors.TypeProximity,
		Flags:  sensors.FlagWakeUp | sensors.Flags(0).WithReportingMode(sensors.ReportingOnChange),
	}
}

var ashmemFast = sensors.FlagDirectChannelAshmem | sensors.Flags(0).WithDirectReportRate(sensors.RateFast)

func newProxy(t *testing.T, opts ...Option) *Proxy {
	t.Helper()
	p, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop(time.Second) })
	return p
}

// startProxy registers the adapters in order and initializes the proxy.
func startProxy(t *testing.T, adapters []subhal.Adapter, opts ...Option) (*Proxy, *clientRecorder) {
	t.Helper()
	p := newProxy(t, opts...)
	for i, a := range adapters {
		index, err := p.Register(a)
		require.NoError(t, err)
		require.Equal(t, i, index)
	}
	client := &clientRecorder{}
	require.NoError(t, p.Initialize(context.Background(), client))
	return p, client
}

func events(handle int32, start, n int) []sensors.Event {
	out := make([]sensors.Event, n)
	for i := range out {
		out[i] = sensors.Event{SensorHandle: handle, SensorType: sensors.TypeAccelerometer, Timestamp: int64(start + i)}
	}
	return out
}

func timestamps(list []sensors.Event) []int64 {
	out := make([]int64, len(list))
	for i, e := range list {
		out[i] = e.Timestamp
	}
	return out
}

func adapters(backends ...*fake.Backend) []subhal.Adapter {
	out := make([]subhal.Adapter, len(backends))
	for i, b := range backends {
		out[i] = b
	}
	return out
}
