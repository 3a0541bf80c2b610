package fake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorhub/config"
	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/sensors"
)

type recordingCallback struct {
	mu           sync.Mutex
	batches      [][]sensors.Event
	wakeups      []bool
	connected    [][]sensors.Descriptor
	disconnected [][]int32
}

func (r *recordingCallback) PostEvents(events []sensors.Event, wakeup bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
	r.wakeups = append(r.wakeups, wakeup)
}

func (r *recordingCallback) OnDynamicSensorsConnected(list []sensors.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, list)
}

func (r *recordingCallback) OnDynamicSensorsDisconnected(handles []int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, handles)
}

func (r *recordingCallback) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func accel() sensors.Descriptor {
	return sensors.Descriptor{
		Handle: 1,
		Name:   "accel",
		Type:   sensors.TypeAccelerometer,
		Flags: sensors.FlagDataInjection | sensors.FlagDirectChannelAshmem |
			sensors.Flags(0).WithDirectReportRate(sensors.RateFast),
	}
}

func proximity() sensors.Descriptor {
	return sensors.Descriptor{
		Handle: 2,
		Name:   "proximity",
		Type:   sensors.TypeProximity,
		Flags:  sensors.FlagWakeUp | sensors.Flags(0).WithReportingMode(sensors.ReportingOnChange),
	}
}

func newInitialized(t *testing.T, opts ...Option) (*Backend, *recordingCallback) {
	t.Helper()
	b := New("test", append([]Option{WithSensors(accel(), proximity())}, opts...)...)
	cb := &recordingCallback{}
	require.NoError(t, b.Initialize(context.Background(), cb))
	t.Cleanup(func() { _ = b.Close() })
	return b, cb
}

func TestFromConfig(t *testing.T) {
	b, err := FromConfig(config.BackendConfig{
		Name: "imu",
		Kind: config.BackendFake,
		Sensors: []config.SensorConfig{
			{Handle: 1, Name: "accel", Type: "accelerometer", DirectChannel: []string{"ashmem"}},
			{Handle: 2, Name: "prox", Type: "proximity", WakeUp: true},
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "imu", b.Name())
	list := b.SensorsList()
	require.Len(t, list, 2)
	assert.Equal(t, int32(1), list[0].Handle)
	assert.True(t, list[0].Flags.SupportsChannel(sensors.SharedMemAshmem))
	assert.True(t, list[1].IsWakeUp())

	_, err = FromConfig(config.BackendConfig{Name: "x", Kind: "iio"}, nil)
	assert.ErrorIs(t, err, errors.ErrUnknownBackend)

	_, err = FromConfig(config.BackendConfig{
		Name:    "x",
		Kind:    config.BackendFake,
		Sensors: []config.SensorConfig{{Handle: 1, Name: "bad", Type: "nope"}},
	}, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestActivateBatchAndCalls(t *testing.T) {
	b, _ := newInitialized(t)

	require.NoError(t, b.Activate(1, true))
	assert.True(t, b.Active(1))
	require.NoError(t, b.Batch(1, 20_000_000, 0))
	period, ok := b.SamplingPeriod(1)
	require.True(t, ok)
	assert.Equal(t, int64(20_000_000), period)

	err := b.Activate(99, true)
	assert.ErrorIs(t, err, errors.ErrBadValue)

	require.NoError(t, b.Activate(1, false))
	assert.False(t, b.Active(1))

	assert.Equal(t, 3, b.CallCount(OpActivate))
	calls := b.Calls()
	assert.Equal(t, Call{Op: OpInitialize}, calls[0])
	assert.Equal(t, Call{Op: OpActivate, Handle: 1, Enabled: true}, calls[1])
}

func TestFailureInjection(t *testing.T) {
	b, _ := newInitialized(t, WithFailure(OpSetOperationMode, errors.ErrPermissionDenied))

	err := b.SetOperationMode(sensors.ModeDataInjection)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	assert.Equal(t, sensors.ModeNormal, b.Mode())

	b.Fail(OpSetOperationMode, nil)
	require.NoError(t, b.SetOperationMode(sensors.ModeDataInjection))
	assert.Equal(t, sensors.ModeDataInjection, b.Mode())

	b.Fail(OpFlush, errors.ErrNoMemory)
	assert.ErrorIs(t, b.Flush(1), errors.ErrNoMemory)
}

func TestFlushPostsMetaEvent(t *testing.T) {
	b, cb := newInitialized(t)

	assert.ErrorIs(t, b.Flush(1), errors.ErrBadValue, "inactive sensor")

	require.NoError(t, b.Activate(1, true))
	require.NoError(t, b.Flush(1))

	require.Equal(t, 1, cb.batchCount())
	assert.Equal(t, sensors.TypeMetaData, cb.batches[0][0].SensorType)
	assert.Equal(t, int32(1), cb.batches[0][0].SensorHandle)
}

func TestInjectSensorData(t *testing.T) {
	b, cb := newInitialized(t)

	info := sensors.Event{SensorType: sensors.TypeAdditionalInfo, SensorHandle: 1}
	require.NoError(t, b.InjectSensorData(info))

	sample := sensors.Event{SensorHandle: 1, SensorType: sensors.TypeAccelerometer, Values: []float32{1, 2, 3}}
	assert.ErrorIs(t, b.InjectSensorData(sample), errors.ErrInvalidOperation)

	require.NoError(t, b.SetOperationMode(sensors.ModeDataInjection))
	require.NoError(t, b.InjectSensorData(sample))
	require.Equal(t, 1, cb.batchCount())
	assert.Equal(t, sample, cb.batches[0][0])

	noInjection := sensors.Event{SensorHandle: 2, SensorType: sensors.TypeProximity}
	assert.ErrorIs(t, b.InjectSensorData(noInjection), errors.ErrBadValue)

	assert.Len(t, b.Injected(), 4)
}

func TestDirectChannel(t *testing.T) {
	b, _ := newInitialized(t)

	mem := sensors.SharedMemInfo{Type: sensors.SharedMemAshmem, Format: sensors.SharedMemFormatEvent, Size: 4096}
	ch, err := b.RegisterDirectChannel(mem)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ch)

	_, err = b.RegisterDirectChannel(sensors.SharedMemInfo{Type: sensors.SharedMemGralloc, Format: sensors.SharedMemFormatEvent, Size: 1})
	assert.ErrorIs(t, err, errors.ErrInvalidOperation)

	token, err := b.ConfigDirectReport(1, ch, sensors.RateNormal)
	require.NoError(t, err)
	assert.Equal(t, int32(1), token)

	_, err = b.ConfigDirectReport(1, ch, sensors.RateVeryFast)
	assert.ErrorIs(t, err, errors.ErrBadValue, "rate above the advertised maximum")

	_, err = b.ConfigDirectReport(2, ch, sensors.RateNormal)
	assert.ErrorIs(t, err, errors.ErrBadValue, "sensor without direct channel")

	token, err = b.ConfigDirectReport(-1, ch, sensors.RateStop)
	require.NoError(t, err)
	assert.Zero(t, token)

	require.NoError(t, b.UnregisterDirectChannel(ch))
	assert.ErrorIs(t, b.UnregisterDirectChannel(ch), errors.ErrBadValue)
}

func TestProducerEmitsForActiveSensors(t *testing.T) {
	b, cb := newInitialized(t, WithRate(5*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, cb.batchCount(), "no active sensors")

	require.NoError(t, b.Activate(2, true))
	require.Eventually(t, func() bool { return cb.batchCount() >= 2 }, time.Second, 5*time.Millisecond)

	cb.mu.Lock()
	assert.True(t, cb.wakeups[0])
	assert.Equal(t, int32(2), cb.batches[0][0].SensorHandle)
	assert.Equal(t, []float32{1}, cb.batches[0][0].Values)
	cb.mu.Unlock()

	require.NoError(t, b.Close())
	n := cb.batchCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, cb.batchCount(), "producer stopped")
}

func TestHelpersBeforeInitialize(t *testing.T) {
	b := New("idle", WithSensors(accel()))

	assert.False(t, b.PostEvents([]sensors.Event{{SensorHandle: 1}}, false))
	assert.False(t, b.ConnectDynamic(proximity()))
	assert.False(t, b.DisconnectDynamic(2))
	require.NoError(t, b.Close())
}

func TestDynamicHelpers(t *testing.T) {
	b, cb := newInitialized(t)

	require.True(t, b.ConnectDynamic(sensors.Descriptor{Handle: 10, Name: "hid"}))
	require.True(t, b.DisconnectDynamic(10))

	assert.Len(t, cb.connected, 1)
	assert.Equal(t, [][]int32{{10}}, cb.disconnected)
}
