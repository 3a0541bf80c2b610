package proxy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorhub/backend/fake"
	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/sensors"
)

func TestRegistryMergedListOrder(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(fake.New("a", fake.WithSensors(accel(1, 0), proximity(2))))
	require.NoError(t, err)
	_, err = r.Register(fake.New("b", fake.WithSensors(accel(1, 0))))
	require.NoError(t, err)
	require.NoError(t, r.Build())

	want := []sensors.Descriptor{
		accel(EncodeHandle(0, 1), 0),
		proximity(EncodeHandle(0, 2)),
		accel(EncodeHandle(1, 1), 0),
	}
	if diff := cmp.Diff(want, r.SensorsList()); diff != "" {
		t.Errorf("merged list mismatch (-want +got):\n%s", diff)
	}

	rec, local, err := r.Resolve(EncodeHandle(1, 1))
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Name)
	assert.Equal(t, int32(1), local)
}

func TestRegistryDirectChannelOwnerFirstWins(t *testing.T) {
	// A advertises ashmem, B nothing.
	r := NewRegistry()
	_, err := r.Register(fake.New("a", fake.WithSensors(accel(1, ashmemFast), proximity(2))))
	require.NoError(t, err)
	_, err = r.Register(fake.New("b", fake.WithSensors(accel(1, ashmemFast), proximity(2))))
	require.NoError(t, err)
	require.NoError(t, r.Build())

	owner, ok := r.DirectChannelOwner()
	require.True(t, ok)
	assert.Equal(t, "a", owner.Name)
	assert.True(t, owner.DirectChannelOwner)

	for _, d := range r.SensorsList() {
		fromA := BackendIndex(d.Handle) == 0
		if d.Name == "accel" {
			assert.Equal(t, fromA, d.Flags.HasDirectChannel(), "handle %#x", d.Handle)
		} else {
			assert.False(t, d.Flags.HasDirectChannel(), "handle %#x", d.Handle)
		}
		assert.Equal(t, d.Name == "proximity", d.IsWakeUp(), "other flags survive masking")
	}
}

func TestRegistryDirectChannelOwnerSkipsIncapableBackends(t *testing.T) {
	gralloc := sensors.FlagDirectChannelGralloc | sensors.Flags(0).WithDirectReportRate(sensors.RateNormal)

	r := NewRegistry()
	for _, b := range []*fake.Backend{
		fake.New("none", fake.WithSensors(accel(1, 0))),
		fake.New("gralloc", fake.WithSensors(accel(1, gralloc))),
		fake.New("ashmem", fake.WithSensors(accel(1, ashmemFast))),
	} {
		_, err := r.Register(b)
		require.NoError(t, err)
	}
	require.NoError(t, r.Build())

	owner, ok := r.DirectChannelOwner()
	require.True(t, ok)
	assert.Equal(t, 1, owner.Index)

	list := r.SensorsList()
	require.Len(t, list, 3)
	assert.False(t, list[0].Flags.HasDirectChannel())
	assert.True(t, list[1].Flags.SupportsChannel(sensors.SharedMemGralloc))
	assert.Equal(t, sensors.RateNormal, list[1].Flags.DirectReportRate())
	assert.False(t, list[2].Flags.HasDirectChannel())
}

func TestRegistryNoDirectChannelOwner(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(fake.New("a", fake.WithSensors(accel(1, 0))))
	require.NoError(t, err)
	require.NoError(t, r.Build())

	_, ok := r.DirectChannelOwner()
	assert.False(t, ok)
}

func TestRegistryResolveOutOfRange(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(fake.New("a", fake.WithSensors(accel(1, 0))))
	require.NoError(t, err)

	_, _, err = r.Resolve(1)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)

	require.NoError(t, r.Build())

	_, _, err = r.Resolve(EncodeHandle(1, 1))
	assert.ErrorIs(t, err, errors.ErrBadValue)
	assert.Equal(t, errors.ResultBadValue, errors.ResultOf(err))
}

func TestRegistryLifecycleErrors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register(nil)
	assert.ErrorIs(t, err, errors.ErrBadValue)

	require.NoError(t, r.Build())
	assert.ErrorIs(t, r.Build(), errors.ErrRegistryBuilt)

	_, err = r.Register(fake.New("late"))
	assert.ErrorIs(t, err, errors.ErrRegistryBuilt)
}

func TestRegistryRejectsDuplicateHandles(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(fake.New("a", fake.WithSensors(accel(1, 0), proximity(1))))
	require.NoError(t, err)

	err = r.Build()
	assert.True(t, errors.IsFatal(err))
}

func TestRegistryTooManyBackends(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxBackends; i++ {
		_, err := r.Register(fake.New("b"))
		require.NoError(t, err)
	}
	_, err := r.Register(fake.New("overflow"))
	assert.ErrorIs(t, err, errors.ErrTooManyBackends)
}

func TestRegistryPanicsOnWideLocalHandle(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(fake.New("a", fake.WithSensors(accel(0x01000001, 0))))
	require.NoError(t, err)

	assert.Panics(t, func() { _ = r.Build() })
}

func TestDynamicSensorsTable(t *testing.T) {
	d := NewDynamicSensors()
	d.Add([]sensors.Descriptor{accel(EncodeHandle(1, 9), 0), accel(EncodeHandle(0, 3), 0)})

	list := d.List()
	require.Len(t, list, 2)
	assert.Equal(t, int32(3), list[0].Handle)

	removed := d.Remove([]int32{3, 42})
	assert.Equal(t, []int32{3}, removed)
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 1, d.Clear())
	assert.Zero(t, d.Len())
}
