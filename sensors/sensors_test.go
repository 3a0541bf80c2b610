package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlags_ReportingMode(t *testing.T) {
	for _, mode := range []ReportingMode{ReportingContinuous, ReportingOnChange, ReportingOneShot, ReportingSpecial} {
		f := FlagWakeUp.WithReportingMode(mode)
		assert.Equal(t, mode, f.ReportingMode(), mode.String())
		assert.True(t, f.IsWakeUp(), "other bits must survive")
	}
}

func TestFlags_DirectChannel(t *testing.T) {
	f := (FlagDirectChannelAshmem | FlagWakeUp).WithDirectReportRate(RateFast)

	assert.True(t, f.HasDirectChannel())
	assert.True(t, f.SupportsChannel(SharedMemAshmem))
	assert.False(t, f.SupportsChannel(SharedMemGralloc))
	assert.Equal(t, RateFast, f.DirectReportRate())

	cleared := f.WithoutDirectChannel()
	assert.False(t, cleared.HasDirectChannel())
	assert.Equal(t, RateStop, cleared.DirectReportRate())
	assert.True(t, cleared.IsWakeUp())
}

func TestFlags_RateOnlyCountsAsDirectChannel(t *testing.T) {
	f := Flags(0).WithDirectReportRate(RateNormal)
	assert.True(t, f.HasDirectChannel())
}

func TestSensorType_String(t *testing.T) {
	assert.Equal(t, "accelerometer", TypeAccelerometer.String())
	assert.Equal(t, "device_65537", (TypeDeviceBase + 1).String())
	assert.Equal(t, "type_99", SensorType(99).String())

	typ, ok := ParseSensorType("gyroscope")
	assert.True(t, ok)
	assert.Equal(t, TypeGyroscope, typ)
}

func TestParseOperationMode(t *testing.T) {
	mode, ok := ParseOperationMode("DATA_INJECTION")
	assert.True(t, ok)
	assert.Equal(t, ModeDataInjection, mode)

	_, ok = ParseOperationMode("turbo")
	assert.False(t, ok)
}

func TestParseNames(t *testing.T) {
	mode, ok := ParseReportingMode("on_change")
	require.True(t, ok)
	assert.Equal(t, ReportingOnChange, mode)
	_, ok = ParseReportingMode("sometimes")
	assert.False(t, ok)

	mem, ok := ParseSharedMemType("ashmem")
	require.True(t, ok)
	assert.Equal(t, SharedMemAshmem, mem)
	_, ok = ParseSharedMemType("dmabuf")
	assert.False(t, ok)

	rate, ok := ParseRateLevel("VERY_FAST")
	require.True(t, ok)
	assert.Equal(t, RateVeryFast, rate)

	st, ok := ParseSensorType("gyroscope")
	require.True(t, ok)
	assert.Equal(t, TypeGyroscope, st)
}
