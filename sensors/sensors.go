// Package sensors defines the data model shared by the proxy, its backends and
// its clients: sensor descriptors, capability flags, events and the values
// used by the direct-report and operation-mode calls.
package sensors

import "fmt"

// SensorType is the numeric type of a sensor.
type SensorType int32

// Sensor types known to the proxy. Vendor types start at TypeDeviceBase.
const (
	TypeMetaData           SensorType = 0
	TypeAccelerometer      SensorType = 1
	TypeMagneticField      SensorType = 2
	TypeOrientation        SensorType = 3
	TypeGyroscope          SensorType = 4
	TypeLight              SensorType = 5
	TypePressure           SensorType = 6
	TypeProximity          SensorType = 8
	TypeGravity            SensorType = 9
	TypeLinearAcceleration SensorType = 10
	TypeRotationVector     SensorType = 11
	TypeRelativeHumidity   SensorType = 12
	TypeAmbientTemperature SensorType = 13
	TypeSignificantMotion  SensorType = 17
	TypeStepDetector       SensorType = 18
	TypeStepCounter        SensorType = 19
	TypeDynamicSensorMeta  SensorType = 32
	TypeAdditionalInfo     SensorType = 33
	TypeLowLatencyOffbody  SensorType = 34
	TypeAccelerometerUncal SensorType = 35
	TypeHingeAngle         SensorType = 36
	TypeDeviceBase         SensorType = 0x10000
)

var typeNames = map[SensorType]string{
	TypeMetaData:           "meta_data",
	TypeAccelerometer:      "accelerometer",
	TypeMagneticField:      "magnetic_field",
	TypeOrientation:        "orientation",
	TypeGyroscope:          "gyroscope",
	TypeLight:              "light",
	TypePressure:           "pressure",
	TypeProximity:          "proximity",
	TypeGravity:            "gravity",
	TypeLinearAcceleration: "linear_acceleration",
	TypeRotationVector:     "rotation_vector",
	TypeRelativeHumidity:   "relative_humidity",
	TypeAmbientTemperature: "ambient_temperature",
	TypeSignificantMotion:  "significant_motion",
	TypeStepDetector:       "step_detector",
	TypeStepCounter:        "step_counter",
	TypeDynamicSensorMeta:  "dynamic_sensor_meta",
	TypeAdditionalInfo:     "additional_info",
	TypeLowLatencyOffbody:  "low_latency_offbody_detect",
	TypeAccelerometerUncal: "accelerometer_uncalibrated",
	TypeHingeAngle:         "hinge_angle",
}

// String returns the short name of the type, or "device_<n>" for vendor types.
func (t SensorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	if t >= TypeDeviceBase {
		return fmt.Sprintf("device_%d", int32(t))
	}
	return fmt.Sprintf("type_%d", int32(t))
}

// ParseSensorType resolves a short name produced by SensorType.String.
func ParseSensorType(name string) (SensorType, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// OperationMode selects between normal operation and data injection.
type OperationMode int

const (
	ModeNormal OperationMode = iota
	ModeDataInjection
)

// String returns the wire name of the mode.
func (m OperationMode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeDataInjection:
		return "DATA_INJECTION"
	default:
		return "UNKNOWN"
	}
}

// ParseOperationMode accepts the names produced by OperationMode.String.
func ParseOperationMode(s string) (OperationMode, bool) {
	switch s {
	case "NORMAL", "normal":
		return ModeNormal, true
	case "DATA_INJECTION", "data_injection":
		return ModeDataInjection, true
	default:
		return 0, false
	}
}

// SharedMemType identifies the kind of shared memory backing a direct channel.
type SharedMemType int

const (
	SharedMemAshmem SharedMemType = iota + 1
	SharedMemGralloc
)

// String returns the wire name of the memory type.
func (t SharedMemType) String() string {
	switch t {
	case SharedMemAshmem:
		return "ASHMEM"
	case SharedMemGralloc:
		return "GRALLOC"
	default:
		return "UNKNOWN"
	}
}

// ParseSharedMemType accepts "ashmem" or "gralloc" in either case.
func ParseSharedMemType(s string) (SharedMemType, bool) {
	switch s {
	case "ASHMEM", "ashmem":
		return SharedMemAshmem, true
	case "GRALLOC", "gralloc":
		return SharedMemGralloc, true
	default:
		return 0, false
	}
}

// SharedMemFormat is the record format written into a direct channel.
type SharedMemFormat int

const (
	// SharedMemFormatEvent is the 104 byte sensor event record.
	SharedMemFormatEvent SharedMemFormat = 1
)

// SharedMemInfo describes a shared memory region offered for a direct channel.
// Region is an opaque identifier; the proxy never maps it.
type SharedMemInfo struct {
	Type   SharedMemType   `json:"type"`
	Format SharedMemFormat `json:"format"`
	Size   uint32          `json:"size"`
	Region string          `json:"region"`
}

// RateLevel is the direct report rate requested by configDirectReport.
type RateLevel int

const (
	RateStop RateLevel = iota
	RateNormal
	RateFast
	RateVeryFast
)

// String returns the wire name of the rate level.
func (r RateLevel) String() string {
	switch r {
	case RateStop:
		return "STOP"
	case RateNormal:
		return "NORMAL"
	case RateFast:
		return "FAST"
	case RateVeryFast:
		return "VERY_FAST"
	default:
		return "UNKNOWN"
	}
}

// ParseRateLevel accepts the names produced by RateLevel.String.
func ParseRateLevel(s string) (RateLevel, bool) {
	for r := RateStop; r <= RateVeryFast; r++ {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}
