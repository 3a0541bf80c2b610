package sensors

// Flags is the capability bit-set of a sensor.
type Flags uint32

const (
	FlagWakeUp Flags = 1 << 0

	// Reporting mode occupies bits 1-3.
	flagReportingModeShift      = 1
	FlagMaskReportingMode Flags = 0xE

	FlagDataInjection  Flags = 0x10
	FlagDynamicSensor  Flags = 0x20
	FlagAdditionalInfo Flags = 0x40

	// Direct report rate occupies bits 7-9.
	flagDirectReportShift      = 7
	FlagMaskDirectReport Flags = 0x380

	FlagDirectChannelAshmem  Flags = 0x400
	FlagDirectChannelGralloc Flags = 0x800

	FlagMaskDirectChannel = FlagDirectChannelAshmem | FlagDirectChannelGralloc
)

// ReportingMode describes when a sensor produces events.
type ReportingMode uint32

const (
	ReportingContinuous ReportingMode = iota
	ReportingOnChange
	ReportingOneShot
	ReportingSpecial
)

// String returns the name of the reporting mode.
func (m ReportingMode) String() string {
	switch m {
	case ReportingContinuous:
		return "continuous"
	case ReportingOnChange:
		return "on_change"
	case ReportingOneShot:
		return "one_shot"
	case ReportingSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// ParseReportingMode accepts the names produced by ReportingMode.String.
func ParseReportingMode(s string) (ReportingMode, bool) {
	for m := ReportingContinuous; m <= ReportingSpecial; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

// IsWakeUp reports whether events of the sensor must keep the device awake.
func (f Flags) IsWakeUp() bool { return f&FlagWakeUp != 0 }

// ReportingMode extracts the reporting mode field.
func (f Flags) ReportingMode() ReportingMode {
	return ReportingMode((f & FlagMaskReportingMode) >> flagReportingModeShift)
}

// WithReportingMode returns f with the reporting mode field replaced.
func (f Flags) WithReportingMode(m ReportingMode) Flags {
	return (f &^ FlagMaskReportingMode) | (Flags(m)<<flagReportingModeShift)&FlagMaskReportingMode
}

// DirectReportRate extracts the highest supported direct report rate.
func (f Flags) DirectReportRate() RateLevel {
	return RateLevel((f & FlagMaskDirectReport) >> flagDirectReportShift)
}

// WithDirectReportRate returns f with the direct report rate field replaced.
func (f Flags) WithDirectReportRate(r RateLevel) Flags {
	return (f &^ FlagMaskDirectReport) | (Flags(r)<<flagDirectReportShift)&FlagMaskDirectReport
}

// HasDirectChannel reports whether the sensor can be read through any
// direct channel type or advertises a direct report rate.
func (f Flags) HasDirectChannel() bool {
	return f&(FlagMaskDirectChannel|FlagMaskDirectReport) != 0
}

// SupportsChannel reports whether the given shared memory type is supported.
func (f Flags) SupportsChannel(t SharedMemType) bool {
	switch t {
	case SharedMemAshmem:
		return f&FlagDirectChannelAshmem != 0
	case SharedMemGralloc:
		return f&FlagDirectChannelGralloc != 0
	default:
		return false
	}
}

// WithoutDirectChannel clears every direct channel and direct report bit.
func (f Flags) WithoutDirectChannel() Flags {
	return f &^ (FlagMaskDirectChannel | FlagMaskDirectReport)
}

// Descriptor is the immutable description of one sensor. Handle is the
// backend-local handle when returned by a backend and the merged handle once
// published by the proxy.
type Descriptor struct {
	Handle                 int32      `json:"handle"`
	Name                   string     `json:"name"`
	Vendor                 string     `json:"vendor"`
	Version                int32      `json:"version"`
	Type                   SensorType `json:"type"`
	TypeAsString           string     `json:"type_as_string,omitempty"`
	MaxRange               float32    `json:"max_range"`
	Resolution             float32    `json:"resolution"`
	Power                  float32    `json:"power"`
	MinDelay               int32      `json:"min_delay_us"`
	MaxDelay               int32      `json:"max_delay_us"`
	FifoReservedEventCount uint32     `json:"fifo_reserved_event_count"`
	FifoMaxEventCount      uint32     `json:"fifo_max_event_count"`
	RequiredPermission     string     `json:"required_permission,omitempty"`
	Flags                  Flags      `json:"flags"`
}

// IsWakeUp reports whether the sensor is a wake-up sensor.
func (d Descriptor) IsWakeUp() bool { return d.Flags.IsWakeUp() }

// DynamicSensorMeta is carried by a dynamic sensor meta event.
type DynamicSensorMeta struct {
	Connected    bool   `json:"connected"`
	SensorHandle int32  `json:"sensor_handle"`
	UUID         string `json:"uuid,omitempty"`
}

// Event is one sensor sample. Values is an opaque payload whose layout depends
// on the sensor type.
type Event struct {
	SensorHandle      int32              `json:"sensor_handle"`
	SensorType        SensorType         `json:"sensor_type"`
	Timestamp         int64              `json:"timestamp"`
	Values            []float32          `json:"values,omitempty"`
	DynamicSensorMeta *DynamicSensorMeta `json:"dynamic_sensor_meta,omitempty"`
}

// EventBatch is an ordered run of events delivered in one attempt.
type EventBatch struct {
	Events []Event
	// WakeUp is set when at least one event comes from a wake-up sensor.
	WakeUp bool
}

// Len returns the number of events in the batch.
func (b EventBatch) Len() int { return len(b.Events) }
