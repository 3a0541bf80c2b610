// Package subhal defines the contract between the proxy and a sensor
// backend. Handles crossing this boundary are always backend-local.
package subhal

import (
	"context"

	"github.com/c360/sensorhub/sensors"
)

// Adapter is implemented once per backend. Calls are synchronous
// pass-throughs; the proxy applies no timeout of its own.
type Adapter interface {
	// Name identifies the backend in logs, metrics and dumps.
	Name() string

	// Initialize hands the backend its callback. It may be called again on
	// re-initialisation; the backend must then drop the previous callback.
	Initialize(ctx context.Context, cb Callback) error

	SensorsList() []sensors.Descriptor
	Activate(handle int32, enabled bool) error
	Batch(handle int32, samplingPeriodNs, maxReportLatencyNs int64) error
	Flush(handle int32) error
	InjectSensorData(event sensors.Event) error
	SetOperationMode(mode sensors.OperationMode) error

	// Direct channel calls. Only the direct-channel owner receives them.
	RegisterDirectChannel(mem sensors.SharedMemInfo) (int32, error)
	UnregisterDirectChannel(channelHandle int32) error
	ConfigDirectReport(handle, channelHandle int32, rate sensors.RateLevel) (int32, error)
}

// Callback is handed to each backend at initialisation. Each backend gets its
// own instance; implementations rewrite local handles to merged handles.
type Callback interface {
	// PostEvents delivers events in production order. wakeup marks the batch
	// as containing wake-up events.
	PostEvents(events []sensors.Event, wakeup bool)
	OnDynamicSensorsConnected(list []sensors.Descriptor)
	OnDynamicSensorsDisconnected(handles []int32)
}

// Closer is optionally implemented by backends owning goroutines or
// connections.
type Closer interface {
	Close() error
}
