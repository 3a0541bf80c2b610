package proxy

import (
	"github.com/c360/sensorhub/sensors"
	"github.com/c360/sensorhub/wakelock"
)

// backendCallback is the subhal.Callback handed to one backend. It rewrites
// local handles to merged handles before anything leaves the backend.
type backendCallback struct {
	proxy   *Proxy
	backend *BackendRecord
}

func (c *backendCallback) PostEvents(events []sensors.Event, wakeup bool) {
	if len(events) == 0 {
		return
	}

	p := c.proxy
	merged := make([]sensors.Event, len(events))
	for i, e := range events {
		e.SensorHandle = EncodeHandle(c.backend.Index, e.SensorHandle)
		if e.DynamicSensorMeta != nil {
			meta := *e.DynamicSensorMeta
			meta.SensorHandle = EncodeHandle(c.backend.Index, meta.SensorHandle)
			e.DynamicSensorMeta = &meta
		}
		if !wakeup {
			if d, ok := p.registry.Sensor(e.SensorHandle); ok && d.IsWakeUp() {
				wakeup = true
			}
		}
		merged[i] = e
	}

	var guard *wakelock.Guard
	if wakeup {
		guard = p.wakelock.Acquire()
	}
	if p.metrics != nil {
		p.metrics.RecordPosted(c.backend.Name, len(merged))
	}

	p.pipeline.Post(sensors.EventBatch{Events: merged, WakeUp: wakeup}, guard)
}

func (c *backendCallback) OnDynamicSensorsConnected(list []sensors.Descriptor) {
	c.proxy.onDynamicSensorsConnected(c.backend, list)
}

func (c *backendCallback) OnDynamicSensorsDisconnected(handles []int32) {
	c.proxy.onDynamicSensorsDisconnected(c.backend, handles)
}
