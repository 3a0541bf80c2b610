package proxy

import (
	"sort"
	"sync"

	"github.com/c360/sensorhub/sensors"
)

// DynamicSensors is the table of connected dynamic sensors, keyed by merged
// handle.
type DynamicSensors struct {
	mu      sync.RWMutex
	sensors map[int32]sensors.Descriptor
}

// NewDynamicSensors creates an empty table.
func NewDynamicSensors() *DynamicSensors {
	return &DynamicSensors{sensors: make(map[int32]sensors.Descriptor)}
}

// Add inserts or replaces descriptors. Handles must already be merged.
func (d *DynamicSensors) Add(list []sensors.Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range list {
		d.sensors[s.Handle] = s
	}
}

// Remove deletes the given merged handles and returns those that were
// present.
func (d *DynamicSensors) Remove(handles []int32) []int32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := make([]int32, 0, len(handles))
	for _, h := range handles {
		if _, ok := d.sensors[h]; ok {
			delete(d.sensors, h)
			removed = append(removed, h)
		}
	}
	return removed
}

// Get looks up one sensor.
func (d *DynamicSensors) Get(merged int32) (sensors.Descriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sensors[merged]
	return s, ok
}

// List returns the connected sensors ordered by handle.
func (d *DynamicSensors) List() []sensors.Descriptor {
	d.mu.RLock()
	list := make([]sensors.Descriptor, 0, len(d.sensors))
	for _, s := range d.sensors {
		list = append(list, s)
	}
	d.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Handle < list[j].Handle })
	return list
}

// Clear removes every sensor and returns how many there were.
func (d *DynamicSensors) Clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.sensors)
	clear(d.sensors)
	return n
}

// Len returns the number of connected sensors.
func (d *DynamicSensors) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sensors)
}

func (p *Proxy) onDynamicSensorsConnected(rec *BackendRecord, list []sensors.Descriptor) {
	if len(list) == 0 {
		return
	}

	merged := make([]sensors.Descriptor, len(list))
	for i, s := range list {
		s.Handle = EncodeHandle(rec.Index, s.Handle)
		if !rec.DirectChannelOwner {
			s.Flags = s.Flags.WithoutDirectChannel()
		}
		merged[i] = s
	}

	dynamic := p.registry.Dynamic()
	dynamic.Add(merged)
	p.recordDynamic()

	p.logger.Info("Dynamic sensors connected",
		"backend", rec.Name,
		"count", len(merged))

	if client := p.clientCallback(); client != nil {
		client.OnDynamicSensorsConnected(merged)
	}
}

// onDynamicSensorsDisconnected accepts local handles or merged handles of the
// reporting backend. Handles owned by another backend are ignored.
func (p *Proxy) onDynamicSensorsDisconnected(rec *BackendRecord, handles []int32) {
	owned := make([]int32, 0, len(handles))
	for _, h := range handles {
		switch index := BackendIndex(h); index {
		case 0:
			owned = append(owned, EncodeHandle(rec.Index, h))
		case rec.Index:
			owned = append(owned, h)
		default:
			p.logger.Warn("Backend tried to disconnect a sensor it does not own",
				"backend", rec.Name,
				"handle", h,
				"owner_index", index)
		}
	}

	removed := p.registry.Dynamic().Remove(owned)
	if len(removed) < len(owned) {
		p.logger.Debug("Ignoring disconnect of unknown dynamic sensors",
			"backend", rec.Name,
			"unknown", len(owned)-len(removed))
	}
	if len(removed) == 0 {
		return
	}
	p.recordDynamic()

	p.logger.Info("Dynamic sensors disconnected",
		"backend", rec.Name,
		"count", len(removed))

	if client := p.clientCallback(); client != nil {
		client.OnDynamicSensorsDisconnected(removed)
	}
}

func (p *Proxy) recordDynamic() {
	if p.metrics != nil {
		p.metrics.DynamicSensors.Set(float64(p.registry.Dynamic().Len()))
	}
}
