package proxy

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/sensors"
	"github.com/c360/sensorhub/subhal"
)

// BackendRecord is one registered backend.
type BackendRecord struct {
	Index   int
	Name    string
	Adapter subhal.Adapter

	// DirectChannelOwner is set on the single backend that receives
	// direct channel calls.
	DirectChannelOwner bool

	// Sensors is the backend's static list with merged handles and
	// direct channel flags already masked.
	Sensors []sensors.Descriptor
}

// Registry owns the backend list and the merged static sensor list. Backends
// are registered before Build; afterwards the registry is read-only and
// lookups take no lock.
type Registry struct {
	mu       sync.Mutex
	backends []*BackendRecord

	built   atomic.Bool
	merged  []sensors.Descriptor
	static  map[int32]sensors.Descriptor
	owner   *BackendRecord
	dynamic *DynamicSensors
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		static:  make(map[int32]sensors.Descriptor),
		dynamic: NewDynamicSensors(),
	}
}

// Register appends a backend and returns its index. Registration order
// decides direct channel ownership and the order of the merged list.
func (r *Registry) Register(adapter subhal.Adapter) (*BackendRecord, error) {
	if adapter == nil {
		return nil, errors.WrapInvalid(errors.ErrBadValue, "Registry", "Register", "register nil adapter")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built.Load() {
		return nil, errors.WrapInvalid(errors.ErrRegistryBuilt, "Registry", "Register",
			fmt.Sprintf("register backend %q", adapter.Name()))
	}
	if len(r.backends) >= MaxBackends {
		return nil, errors.WrapFatal(errors.ErrTooManyBackends, "Registry", "Register",
			fmt.Sprintf("register backend %q", adapter.Name()))
	}

	rec := &BackendRecord{
		Index:   len(r.backends),
		Name:    adapter.Name(),
		Adapter: adapter,
	}
	r.backends = append(r.backends, rec)
	return rec, nil
}

// Build merges every backend's sensor list in registration order and picks
// the direct channel owner: the first backend with any direct channel capable
// sensor. Every other backend has its direct channel flags cleared.
func (r *Registry) Build() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built.Load() {
		return errors.WrapInvalid(errors.ErrRegistryBuilt, "Registry", "Build", "build merged sensor list")
	}

	lists := make([][]sensors.Descriptor, len(r.backends))
	for i, rec := range r.backends {
		lists[i] = rec.Adapter.SensorsList()
		if r.owner != nil {
			continue
		}
		for _, d := range lists[i] {
			if d.Flags.HasDirectChannel() {
				r.owner = rec
				rec.DirectChannelOwner = true
				break
			}
		}
	}

	for i, rec := range r.backends {
		rec.Sensors = make([]sensors.Descriptor, 0, len(lists[i]))
		for _, d := range lists[i] {
			d.Handle = EncodeHandle(rec.Index, d.Handle)
			if !rec.DirectChannelOwner {
				d.Flags = d.Flags.WithoutDirectChannel()
			}
			if _, dup := r.static[d.Handle]; dup {
				return errors.WrapFatal(errors.ErrBadValue, "Registry", "Build",
					fmt.Sprintf("backend %q reports handle %#x twice", rec.Name, LocalHandle(d.Handle)))
			}
			r.static[d.Handle] = d
			rec.Sensors = append(rec.Sensors, d)
			r.merged = append(r.merged, d)
		}
	}

	r.built.Store(true)
	return nil
}

// Built reports whether Build has completed.
func (r *Registry) Built() bool {
	return r.built.Load()
}

// Backends returns the registered backends in registration order.
func (r *Registry) Backends() []*BackendRecord {
	if r.built.Load() {
		return r.backends
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*BackendRecord(nil), r.backends...)
}

// Resolve maps a merged handle to its backend and local handle.
func (r *Registry) Resolve(merged int32) (*BackendRecord, int32, error) {
	if !r.built.Load() {
		return nil, 0, errors.WrapInvalid(errors.ErrNotInitialized, "Registry", "Resolve", "resolve handle")
	}
	index := BackendIndex(merged)
	if index >= len(r.backends) {
		return nil, 0, errors.WrapInvalid(errors.ErrBadValue, "Registry", "Resolve",
			fmt.Sprintf("resolve handle %#x", merged))
	}
	return r.backends[index], LocalHandle(merged), nil
}

// DirectChannelOwner returns the backend receiving direct channel calls, if
// any backend advertised direct channel support.
func (r *Registry) DirectChannelOwner() (*BackendRecord, bool) {
	if !r.built.Load() || r.owner == nil {
		return nil, false
	}
	return r.owner, true
}

// SensorsList returns a copy of the merged static sensor list.
func (r *Registry) SensorsList() []sensors.Descriptor {
	if !r.built.Load() {
		return nil
	}
	return append([]sensors.Descriptor(nil), r.merged...)
}

// Sensor looks a merged handle up in the static and dynamic tables.
func (r *Registry) Sensor(merged int32) (sensors.Descriptor, bool) {
	if r.built.Load() {
		if d, ok := r.static[merged]; ok {
			return d, true
		}
	}
	return r.dynamic.Get(merged)
}

// Dynamic returns the dynamic sensor table.
func (r *Registry) Dynamic() *DynamicSensors {
	return r.dynamic
}
