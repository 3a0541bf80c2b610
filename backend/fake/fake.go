// Package fake provides an in-process sensor backend. It serves a configured
// sensor list, records every call it receives, can be told to fail any
// operation, and can generate constant samples for active sensors.
package fake

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/sensorhub/config"
	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/sensors"
	"github.com/c360/sensorhub/subhal"
)

// Operation names used in recorded calls and failure injection.
const (
	OpInitialize              = "initialize"
	OpActivate                = "activate"
	OpBatch                   = "batch"
	OpFlush                   = "flush"
	OpInject                  = "inject"
	OpSetOperationMode        = "set_operation_mode"
	OpRegisterDirectChannel   = "register_direct_channel"
	OpUnregisterDirectChannel = "unregister_direct_channel"
	OpConfigDirectReport      = "config_direct_report"
)

// Call is one recorded adapter call. Handle is the local sensor or channel
// handle when the operation takes one.
type Call struct {
	Op      string
	Handle  int32
	Enabled bool
	Mode    sensors.OperationMode
}

// Backend is a fake subhal.Adapter.
type Backend struct {
	name    string
	sensors []sensors.Descriptor
	rate    time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	cb          subhal.Callback
	mode        sensors.OperationMode
	active      map[int32]bool
	periods     map[int32]int64
	channels    map[int32]sensors.SharedMemInfo
	nextChannel int32
	calls       []Call
	failures    map[string]error
	injected    []sensors.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ subhal.Adapter = (*Backend)(nil)
var _ subhal.Closer = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithSensors sets the static sensor list. Handles are backend-local.
func WithSensors(list ...sensors.Descriptor) Option {
	return func(b *Backend) {
		b.sensors = append(b.sensors, list...)
	}
}

// WithRate starts a producer after Initialize that emits one sample per
// active sensor every period.
func WithRate(period time.Duration) Option {
	return func(b *Backend) {
		b.rate = period
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFailure makes op fail with err until cleared.
func WithFailure(op string, err error) Option {
	return func(b *Backend) {
		b.failures[op] = err
	}
}

// New creates a backend.
func New(name string, opts ...Option) *Backend {
	b := &Backend{
		name:        name,
		logger:      slog.Default(),
		active:      make(map[int32]bool),
		periods:     make(map[int32]int64),
		channels:    make(map[int32]sensors.SharedMemInfo),
		failures:    make(map[string]error),
		nextChannel: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "fake-backend", "backend", name)
	return b
}

// FromConfig creates a backend from its configuration entry.
func FromConfig(cfg config.BackendConfig, logger *slog.Logger) (*Backend, error) {
	if cfg.Kind != config.BackendFake {
		return nil, errors.WrapInvalid(errors.ErrUnknownBackend, "fake", "FromConfig",
			fmt.Sprintf("create backend %q of kind %q", cfg.Name, cfg.Kind))
	}

	list := make([]sensors.Descriptor, 0, len(cfg.Sensors))
	for _, sc := range cfg.Sensors {
		d, err := sc.Descriptor()
		if err != nil {
			return nil, errors.WrapInvalid(err, "fake", "FromConfig",
				fmt.Sprintf("convert sensor %q of backend %q", sc.Name, cfg.Name))
		}
		list = append(list, d)
	}

	return New(cfg.Name, WithSensors(list...), WithRate(cfg.Rate), WithLogger(logger)), nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return b.name }

// Initialize stores the callback, disables every sensor and returns to
// normal mode.
func (b *Backend) Initialize(_ context.Context, cb subhal.Callback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, Call{Op: OpInitialize})
	if err := b.failures[OpInitialize]; err != nil {
		return err
	}

	b.cb = cb
	b.mode = sensors.ModeNormal
	clear(b.active)

	if b.rate > 0 && b.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.wg.Add(1)
		go b.produce(ctx)
	}
	return nil
}

// SensorsList returns a copy of the static sensor list.
func (b *Backend) SensorsList() []sensors.Descriptor {
	return append([]sensors.Descriptor(nil), b.sensors...)
}

func (b *Backend) sensor(handle int32) (sensors.Descriptor, bool) {
	for _, d := range b.sensors {
		if d.Handle == handle {
			return d, true
		}
	}
	return sensors.Descriptor{}, false
}

// checkLocked records the call and applies failure injection and handle
// validation.
func (b *Backend) checkLocked(call Call, needSensor bool) error {
	b.calls = append(b.calls, call)
	if err := b.failures[call.Op]; err != nil {
		return err
	}
	if needSensor {
		if _, ok := b.sensor(call.Handle); !ok {
			return errors.WrapInvalid(errors.ErrBadValue, "fake", call.Op,
				fmt.Sprintf("look up sensor %d", call.Handle))
		}
	}
	return nil
}

// Activate enables or disables a sensor.
func (b *Backend) Activate(handle int32, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked(Call{Op: OpActivate, Handle: handle, Enabled: enabled}, true); err != nil {
		return err
	}
	if enabled {
		b.active[handle] = true
	} else {
		delete(b.active, handle)
	}
	return nil
}

// Batch stores the sampling period of a sensor.
func (b *Backend) Batch(handle int32, samplingPeriodNs, _ int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked(Call{Op: OpBatch, Handle: handle}, true); err != nil {
		return err
	}
	b.periods[handle] = samplingPeriodNs
	return nil
}

// Flush answers with a flush complete meta event. Inactive sensors cannot be
// flushed.
func (b *Backend) Flush(handle int32) error {
	b.mu.Lock()
	if err := b.checkLocked(Call{Op: OpFlush, Handle: handle}, true); err != nil {
		b.mu.Unlock()
		return err
	}
	if !b.active[handle] {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrBadValue, "fake", OpFlush,
			fmt.Sprintf("flush inactive sensor %d", handle))
	}
	cb := b.cb
	b.mu.Unlock()

	if cb != nil {
		cb.PostEvents([]sensors.Event{{
			SensorHandle: handle,
			SensorType:   sensors.TypeMetaData,
			Timestamp:    time.Now().UnixNano(),
		}}, false)
	}
	return nil
}

// InjectSensorData accepts additional info in any mode. Other events need
// data injection mode and are echoed back through the callback.
func (b *Backend) InjectSensorData(event sensors.Event) error {
	b.mu.Lock()
	if err := b.checkLocked(Call{Op: OpInject, Handle: event.SensorHandle}, false); err != nil {
		b.mu.Unlock()
		return err
	}
	b.injected = append(b.injected, event)

	if event.SensorType == sensors.TypeAdditionalInfo {
		b.mu.Unlock()
		return nil
	}
	if b.mode != sensors.ModeDataInjection {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidOperation, "fake", OpInject,
			"inject outside data injection mode")
	}
	d, ok := b.sensor(event.SensorHandle)
	if !ok || d.Flags&sensors.FlagDataInjection == 0 {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrBadValue, "fake", OpInject,
			fmt.Sprintf("inject into sensor %d", event.SensorHandle))
	}
	cb := b.cb
	b.mu.Unlock()

	if cb != nil {
		cb.PostEvents([]sensors.Event{event}, d.IsWakeUp())
	}
	return nil
}

// SetOperationMode switches the mode.
func (b *Backend) SetOperationMode(mode sensors.OperationMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked(Call{Op: OpSetOperationMode, Mode: mode}, false); err != nil {
		return err
	}
	b.mode = mode
	return nil
}

func (b *Backend) supportsChannel(t sensors.SharedMemType) bool {
	for _, d := range b.sensors {
		if d.Flags.SupportsChannel(t) {
			return true
		}
	}
	return false
}

// RegisterDirectChannel allocates a channel handle for a supported memory
// type.
func (b *Backend) RegisterDirectChannel(mem sensors.SharedMemInfo) (int32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked(Call{Op: OpRegisterDirectChannel}, false); err != nil {
		return -1, err
	}
	if !b.supportsChannel(mem.Type) {
		return -1, errors.WrapInvalid(errors.ErrInvalidOperation, "fake", OpRegisterDirectChannel,
			fmt.Sprintf("register %s channel", mem.Type))
	}
	if mem.Format != sensors.SharedMemFormatEvent || mem.Size == 0 {
		return -1, errors.WrapInvalid(errors.ErrBadValue, "fake", OpRegisterDirectChannel,
			"validate shared memory")
	}

	channel := b.nextChannel
	b.nextChannel++
	b.channels[channel] = mem
	return channel, nil
}

// UnregisterDirectChannel releases a channel handle.
func (b *Backend) UnregisterDirectChannel(channelHandle int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked(Call{Op: OpUnregisterDirectChannel, Handle: channelHandle}, false); err != nil {
		return err
	}
	if _, ok := b.channels[channelHandle]; !ok {
		return errors.WrapInvalid(errors.ErrBadValue, "fake", OpUnregisterDirectChannel,
			fmt.Sprintf("look up channel %d", channelHandle))
	}
	delete(b.channels, channelHandle)
	return nil
}

// ConfigDirectReport returns the sensor handle as report token, or 0 when
// reporting stops. Handle -1 only accepts RateStop.
func (b *Backend) ConfigDirectReport(handle, channelHandle int32, rate sensors.RateLevel) (int32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked(Call{Op: OpConfigDirectReport, Handle: handle}, false); err != nil {
		return -1, err
	}
	mem, ok := b.channels[channelHandle]
	if !ok {
		return -1, errors.WrapInvalid(errors.ErrBadValue, "fake", OpConfigDirectReport,
			fmt.Sprintf("look up channel %d", channelHandle))
	}

	if handle == -1 {
		if rate != sensors.RateStop {
			return -1, errors.WrapInvalid(errors.ErrBadValue, "fake", OpConfigDirectReport,
				"configure every sensor at a non-stop rate")
		}
		return 0, nil
	}

	d, ok := b.sensor(handle)
	if !ok || !d.Flags.SupportsChannel(mem.Type) || rate > d.Flags.DirectReportRate() {
		return -1, errors.WrapInvalid(errors.ErrBadValue, "fake", OpConfigDirectReport,
			fmt.Sprintf("configure sensor %d at %s", handle, rate))
	}
	if rate == sensors.RateStop {
		return 0, nil
	}
	return handle, nil
}

// Close stops the producer.
func (b *Backend) Close() error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	return nil
}

func (b *Backend) produce(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.emit()
		}
	}
}

func (b *Backend) emit() {
	b.mu.Lock()
	if b.cb == nil || b.mode != sensors.ModeNormal || len(b.active) == 0 {
		b.mu.Unlock()
		return
	}
	cb := b.cb
	handles := make([]int32, 0, len(b.active))
	for h := range b.active {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	now := time.Now().UnixNano()
	events := make([]sensors.Event, 0, len(handles))
	wakeup := false
	for _, h := range handles {
		d, ok := b.sensor(h)
		if !ok {
			continue
		}
		events = append(events, sensors.Event{
			SensorHandle: h,
			SensorType:   d.Type,
			Timestamp:    now,
			Values:       sampleValues(d.Type),
		})
		wakeup = wakeup || d.IsWakeUp()
	}
	cb.PostEvents(events, wakeup)
}

func sampleValues(t sensors.SensorType) []float32 {
	switch t {
	case sensors.TypeAccelerometer, sensors.TypeGravity:
		return []float32{0, 0, 9.80665}
	case sensors.TypeGyroscope, sensors.TypeMagneticField, sensors.TypeLinearAcceleration:
		return []float32{0, 0, 0}
	case sensors.TypeStepCounter:
		return []float32{0}
	default:
		return []float32{1}
	}
}

// Fail makes op fail with err. A nil err clears the failure.
func (b *Backend) Fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// PostEvents delivers events through the callback as if the backend produced
// them. It reports false before Initialize.
func (b *Backend) PostEvents(events []sensors.Event, wakeup bool) bool {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()

	if cb == nil {
		return false
	}
	cb.PostEvents(events, wakeup)
	return true
}

// ConnectDynamic reports dynamic sensors with local handles.
func (b *Backend) ConnectDynamic(list ...sensors.Descriptor) bool {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()

	if cb == nil {
		return false
	}
	cb.OnDynamicSensorsConnected(list)
	return true
}

// DisconnectDynamic reports dynamic sensors as gone.
func (b *Backend) DisconnectDynamic(handles ...int32) bool {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()

	if cb == nil {
		return false
	}
	cb.OnDynamicSensorsDisconnected(handles)
	return true
}

// Calls returns a copy of the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallCount counts recorded calls of one operation.
func (b *Backend) CallCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Mode returns the current operation mode.
func (b *Backend) Mode() sensors.OperationMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Active reports whether a sensor is enabled.
func (b *Backend) Active(handle int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[handle]
}

// SamplingPeriod returns the last batch period of a sensor.
func (b *Backend) SamplingPeriod(handle int32) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.periods[handle]
	return p, ok
}

// Injected returns a copy of every injected event.
func (b *Backend) Injected() []sensors.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sensors.Event(nil), b.injected...)
}
