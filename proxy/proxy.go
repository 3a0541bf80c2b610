// Package proxy multiplexes several sensor backends behind one client facing
// surface. Each backend keeps its own handle space; the proxy publishes merged
// handles whose high byte names the backend, routes every handle-addressed
// call to its backend, sends direct channel calls to the single backend that
// owns direct report, and funnels every backend's events through one delivery
// pipeline onto the outbound queue.
package proxy

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/health"
	"github.com/c360/sensorhub/metric"
	"github.com/c360/sensorhub/pipeline"
	"github.com/c360/sensorhub/pkg/buffer"
	"github.com/c360/sensorhub/sensors"
	"github.com/c360/sensorhub/subhal"
	"github.com/c360/sensorhub/wakelock"
)

// Defaults used when no option overrides them.
const (
	DefaultQueueCapacity = 256
	DefaultWakelockName  = "SensorsHAL_WAKEUP"
)

// ClientCallback receives dynamic sensor changes with merged handles.
type ClientCallback interface {
	OnDynamicSensorsConnected(list []sensors.Descriptor)
	OnDynamicSensorsDisconnected(handles []int32)
}

// Proxy is the multiplexing sensor proxy.
type Proxy struct {
	registry *Registry
	queue    buffer.Queue[sensors.Event]
	pipeline *pipeline.Pipeline
	wakelock *wakelock.Coordinator
	monitor  *health.Monitor
	logger   *slog.Logger
	metrics  *metric.Metrics

	metricsRegistry *metric.MetricsRegistry
	queueCapacity   int
	writeTimeout    time.Duration
	wakelockName    string
	lock            wakelock.Lock

	mu          sync.RWMutex
	client      ClientCallback
	initialized bool
	stopped     bool
	mode        sensors.OperationMode
	cancel      context.CancelFunc
	startedAt   time.Time
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetricsRegistry enables core and queue metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(p *Proxy) {
		p.metricsRegistry = registry
	}
}

// WithQueueCapacity sets the outbound queue capacity in events.
func WithQueueCapacity(capacity int) Option {
	return func(p *Proxy) {
		if capacity > 0 {
			p.queueCapacity = capacity
		}
	}
}

// WithWriteTimeout bounds each blocking write of the pipeline writer.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithWakelock sets the wake lock name and implementation.
func WithWakelock(name string, lock wakelock.Lock) Option {
	return func(p *Proxy) {
		if name != "" {
			p.wakelockName = name
		}
		p.lock = lock
	}
}

// New creates a proxy with no backends.
func New(opts ...Option) (*Proxy, error) {
	p := &Proxy{
		registry:      NewRegistry(),
		monitor:       health.NewMonitor(),
		logger:        slog.Default(),
		queueCapacity: DefaultQueueCapacity,
		writeTimeout:  pipeline.DefaultWriteTimeout,
		wakelockName:  DefaultWakelockName,
		mode:          sensors.ModeNormal,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "proxy")

	var queueOpts []buffer.Option
	if p.metricsRegistry != nil {
		p.metrics = p.metricsRegistry.CoreMetrics()
		queueOpts = append(queueOpts, buffer.WithMetrics(p.metricsRegistry, "events"))
	}

	queue, err := buffer.NewQueue[sensors.Event](p.queueCapacity, queueOpts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Proxy", "New", "create event queue")
	}
	p.queue = queue

	p.wakelock = wakelock.NewCoordinator(p.wakelockName, p.lock,
		wakelock.WithLogger(p.logger),
		wakelock.WithMetrics(p.metrics))

	p.pipeline = pipeline.New(queue,
		pipeline.WithLogger(p.logger),
		pipeline.WithMetrics(p.metrics),
		pipeline.WithWriteTimeout(p.writeTimeout))

	return p, nil
}

// Register adds a backend. Backends must be registered before the first
// Initialize; their order decides direct channel ownership.
func (p *Proxy) Register(adapter subhal.Adapter) (int, error) {
	rec, err := p.registry.Register(adapter)
	if err != nil {
		return -1, err
	}
	p.monitor.UpdateDegraded(backendComponent(rec), "registered, not initialized")
	p.logger.Debug("Backend registered", "backend", rec.Name, "index", rec.Index)
	return rec.Index, nil
}

// Initialize binds the client and initialises every backend. The first call
// builds the merged sensor list and starts the pipeline. A later call
// disables every sensor and discards undelivered events before
// re-initialising the backends. The first backend failure is returned after
// every backend has been tried.
func (p *Proxy) Initialize(ctx context.Context, client ClientCallback) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Proxy", "Initialize", "initialize backends")
	}
	reinit := p.initialized
	if !reinit {
		if err := p.registry.Build(); err != nil {
			p.mu.Unlock()
			return err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		if err := p.pipeline.Start(runCtx); err != nil {
			cancel()
			p.mu.Unlock()
			return err
		}
		p.cancel = cancel
		p.startedAt = time.Now()
	}
	p.client = client
	p.initialized = true
	p.mode = sensors.ModeNormal
	p.mu.Unlock()

	if reinit {
		p.disableAllSensors()
		p.pipeline.Reset()
		if n := p.registry.Dynamic().Clear(); n > 0 {
			p.recordDynamic()
			p.logger.Debug("Cleared dynamic sensors on re-initialization", "count", n)
		}
	}

	var first error
	for _, rec := range p.registry.Backends() {
		cb := &backendCallback{proxy: p, backend: rec}
		err := p.record(rec, "initialize", rec.Adapter.Initialize(ctx, cb))
		if err != nil {
			p.monitor.Update(backendComponent(rec), health.FromError(rec.Name, err))
			p.logger.Error("Backend initialization failed", "backend", rec.Name, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		p.monitor.UpdateHealthy(backendComponent(rec), fmt.Sprintf("%d sensors", len(rec.Sensors)))
	}

	owner := "none"
	if rec, ok := p.registry.DirectChannelOwner(); ok {
		owner = rec.Name
	}
	p.logger.Info("Proxy initialized",
		"backends", len(p.registry.Backends()),
		"sensors", len(p.registry.SensorsList()),
		"direct_channel_owner", owner,
		"reinitialized", reinit)

	return first
}

func (p *Proxy) disableAllSensors() {
	all := append(p.registry.SensorsList(), p.registry.Dynamic().List()...)
	for _, d := range all {
		rec, local, err := p.registry.Resolve(d.Handle)
		if err != nil {
			continue
		}
		if err := rec.Adapter.Activate(local, false); err != nil {
			p.logger.Debug("Failed to disable sensor", "backend", rec.Name, "handle", d.Handle, "error", err)
		}
	}
}

func (p *Proxy) clientCallback() ClientCallback {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

func (p *Proxy) requireInitialized(method string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Proxy", method, "check proxy state")
	}
	return nil
}

// record counts a backend call and returns err unchanged.
func (p *Proxy) record(rec *BackendRecord, op string, err error) error {
	if p.metrics != nil {
		p.metrics.RecordBackendCall(rec.Name, op, errors.ResultOf(err).String())
	}
	if err != nil {
		p.logger.Debug("Backend call failed", "backend", rec.Name, "op", op, "error", err)
	}
	return err
}

func backendComponent(rec *BackendRecord) string {
	return "backend/" + rec.Name
}

// SensorsList returns the merged static sensor list in backend registration
// order. Dynamic sensors are reported through the client callback.
func (p *Proxy) SensorsList() []sensors.Descriptor {
	return p.registry.SensorsList()
}

// Sensor looks up a static or dynamic sensor by merged handle.
func (p *Proxy) Sensor(handle int32) (sensors.Descriptor, bool) {
	return p.registry.Sensor(handle)
}

// DynamicSensors returns the connected dynamic sensors.
func (p *Proxy) DynamicSensors() []sensors.Descriptor {
	return p.registry.Dynamic().List()
}

// Activate enables or disables a sensor.
func (p *Proxy) Activate(handle int32, enabled bool) error {
	rec, local, err := p.registry.Resolve(handle)
	if err != nil {
		return err
	}
	return p.record(rec, "activate", rec.Adapter.Activate(local, enabled))
}

// Batch sets the sampling period and maximum report latency of a sensor.
func (p *Proxy) Batch(handle int32, samplingPeriodNs, maxReportLatencyNs int64) error {
	if samplingPeriodNs < 0 || maxReportLatencyNs < 0 {
		return errors.WrapInvalid(errors.ErrBadValue, "Proxy", "Batch", "validate batch parameters")
	}
	rec, local, err := p.registry.Resolve(handle)
	if err != nil {
		return err
	}
	return p.record(rec, "batch", rec.Adapter.Batch(local, samplingPeriodNs, maxReportLatencyNs))
}

// Flush asks a sensor to flush its FIFO.
func (p *Proxy) Flush(handle int32) error {
	rec, local, err := p.registry.Resolve(handle)
	if err != nil {
		return err
	}
	return p.record(rec, "flush", rec.Adapter.Flush(local))
}

// InjectSensorData injects an event. Additional info events are delivered to
// every backend unchanged and may be injected in any mode. Other events
// require data injection mode and are routed by handle.
func (p *Proxy) InjectSensorData(event sensors.Event) error {
	if err := p.requireInitialized("InjectSensorData"); err != nil {
		return err
	}

	if event.SensorType == sensors.TypeAdditionalInfo {
		for _, rec := range p.registry.Backends() {
			if err := p.record(rec, "inject", rec.Adapter.InjectSensorData(event)); err != nil {
				return err
			}
		}
		return nil
	}

	if p.OperationMode() != sensors.ModeDataInjection {
		return errors.WrapInvalid(errors.ErrBadValue, "Proxy", "InjectSensorData",
			fmt.Sprintf("inject %s event in %s mode", event.SensorType, p.OperationMode()))
	}

	rec, local, err := p.registry.Resolve(event.SensorHandle)
	if err != nil {
		return err
	}
	event.SensorHandle = local
	return p.record(rec, "inject", rec.Adapter.InjectSensorData(event))
}

func (p *Proxy) directChannelOwner(method string) (*BackendRecord, error) {
	owner, ok := p.registry.DirectChannelOwner()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidOperation, "Proxy", method,
			"route to direct channel owner")
	}
	return owner, nil
}

// RegisterDirectChannel forwards a channel registration to the direct channel
// owner. The returned channel handle belongs to the owner and is not merged.
func (p *Proxy) RegisterDirectChannel(mem sensors.SharedMemInfo) (int32, error) {
	owner, err := p.directChannelOwner("RegisterDirectChannel")
	if err != nil {
		return -1, err
	}
	channel, err := owner.Adapter.RegisterDirectChannel(mem)
	if err = p.record(owner, "register_direct_channel", err); err != nil {
		return -1, err
	}
	return channel, nil
}

// UnregisterDirectChannel forwards to the direct channel owner.
func (p *Proxy) UnregisterDirectChannel(channelHandle int32) error {
	owner, err := p.directChannelOwner("UnregisterDirectChannel")
	if err != nil {
		return err
	}
	return p.record(owner, "unregister_direct_channel", owner.Adapter.UnregisterDirectChannel(channelHandle))
}

// ConfigDirectReport configures direct report of a sensor on a channel. The
// sensor must belong to the direct channel owner; AllSensors is forwarded
// as is.
func (p *Proxy) ConfigDirectReport(handle, channelHandle int32, rate sensors.RateLevel) (int32, error) {
	owner, err := p.directChannelOwner("ConfigDirectReport")
	if err != nil {
		return -1, err
	}

	local := handle
	if handle != AllSensors {
		if BackendIndex(handle) != owner.Index {
			return -1, errors.WrapInvalid(errors.ErrBadValue, "Proxy", "ConfigDirectReport",
				fmt.Sprintf("route handle %#x to direct channel owner %q", handle, owner.Name))
		}
		local = LocalHandle(handle)
	}

	token, err := owner.Adapter.ConfigDirectReport(local, channelHandle, rate)
	if err = p.record(owner, "config_direct_report", err); err != nil {
		return -1, err
	}
	return token, nil
}

// AcknowledgeWakeupEvents records that the client consumed n wake-up events.
// Wake lock references are released when delivery finishes, so the
// acknowledgement does not change the refcount.
func (p *Proxy) AcknowledgeWakeupEvents(n int) error {
	if n < 0 {
		return errors.WrapInvalid(errors.ErrBadValue, "Proxy", "AcknowledgeWakeupEvents",
			fmt.Sprintf("acknowledge %d events", n))
	}
	if p.metrics != nil {
		p.metrics.WakeupAcks.Add(float64(n))
	}
	p.logger.Debug("Wake-up events acknowledged", "count", n, "wakelock_refcount", p.wakelock.RefCount())
	return nil
}

// EventQueue returns the outbound queue. The client is its only reader.
func (p *Proxy) EventQueue() buffer.Queue[sensors.Event] {
	return p.queue
}

// Wakelock returns the wake lock coordinator.
func (p *Proxy) Wakelock() *wakelock.Coordinator {
	return p.wakelock
}

// PipelineStats returns the delivery pipeline counters.
func (p *Proxy) PipelineStats() pipeline.Stats {
	return p.pipeline.Stats()
}

// Health aggregates backend and pipeline health.
func (p *Proxy) Health() health.Status {
	p.monitor.Update("pipeline", p.pipeline.Health())

	p.mu.RLock()
	startedAt := p.startedAt
	p.mu.RUnlock()

	status := p.monitor.AggregateHealth("sensorhub")
	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}
	stats := p.pipeline.Stats()
	return status.WithMetrics(&health.Metrics{
		Uptime:          uptime,
		EventsProcessed: stats.Immediate + stats.WrittenByWriter,
		ErrorCount:      int(stats.Dropped),
		Pending:         stats.PendingEvents,
	})
}

// Stop stops the pipeline, closes backends that own resources and closes the
// outbound queue. Undelivered events are dropped.
func (p *Proxy) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	var errs []error
	if err := p.pipeline.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}

	for _, rec := range p.registry.Backends() {
		closer, ok := rec.Adapter.(subhal.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			p.logger.Warn("Failed to close backend", "backend", rec.Name, "error", err)
			errs = append(errs, errors.Wrap(err, "Proxy", "Stop", "close backend "+rec.Name))
		}
	}

	if err := p.queue.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "Proxy", "Stop", "close event queue"))
	}

	p.logger.Info("Proxy stopped", "dropped_total", p.pipeline.Stats().Dropped)
	return stderrors.Join(errs...)
}
