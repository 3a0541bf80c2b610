package gateway

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sensorhub/config"
	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/health"
	"github.com/c360/sensorhub/metric"
	"github.com/c360/sensorhub/pkg/buffer"
	"github.com/c360/sensorhub/sensors"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxRequestSize    = 1 << 20
)

// SensorProxy is the part of the proxy the gateway drives.
type SensorProxy interface {
	SensorsList() []sensors.Descriptor
	DynamicSensors() []sensors.Descriptor
	Activate(handle int32, enabled bool) error
	Batch(handle int32, samplingPeriodNs, maxReportLatencyNs int64) error
	Flush(handle int32) error
	InjectSensorData(event sensors.Event) error
	SetOperationMode(mode sensors.OperationMode) error
	OperationMode() sensors.OperationMode
	AcknowledgeWakeupEvents(n int) error
	Dump(w io.Writer) error
	Health() health.Status
}

// Gateway serves the control API and event stream for one proxy.
type Gateway struct {
	proxy      SensorProxy
	cfg        config.GatewayConfig
	hub        *Hub
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metric.Metrics

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics reports the number of stream clients.
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithSink adds an EventSink after the websocket hub.
func WithSink(sink EventSink) Option {
	return func(g *Gateway) {
		if sink != nil {
			g.dispatcher.AddSink(sink)
		}
	}
}

// New creates a gateway reading events from queue.
func New(p SensorProxy, queue buffer.Queue[sensors.Event], cfg config.GatewayConfig, opts ...Option) *Gateway {
	g := &Gateway{
		proxy:  p,
		cfg:    cfg,
		logger: slog.Default(),
	}
	g.dispatcher = NewDispatcher(queue, cfg.BatchSize, nil)
	for _, opt := range opts {
		opt(g)
	}

	g.logger = g.logger.With("component", "gateway")
	g.hub = NewHub(p, g.logger, g.metrics)
	g.dispatcher.logger = g.logger.With("component", "dispatcher")
	g.dispatcher.sinks = append([]EventSink{g.hub}, g.dispatcher.sinks...)
	return g
}

// Hub returns the websocket hub.
func (g *Gateway) Hub() *Hub { return g.hub }

// Dispatcher returns the queue dispatcher.
func (g *Gateway) Dispatcher() *Dispatcher { return g.dispatcher }

// OnDynamicSensorsConnected forwards the notification to stream clients.
func (g *Gateway) OnDynamicSensorsConnected(list []sensors.Descriptor) {
	g.hub.OnDynamicSensorsConnected(list)
}

// OnDynamicSensorsDisconnected forwards the notification to stream clients.
func (g *Gateway) OnDynamicSensorsDisconnected(handles []int32) {
	g.hub.OnDynamicSensorsDisconnected(handles)
}

// Handler returns the HTTP handler with every route registered.
func (g *Gateway) Handler() http.Handler {
	streamPath := g.cfg.StreamPath
	if streamPath == "" {
		streamPath = "/events"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sensors", g.instrument(g.handleSensors))
	mux.HandleFunc("POST /sensors/{handle}/activate", g.instrument(g.handleActivate))
	mux.HandleFunc("POST /sensors/{handle}/batch", g.instrument(g.handleBatch))
	mux.HandleFunc("POST /sensors/{handle}/flush", g.instrument(g.handleFlush))
	mux.HandleFunc("POST /inject", g.instrument(g.handleInject))
	mux.HandleFunc("GET /mode", g.instrument(g.handleGetMode))
	mux.HandleFunc("POST /mode", g.instrument(g.handleSetMode))
	mux.HandleFunc("GET /debug/dump", g.instrument(g.handleDump))
	mux.HandleFunc("GET /health", g.instrument(g.handleHealth))
	mux.Handle("GET "+streamPath, g.hub)
	return mux
}

// Run listens on the configured address and serves until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Run", "listen on "+g.cfg.ListenAddr)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln together with the dispatcher and the
// stream keepalive. It returns after all three have stopped.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("Gateway listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.WrapFatal(err, "Gateway", "Serve", "serve http")
		}
		return nil
	})

	eg.Go(func() error {
		return g.dispatcher.Run(egCtx)
	})

	eg.Go(func() error {
		g.hub.KeepAlive(egCtx)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		g.hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.WrapTransient(err, "Gateway", "Serve", "shutdown http")
		}
		g.logger.Info("Gateway stopped",
			"requests", g.requestsTotal.Load(),
			"failed", g.requestsFailed.Load())
		return nil
	})

	return eg.Wait()
}

// RequestStats returns the total and failed request counts.
func (g *Gateway) RequestStats() (total, failed uint64) {
	return g.requestsTotal.Load(), g.requestsFailed.Load()
}
