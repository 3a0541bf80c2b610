// Package main implements the sensorhub binary: a proxy that merges the
// sensors of several backends into one list and serves them to a client over
// HTTP and websocket.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sensorhub/backend/fake"
	"github.com/c360/sensorhub/config"
	"github.com/c360/sensorhub/gateway"
	"github.com/c360/sensorhub/metric"
	"github.com/c360/sensorhub/natsclient"
	"github.com/c360/sensorhub/pkg/retry"
	"github.com/c360/sensorhub/proxy"
	"github.com/c360/sensorhub/wakelock"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sensorhub"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.ShutdownTimeout > 0 {
		cfg.Proxy.ShutdownTimeout = cliCfg.ShutdownTimeout
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "backends", len(cfg.Backends))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting sensorhub",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads the file at path over the defaults, or the defaults alone
// when path is empty. Environment overrides apply in both cases.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

// serve wires the proxy, its backends and every server, then runs until ctx
// is cancelled or a server fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metricsRegistry := metric.NewMetricsRegistry()

	p, err := buildProxy(cfg, logger, metricsRegistry)
	if err != nil {
		return err
	}
	if err := registerBackends(p, cfg.Backends, logger); err != nil {
		return err
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(metricsRegistry.CoreMetrics()),
	}
	natsClient := connectMirror(ctx, cfg.NATS, logger)
	if natsClient != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Proxy.ShutdownTimeout)
			defer cancel()
			if err := natsClient.Close(closeCtx); err != nil {
				logger.Warn("NATS close failed", "error", err)
			}
		}()
		publisher := natsclient.NewEventPublisher(natsClient, cfg.NATS.SubjectPrefix, logger)
		gwOpts = append(gwOpts, gateway.WithSink(publisher))
	}

	gw := gateway.New(p, p.EventQueue(), cfg.Gateway, gwOpts...)

	if err := p.Initialize(ctx, gw); err != nil {
		logger.Error("Proxy initialization incomplete", "error", err)
		_ = p.Stop(cfg.Proxy.ShutdownTimeout)
		return fmt.Errorf("initialize proxy: %w", err)
	}
	logger.Info("Proxy initialized",
		"sensors", len(p.SensorsList()),
		"backends", len(cfg.Backends))

	eg, egCtx := errgroup.WithContext(ctx)

	if cfg.Gateway.Enabled {
		eg.Go(func() error { return gw.Run(egCtx) })
	} else {
		// Without the gateway the queue still needs its reader.
		eg.Go(func() error { return gw.Dispatcher().Run(egCtx) })
	}

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		eg.Go(server.Start)
		eg.Go(func() error {
			<-egCtx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Proxy.ShutdownTimeout)
			defer cancel()
			return server.Stop(stopCtx)
		})
		logger.Info("Metrics server enabled", "address", server.Address())
	}

	runErr := eg.Wait()
	logger.Info("Shutting down")

	if err := p.Stop(cfg.Proxy.ShutdownTimeout); err != nil {
		logger.Warn("Proxy stop incomplete", "error", err)
	}
	if runErr != nil {
		return fmt.Errorf("serve: %w", runErr)
	}
	logger.Info("Sensorhub shutdown complete")
	return nil
}

func buildProxy(cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*proxy.Proxy, error) {
	var lock wakelock.Lock = wakelock.NopLock{}
	if cfg.Proxy.WakelockBackend == config.WakelockSysfs {
		lock = wakelock.NewSysfsLock(cfg.Proxy.WakelockDir)
	}

	p, err := proxy.New(
		proxy.WithLogger(logger),
		proxy.WithMetricsRegistry(registry),
		proxy.WithQueueCapacity(cfg.Proxy.EventQueueCapacity),
		proxy.WithWriteTimeout(cfg.Proxy.WriteTimeout),
		proxy.WithWakelock(cfg.Proxy.WakelockName, lock))
	if err != nil {
		return nil, fmt.Errorf("create proxy: %w", err)
	}
	return p, nil
}

func registerBackends(p *proxy.Proxy, backends []config.BackendConfig, logger *slog.Logger) error {
	for _, bc := range backends {
		backend, err := fake.FromConfig(bc, logger)
		if err != nil {
			return fmt.Errorf("create backend %s: %w", bc.Name, err)
		}
		index, err := p.Register(backend)
		if err != nil {
			return fmt.Errorf("register backend %s: %w", bc.Name, err)
		}
		logger.Info("Registered backend",
			"backend", bc.Name,
			"kind", bc.Kind,
			"index", index,
			"sensors", len(bc.Sensors))
	}
	return nil
}

// connectMirror connects the optional NATS event mirror, retrying briefly. A
// broker that cannot be reached disables the mirror instead of failing
// startup.
func connectMirror(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) *natsclient.Client {
	if !cfg.Enabled {
		return nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.ClientName),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		logger.Warn("NATS mirror disabled", "error", err)
		return nil
	}

	err = retry.Do(ctx, retry.Startup(), func(ctx context.Context, attempt int) error {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := client.Connect(connCtx)
		if stderrors.Is(err, natsclient.ErrCircuitOpen) {
			return retry.Stop(err)
		}
		if err != nil {
			logger.Debug("NATS connect attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		logger.Warn("NATS mirror disabled", "url", cfg.URL, "error", err)
		_ = client.Close(context.Background())
		return nil
	}

	logger.Info("NATS mirror connected",
		"url", cfg.URL,
		"subject_prefix", cfg.SubjectPrefix)
	return client
}
