package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/sensors"
)

// Wake lock backends
const (
	WakelockSysfs = "sysfs"
	WakelockNone  = "none"
)

// Backend kinds
const (
	BackendFake = "fake"
)

// Config represents the complete application configuration
type Config struct {
	Proxy    ProxyConfig     `json:"proxy" yaml:"proxy"`
	Gateway  GatewayConfig   `json:"gateway" yaml:"gateway"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`
	NATS     NATSConfig      `json:"nats" yaml:"nats"`
	Backends []BackendConfig `json:"backends" yaml:"backends"`
}

// ProxyConfig configures the event pipeline and wake lock
type ProxyConfig struct {
	EventQueueCapacity int           `json:"event_queue_capacity" yaml:"event_queue_capacity"`
	WriteTimeout       time.Duration `json:"write_timeout" yaml:"write_timeout"`
	WakelockName       string        `json:"wakelock_name" yaml:"wakelock_name"`
	WakelockBackend    string        `json:"wakelock_backend" yaml:"wakelock_backend"`
	WakelockDir        string        `json:"wakelock_dir,omitempty" yaml:"wakelock_dir,omitempty"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GatewayConfig configures the client-facing HTTP and websocket surface
type GatewayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	StreamPath string `json:"stream_path" yaml:"stream_path"`
	BatchSize  int    `json:"batch_size" yaml:"batch_size"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// NATSConfig configures the optional event mirror
type NATSConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	URL           string        `json:"url" yaml:"url"`
	SubjectPrefix string        `json:"subject_prefix" yaml:"subject_prefix"`
	ClientName    string        `json:"client_name" yaml:"client_name"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
}

// BackendConfig declares one backend. Backends are registered in list order.
type BackendConfig struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
	// Rate is the period between generated samples of each active sensor.
	// Zero disables the producer.
	Rate    time.Duration  `json:"rate" yaml:"rate"`
	Sensors []SensorConfig `json:"sensors" yaml:"sensors"`
}

// SensorConfig declares one sensor of a fake backend
type SensorConfig struct {
	Handle        int32    `json:"handle" yaml:"handle"`
	Name          string   `json:"name" yaml:"name"`
	Type          string   `json:"type" yaml:"type"`
	Vendor        string   `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	ReportingMode string   `json:"reporting_mode,omitempty" yaml:"reporting_mode,omitempty"`
	WakeUp        bool     `json:"wake_up,omitempty" yaml:"wake_up,omitempty"`
	DataInjection bool     `json:"data_injection,omitempty" yaml:"data_injection,omitempty"`
	DirectChannel []string `json:"direct_channel,omitempty" yaml:"direct_channel,omitempty"`
	DirectRate    string   `json:"direct_rate,omitempty" yaml:"direct_rate,omitempty"`
	MaxRange      float32  `json:"max_range,omitempty" yaml:"max_range,omitempty"`
	Resolution    float32  `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Power         float32  `json:"power,omitempty" yaml:"power,omitempty"`
	MinDelayUs    int32    `json:"min_delay_us,omitempty" yaml:"min_delay_us,omitempty"`
	MaxDelayUs    int32    `json:"max_delay_us,omitempty" yaml:"max_delay_us,omitempty"`
}

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			EventQueueCapacity: 256,
			WriteTimeout:       5 * time.Second,
			WakelockName:       "SensorsHAL_WAKEUP",
			WakelockBackend:    WakelockNone,
			ShutdownTimeout:    5 * time.Second,
		},
		Gateway: GatewayConfig{
			Enabled:    true,
			ListenAddr: ":8080",
			StreamPath: "/events",
			BatchSize:  64,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "sensors.events",
			ClientName:    "sensorhub",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if err := c.Proxy.validate(); err != nil {
		return err
	}

	if c.Gateway.Enabled {
		if c.Gateway.ListenAddr == "" {
			return invalid("gateway.listen_addr is required when the gateway is enabled")
		}
		if !strings.HasPrefix(c.Gateway.StreamPath, "/") {
			return invalid(fmt.Sprintf("gateway.stream_path %q must start with /", c.Gateway.StreamPath))
		}
		if c.Gateway.BatchSize <= 0 {
			return invalid("gateway.batch_size must be positive")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return invalid("nats.url is required when nats is enabled")
		}
		if !isValidSubject(c.NATS.SubjectPrefix) {
			return invalid(fmt.Sprintf("nats.subject_prefix %q is not a valid NATS subject", c.NATS.SubjectPrefix))
		}
	}

	if len(c.Backends) > 255 {
		return errors.WrapFatal(errors.ErrTooManyBackends, "Config", "Validate",
			fmt.Sprintf("%d backends configured", len(c.Backends)))
	}
	names := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			return invalid(fmt.Sprintf("backends[%d].name is required", i))
		}
		if names[b.Name] {
			return invalid(fmt.Sprintf("backend name %q is duplicated", b.Name))
		}
		names[b.Name] = true
		if err := b.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (p ProxyConfig) validate() error {
	if p.EventQueueCapacity <= 0 {
		return invalid("proxy.event_queue_capacity must be positive")
	}
	if p.WriteTimeout <= 0 {
		return invalid("proxy.write_timeout must be positive")
	}
	if p.WakelockName == "" {
		return invalid("proxy.wakelock_name is required")
	}
	switch p.WakelockBackend {
	case WakelockSysfs, WakelockNone:
	default:
		return invalid(fmt.Sprintf("proxy.wakelock_backend %q is not one of sysfs, none", p.WakelockBackend))
	}
	return nil
}

func (b BackendConfig) validate() error {
	if b.Kind != BackendFake {
		return errors.WrapInvalid(errors.ErrUnknownBackend, "Config", "Validate",
			fmt.Sprintf("backend %s has kind %q", b.Name, b.Kind))
	}
	if b.Rate < 0 {
		return invalid(fmt.Sprintf("backend %s rate must not be negative", b.Name))
	}
	handles := make(map[int32]bool, len(b.Sensors))
	for _, s := range b.Sensors {
		if handles[s.Handle] {
			return invalid(fmt.Sprintf("backend %s declares handle %d twice", b.Name, s.Handle))
		}
		handles[s.Handle] = true
		if _, err := s.Descriptor(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", fmt.Sprintf("backend %s", b.Name))
		}
	}
	return nil
}

// Descriptor converts the sensor declaration into a backend-local descriptor
func (s SensorConfig) Descriptor() (sensors.Descriptor, error) {
	if s.Handle < 0 || s.Handle > 0x00FFFFFF {
		return sensors.Descriptor{}, fmt.Errorf("sensor %q handle %d does not fit 24 bits", s.Name, s.Handle)
	}
	sensorType, ok := sensors.ParseSensorType(s.Type)
	if !ok {
		return sensors.Descriptor{}, fmt.Errorf("sensor %q has unknown type %q", s.Name, s.Type)
	}

	var flags sensors.Flags
	if s.ReportingMode != "" {
		mode, ok := sensors.ParseReportingMode(s.ReportingMode)
		if !ok {
			return sensors.Descriptor{}, fmt.Errorf("sensor %q has unknown reporting mode %q", s.Name, s.ReportingMode)
		}
		flags = flags.WithReportingMode(mode)
	}
	if s.WakeUp {
		flags |= sensors.FlagWakeUp
	}
	if s.DataInjection {
		flags |= sensors.FlagDataInjection
	}
	for _, ch := range s.DirectChannel {
		memType, ok := sensors.ParseSharedMemType(ch)
		if !ok {
			return sensors.Descriptor{}, fmt.Errorf("sensor %q has unknown direct channel %q", s.Name, ch)
		}
		switch memType {
		case sensors.SharedMemAshmem:
			flags |= sensors.FlagDirectChannelAshmem
		case sensors.SharedMemGralloc:
			flags |= sensors.FlagDirectChannelGralloc
		}
	}
	if s.DirectRate != "" {
		rate, ok := sensors.ParseRateLevel(s.DirectRate)
		if !ok {
			return sensors.Descriptor{}, fmt.Errorf("sensor %q has unknown direct rate %q", s.Name, s.DirectRate)
		}
		flags = flags.WithDirectReportRate(rate)
	}

	vendor := s.Vendor
	if vendor == "" {
		vendor = "sensorhub"
	}

	return sensors.Descriptor{
		Handle:       s.Handle,
		Name:         s.Name,
		Vendor:       vendor,
		Version:      1,
		Type:         sensorType,
		TypeAsString: sensorType.String(),
		MaxRange:     s.MaxRange,
		Resolution:   s.Resolution,
		Power:        s.Power,
		MinDelay:     s.MinDelayUs,
		MaxDelay:     s.MaxDelayUs,
		Flags:        flags,
	}, nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}

// isValidSubject checks that every dot-separated token is non-empty and made
// of letters, digits, dashes or underscores.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Token != "" {
		masked.NATS.Token = "****"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
