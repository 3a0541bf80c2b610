package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/sensorhub/errors"
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "SENSORHUB",
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file on top of the defaults
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges every layer over Default, applies environment overrides and
// validates the result
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged config")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// loadRaw reads a JSON or YAML file into a generic map with durations
// normalised to nanoseconds
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings such as "5s" to nanoseconds so
// they decode into time.Duration fields
func parseDurations(raw map[string]any) error {
	convert := func(section map[string]any, key string) error {
		s, ok := section[key].(string)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		section[key] = d.Nanoseconds()
		return nil
	}

	if proxy, ok := raw["proxy"].(map[string]any); ok {
		if err := convert(proxy, "write_timeout"); err != nil {
			return err
		}
		if err := convert(proxy, "shutdown_timeout"); err != nil {
			return err
		}
	}
	if nats, ok := raw["nats"].(map[string]any); ok {
		if err := convert(nats, "reconnect_wait"); err != nil {
			return err
		}
	}
	if backends, ok := raw["backends"].([]any); ok {
		for _, b := range backends {
			if backend, ok := b.(map[string]any); ok {
				if err := convert(backend, "rate"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies SENSORHUB_* environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(suffix string) (string, bool, error) {
		key := l.envPrefix + "_" + suffix
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read environment")
		}
		return val, true, nil
	}

	if val, ok, err := lookup("QUEUE_CAPACITY"); err != nil {
		return err
	} else if ok {
		n, convErr := strconv.Atoi(val)
		if convErr != nil {
			return errors.WrapInvalid(convErr, "Loader", "applyEnvOverrides", "parse QUEUE_CAPACITY")
		}
		cfg.Proxy.EventQueueCapacity = n
	}
	if val, ok, err := lookup("WAKELOCK_BACKEND"); err != nil {
		return err
	} else if ok {
		cfg.Proxy.WakelockBackend = val
	}
	if val, ok, err := lookup("GATEWAY_ADDR"); err != nil {
		return err
	} else if ok {
		cfg.Gateway.ListenAddr = val
	}
	if val, ok, err := lookup("NATS_URL"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URL = val
		cfg.NATS.Enabled = true
	}
	if val, ok, err := lookup("NATS_TOKEN"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Token = val
	}
	return nil
}

// SaveToFile saves the configuration as JSON or YAML depending on extension
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.WrapFatal(err, "Config", "SaveToFile", "encode config")
	}
	return safeWriteFile(path, data)
}
