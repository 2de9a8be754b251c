// Package daemon manages the freqlockd daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Policy    PolicyConfig    `toml:"policy"`
	Sysfs     SysfsConfig     `toml:"sysfs"`
	Storage   StorageConfig   `toml:"storage"`
	Health    HealthConfig    `toml:"health"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// MonitorConfig controls the thermal monitoring loop.
type MonitorConfig struct {
	TickInterval string `toml:"tick_interval"`
	ErrorBackoff string `toml:"error_backoff"` // empty = 5 × tick_interval

	// Sensor circuit breaker
	SensorFailureThreshold int    `toml:"sensor_failure_threshold"`
	SensorResetTimeout     string `toml:"sensor_reset_timeout"`
}

// PolicyConfig points at an optional YAML file of custom thermal policies.
type PolicyConfig struct {
	File string `toml:"file"`
}

// SysfsConfig selects the hardware tree.
type SysfsConfig struct {
	Root       string   `toml:"root"`
	ZoneFilter []string `toml:"zone_filter"`
}

// StorageConfig controls persisted state and the event journal.
type StorageConfig struct {
	Dir            string `toml:"dir"`
	EventRetention int    `toml:"event_retention"` // events kept after pruning
	PruneInterval  string `toml:"prune_interval"`
}

// HealthConfig controls the periodic health checks.
type HealthConfig struct {
	Interval string `toml:"interval"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"` // "info" or "debug"
	File  string `toml:"file"`  // empty = stderr only
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	homeDir := freqlockHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7731,
		},
		Monitor: MonitorConfig{
			TickInterval:           "1s",
			SensorFailureThreshold: 5,
			SensorResetTimeout:     "30s",
		},
		Policy: PolicyConfig{
			File: filepath.Join(homeDir, "policies.yaml"),
		},
		Sysfs: SysfsConfig{
			Root: "/sys",
		},
		Storage: StorageConfig{
			Dir:            homeDir,
			EventRetention: 1000,
			PruneInterval:  "1h",
		},
		Health: HealthConfig{
			Interval: "30s",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads config from $FREQLOCK_HOME/config.toml, falling back to
// defaults, then applies environment overrides.
func LoadConfig() (Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads config from path. A missing file yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets the service manager override a few settings without a file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FREQLOCK_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FREQLOCK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("FREQLOCK_SYSFS_ROOT"); v != "" {
		cfg.Sysfs.Root = v
	}
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	for name, s := range map[string]string{
		"monitor.tick_interval":        c.Monitor.TickInterval,
		"monitor.error_backoff":        c.Monitor.ErrorBackoff,
		"monitor.sensor_reset_timeout": c.Monitor.SensorResetTimeout,
		"storage.prune_interval":       c.Storage.PruneInterval,
		"health.interval":              c.Health.Interval,
	} {
		if s == "" {
			continue
		}
		if d, err := time.ParseDuration(s); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, s)
		}
	}
	if c.Monitor.SensorFailureThreshold < 0 {
		return fmt.Errorf("monitor.sensor_failure_threshold must not be negative")
	}
	if c.Storage.EventRetention < 0 {
		return fmt.Errorf("storage.event_retention must not be negative")
	}
	switch c.Logging.Level {
	case "", "info", "debug":
	default:
		return fmt.Errorf("logging.level %q: want info or debug", c.Logging.Level)
	}
	return nil
}

// Addr is the API listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// SaveConfig writes the config to $FREQLOCK_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return EncodeConfig(f, cfg)
}

// EncodeConfig writes cfg as TOML.
func EncodeConfig(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// ConfigPath is the file LoadConfig reads and SaveConfig writes.
func ConfigPath() string {
	return filepath.Join(freqlockHome(), "config.toml")
}

// freqlockHome returns the freqlockd data directory.
func freqlockHome() string {
	if env := os.Getenv("FREQLOCK_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".freqlock")
}

// Home returns the data directory: $FREQLOCK_HOME, or ~/.freqlock.
func Home() string {
	return freqlockHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
