// Package config provides unified configuration loading for cellsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/units"
	"gopkg.in/yaml.v3"
)

// Config contains all cellsim configuration settings.
type Config struct {
	// Simulation contains the discretization and engine settings.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Logging contains settings for operational and step logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store configures trajectory recording.
	Store StoreConfig `json:"store" yaml:"store"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// SimulationConfig configures the engine.
type SimulationConfig struct {
	// TimeStep is the length of one step in TimeUnit.
	TimeStep float64 `json:"time_step" yaml:"time_step"`

	// TimeUnit is a time unit symbol: "s", "ms", "us" or "min".
	TimeUnit string `json:"time_unit" yaml:"time_unit"`

	// SpaceUnit is the length of one simulation length unit in micrometres.
	SpaceUnit float64 `json:"space_unit" yaml:"space_unit"`

	// Workers bounds the compute pool. 0 uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`

	// Seed feeds stochastic modules.
	Seed int64 `json:"seed" yaml:"seed"`

	// Tolerance is the largest negative result that is clamped to zero
	// instead of failing the step.
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`

	// Steps is the default number of steps for `cellsim run`.
	Steps int `json:"steps" yaml:"steps"`
}

// LoggingConfig configures cellsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables step logging to <Dir>/steps.jsonl.
	// "trace" additionally logs every merged delta.
	Level string `json:"level" yaml:"level"`

	// Dir is where the step log is written. Empty disables it.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// StoreConfig configures the trajectory store.
type StoreConfig struct {
	// Path is the SQLite database file. Supports ${VAR} syntax. Empty keeps
	// trajectories in memory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Every records one sample per this many steps. 0 or 1 records every step.
	Every int `json:"every" yaml:"every"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled registers engine collectors.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Addr is the listen address for /metrics, e.g. ":9464".
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			TimeStep:  1,
			TimeUnit:  "ms",
			SpaceUnit: 100,
			Workers:   0,
			Seed:      1,
			Tolerance: 1e-12,
			Steps:     1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Every: 1,
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.cellsim/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".cellsim", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.Path = expandEnvVars(config.Store.Path)
	config.Logging.Dir = expandEnvVars(config.Logging.Dir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.Units(); err != nil {
		return err
	}

	if c.Simulation.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Simulation.Workers)
	}
	if c.Simulation.Tolerance < 0 {
		return fmt.Errorf("tolerance must be non-negative, got %g", c.Simulation.Tolerance)
	}
	if c.Simulation.Steps < 0 {
		return fmt.Errorf("steps must be non-negative, got %d", c.Simulation.Steps)
	}
	if c.Store.Every < 0 {
		return fmt.Errorf("store.every must be non-negative, got %d", c.Store.Every)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// Units resolves the simulation settings into a unit context.
func (c *Config) Units() (units.Context, error) {
	unit, err := units.Parse(c.Simulation.TimeUnit)
	if err != nil {
		return units.Context{}, fmt.Errorf("time_unit: %w", err)
	}
	ctx := units.Context{
		TimeStep:  c.Simulation.TimeStep,
		TimeUnit:  unit,
		SpaceUnit: c.Simulation.SpaceUnit,
	}
	if err := ctx.Validate(); err != nil {
		return units.Context{}, err
	}
	return ctx, nil
}

// Engine returns the simulation driver settings.
func (c *Config) Engine() (simulation.Config, error) {
	u, err := c.Units()
	if err != nil {
		return simulation.Config{}, err
	}
	return simulation.Config{
		Units:     u,
		Workers:   c.WorkerCount(),
		Seed:      c.Simulation.Seed,
		Tolerance: c.Simulation.Tolerance,
	}, nil
}

// WorkerCount returns the effective compute pool size.
func (c *Config) WorkerCount() int {
	if c.Simulation.Workers > 0 {
		return c.Simulation.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CELLSIM_TIME_STEP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.TimeStep = f
		}
	}
	if v := os.Getenv("CELLSIM_TIME_UNIT"); v != "" {
		config.Simulation.TimeUnit = v
	}
	if v := os.Getenv("CELLSIM_SPACE_UNIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.SpaceUnit = f
		}
	}
	if v := os.Getenv("CELLSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Workers = n
		}
	}
	if v := os.Getenv("CELLSIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}
	if v := os.Getenv("CELLSIM_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.Tolerance = f
		}
	}

	if v := os.Getenv("CELLSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("CELLSIM_LOG_DIR"); v != "" {
		config.Logging.Dir = v
	}

	if v := os.Getenv("CELLSIM_STORE_PATH"); v != "" {
		config.Store.Path = v
	}

	if v := os.Getenv("CELLSIM_METRICS_ENABLED"); v != "" {
		config.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CELLSIM_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
