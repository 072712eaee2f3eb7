// Package config loads the engine configuration from YAML with
// environment overrides for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Draw      DrawConfig      `yaml:"draw"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the operational HTTP listener settings.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SchedulerConfig tunes the draw cycle.
type SchedulerConfig struct {
	// DrawCycleSpec is a five-field cron expression.
	DrawCycleSpec string `yaml:"draw_cycle_spec"`
}

// DrawConfig tunes winner selection.
type DrawConfig struct {
	OneWinPerUser bool `yaml:"one_win_per_user"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server:    ServerConfig{MetricsAddr: ":9090"},
		Storage:   StorageConfig{Driver: "memory"},
		Scheduler: SchedulerConfig{DrawCycleSpec: "* * * * *"},
		Draw:      DrawConfig{OneWinPerUser: false},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads config/raffle.yaml relative to the working directory.
func Load() (Config, error) {
	return LoadFromPath(filepath.Join("config", "raffle.yaml"))
}

// LoadFromPath reads and validates the configuration file at path.
func LoadFromPath(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration file, falling back to defaults
// (still honoring environment overrides) when the file does not exist.
func LoadOrDefault(path string) Config {
	cfg, err := LoadFromPath(path)
	if err != nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RAFFLE_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("RAFFLE_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("RAFFLE_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("RAFFLE_DRAW_CYCLE_SPEC"); v != "" {
		c.Scheduler.DrawCycleSpec = v
	}
	if v := os.Getenv("RAFFLE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Scheduler.DrawCycleSpec == "" {
		return fmt.Errorf("scheduler draw cycle spec is required")
	}
	return nil
}
