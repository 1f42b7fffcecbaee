// Package config loads dealdesk settings from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/dealdesk/internal/command"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the daemon and client configuration.
type Config struct {
	// Listen is the HTTP address of the daemon.
	Listen string `yaml:"listen"`
	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Store selects and configures the persistence backend.
	Store StoreConfig `yaml:"store"`
	// Marker is the leading character that turns input into a task.
	Marker string `yaml:"marker"`
	// DefaultAssignee is used for tasks created from the input line.
	DefaultAssignee string `yaml:"default_assignee"`
	// Reminder configures the overdue task sweeper.
	Reminder ReminderConfig `yaml:"reminder"`
	// Stages seeds the pipeline when the store has none.
	Stages []string `yaml:"stages"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// ReminderConfig configures the overdue sweeper. A zero interval disables it.
type ReminderConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:7480",
		LogLevel: "info",
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   defaultDBPath(),
		},
		Marker:          string(command.DefaultMarker),
		DefaultAssignee: models.SelfAssignee,
		Reminder:        ReminderConfig{Interval: time.Minute},
		Stages:          append([]string(nil), store.DefaultStages...),
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".dealdesk", "dealdesk.db")
	}
	return filepath.Join(home, ".dealdesk", "dealdesk.db")
}

// Load reads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromHome loads ~/.dealdesk/config.yaml.
func LoadFromHome() (*Config, error) {
	path, err := HomePath()
	if err != nil {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, nil
	}
	return Load(path)
}

// HomePath returns the default config file location.
func HomePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dealdesk", "config.yaml"), nil
}

// Save writes configuration to a YAML file, creating parent directories.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if c.Store.DSN == "" {
		c.Store.DSN = os.Getenv("DATABASE_URL")
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must be set")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn or DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid store driver %q, must be: sqlite or postgres", c.Store.Driver)
	}
	if len([]rune(c.Marker)) != 1 {
		return fmt.Errorf("marker must be a single character, got %q", c.Marker)
	}
	if c.Reminder.Interval < 0 {
		return fmt.Errorf("reminder.interval cannot be negative")
	}
	return nil
}

// MarkerRune returns the task marker as a rune.
func (c *Config) MarkerRune() rune {
	for _, r := range c.Marker {
		return r
	}
	return command.DefaultMarker
}
