// Package config provides configuration loading for the governance engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port int `yaml:"port"`
	// AllowedOrigins are the CORS origins permitted to call the API
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig configures persistence.
type DatabaseConfig struct {
	// Path is the SQLite database path; ":memory:" for in-memory
	Path string `yaml:"path"`
}

// WorkflowConfig configures engine behavior.
type WorkflowConfig struct {
	// StrictGateTransitions rejects gate-meeting transitions not present
	// in the adjacency table (default: false, permissive)
	StrictGateTransitions bool `yaml:"strict_gate_transitions"`
}

// SchedulerConfig configures the auto-transition scheduler.
type SchedulerConfig struct {
	// Enabled controls whether the scheduler runs (default: true)
	Enabled bool `yaml:"enabled"`
	// CheckInterval is how often due auto-transitions are fired
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{
			Path: "governance.db",
		},
		Workflow: WorkflowConfig{
			StrictGateTransitions: false,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: time.Hour,
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Server.Port <= 0 {
		return nil, fmt.Errorf("config %s: server.port must be positive", path)
	}
	if cfg.Scheduler.CheckInterval <= 0 {
		cfg.Scheduler.CheckInterval = time.Hour
	}
	return cfg, nil
}
