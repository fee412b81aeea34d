package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models awsctl.yml.
type Config struct {
	Provider struct {
		DefaultRegion string `yaml:"default_region"`
	} `yaml:"provider"`
	Scheduler struct {
		MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
		TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`
	} `yaml:"scheduler"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Provider.DefaultRegion = "us-east-1"
	cfg.Scheduler.MaxConcurrentTasks = 10
	cfg.Scheduler.TaskTimeoutSeconds = 300
	cfg.Server.Addr = ":8080"
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "awsctl.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Absent fields
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Provider.DefaultRegion == "" {
		return fmt.Errorf("config.provider.default_region is required")
	}
	if c.Scheduler.MaxConcurrentTasks < 1 {
		return fmt.Errorf("config.scheduler.max_concurrent_tasks must be at least 1")
	}
	if c.Scheduler.TaskTimeoutSeconds < 1 {
		return fmt.Errorf("config.scheduler.task_timeout_seconds must be at least 1")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	return nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `provider:
  default_region: us-east-1

scheduler:
  max_concurrent_tasks: 10
  task_timeout_seconds: 300

server:
  addr: ":8080"
`
