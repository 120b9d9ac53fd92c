package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"loandesk/internal/domain"
)

// Config models loandesk.yml.
type Config struct {
	Workspace struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Defaults struct {
		TaskPriority string `yaml:"task_priority"`
		DueInDays    int    `yaml:"due_in_days"`
	} `yaml:"defaults"`
}

// Default returns the seed config for a workspace.
func Default(workspaceID string) *Config {
	cfg := &Config{}
	cfg.Workspace.ID = workspaceID
	cfg.Workspace.Name = workspaceID
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v1"
	cfg.Defaults.TaskPriority = domain.PriorityNormal
	cfg.Defaults.DueInDays = 7
	return cfg
}

// Load reads and validates config from the workspace directory. A missing file
// is not an error; defaults are returned instead.
func Load(workspace, workspaceID string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspaceID), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Workspace.ID == "" {
		cfg.Workspace.ID = workspaceID
	}
	return cfg, nil
}

// FromYAML parses and validates config bytes.
func FromYAML(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	cfg := Default("")
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	if c.Defaults.TaskPriority != "" && !domain.ValidPriority(c.Defaults.TaskPriority) {
		return fmt.Errorf("config.defaults.task_priority %q is not a valid priority", c.Defaults.TaskPriority)
	}
	if c.Defaults.DueInDays < 0 {
		return fmt.Errorf("config.defaults.due_in_days must not be negative")
	}
	return nil
}

// ToYAML serializes the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Path returns the config file path for a workspace directory.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "loandesk.yml")
}
