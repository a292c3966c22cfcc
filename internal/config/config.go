package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gigline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Limits   Limits          `yaml:"limits"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// Limits bound task input fields; violations surface as validation errors
// before any state change.
type Limits struct {
	MinTitleLen       int   `yaml:"min_title_len"`
	MaxTitleLen       int   `yaml:"max_title_len"`
	MaxDescriptionLen int   `yaml:"max_description_len"`
	MaxBudget         int64 `yaml:"max_budget"`
}

// WebhookConfig points at an external collaborator (notification service,
// payment service) subscribed to outbound events.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if c.Limits.MinTitleLen < 1 {
		return fmt.Errorf("config.limits.min_title_len must be at least 1")
	}
	if c.Limits.MaxTitleLen > 0 && c.Limits.MaxTitleLen < c.Limits.MinTitleLen {
		return fmt.Errorf("config.limits.max_title_len below min_title_len")
	}
	if c.Limits.MaxBudget < 0 {
		return fmt.Errorf("config.limits.max_budget must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `service:
  name: gigline

auth:
  allow_legacy_actor_header: false

limits:
  min_title_len: 3
  max_title_len: 140
  max_description_len: 10000
  max_budget: 100000000

webhooks: []
`
