package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"claimcheck/internal/rules"
)

// Config models claimcheck.yml.
type Config struct {
	Weights map[string]int `yaml:"weights"`
	Rules   struct {
		Disabled []string `yaml:"disabled"`
	} `yaml:"rules"`
	Run struct {
		Parallelism int `yaml:"parallelism"`
	} `yaml:"run"`
	Server struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Weights = rules.DefaultWeights()
	cfg.Run.Parallelism = 4
	return &cfg
}

// WeightTable returns the configured severity weights.
func (c *Config) WeightTable() rules.WeightTable {
	if len(c.Weights) == 0 {
		return rules.DefaultWeights()
	}
	return rules.WeightTable(c.Weights)
}

// DisabledRules returns the disabled rule ids as a set.
func (c *Config) DisabledRules() map[string]bool {
	if len(c.Rules.Disabled) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.Rules.Disabled))
	for _, id := range c.Rules.Disabled {
		set[id] = true
	}
	return set
}

// Parallelism returns the rule evaluation concurrency limit.
func (c *Config) Parallelism() int {
	if c.Run.Parallelism <= 0 {
		return 4
	}
	return c.Run.Parallelism
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for severity, weight := range c.Weights {
		if rules.Rank(severity) == 0 {
			return fmt.Errorf("config.weights references unknown severity %s", severity)
		}
		if weight <= 0 {
			return fmt.Errorf("config.weights.%s must be positive, got %d", severity, weight)
		}
	}
	for _, id := range c.Rules.Disabled {
		if id == "" {
			return fmt.Errorf("config.rules.disabled contains empty rule id")
		}
	}
	if c.Run.Parallelism < 0 {
		return fmt.Errorf("config.run.parallelism must not be negative")
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
	return filepath.Join(workspace, "claimcheck.yml")
}

// Load reads and validates config from the workspace, falling back to the
// built-in defaults when no file exists.
func Load(workspace string) (*Config, error) {
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

// FromYAML parses and validates config from raw YAML bytes. Omitted weights
// fall back to the default table so partial configs stay usable.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
