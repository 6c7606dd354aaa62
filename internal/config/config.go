package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EngagementSingle = "single"
	EngagementMulti  = "multi"
)

// Config models teamdash.yml.
type Config struct {
	Roles   []Role `yaml:"roles"`
	Booking struct {
		SearchWindow         time.Duration `yaml:"search_window"`
		Engagement           string        `yaml:"engagement"`
		SweepInterval        time.Duration `yaml:"sweep_interval"`
		AutoOpenRequirements *bool         `yaml:"auto_open_requirements"`
	} `yaml:"booking"`
	Provisioning struct {
		Webhooks      []WebhookConfig `yaml:"webhooks"`
		MaxAttempts   int             `yaml:"max_attempts"`
		RetryBackoff  time.Duration   `yaml:"retry_backoff"`
		RetryMaxDelay time.Duration   `yaml:"retry_max_delay"`
		RatePerSecond float64         `yaml:"rate_per_second"`
		PollInterval  time.Duration   `yaml:"poll_interval"`
		LeaseTTL      time.Duration   `yaml:"lease_ttl"`
	} `yaml:"provisioning"`
	Feed struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		GapTimeout   time.Duration `yaml:"gap_timeout"`
	} `yaml:"feed"`
}

// Role is one entry of the role catalog. Synthetic roles are filled only by
// AI workers.
type Role struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Synthetic bool   `yaml:"synthetic" json:"synthetic"`
}

type WebhookConfig struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled"`
}

// Role looks a role up in the catalog.
func (c *Config) Role(id string) (Role, bool) {
	for _, r := range c.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// SingleEngagement reports whether a worker holding a requirement is taken
// off the market until the slot is released.
func (c *Config) SingleEngagement() bool {
	return c.Booking.Engagement != EngagementMulti
}

func (c *Config) AutoOpen() bool {
	return c.Booking.AutoOpenRequirements == nil || *c.Booking.AutoOpenRequirements
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Booking.SearchWindow <= 0 {
		c.Booking.SearchWindow = 72 * time.Hour
	}
	if c.Booking.Engagement == "" {
		c.Booking.Engagement = EngagementSingle
	}
	if c.Booking.SweepInterval <= 0 {
		c.Booking.SweepInterval = time.Minute
	}
	if c.Provisioning.MaxAttempts <= 0 {
		c.Provisioning.MaxAttempts = 8
	}
	if c.Provisioning.RetryBackoff <= 0 {
		c.Provisioning.RetryBackoff = 2 * time.Second
	}
	if c.Provisioning.RetryMaxDelay <= 0 {
		c.Provisioning.RetryMaxDelay = 5 * time.Minute
	}
	if c.Provisioning.RatePerSecond <= 0 {
		c.Provisioning.RatePerSecond = 20
	}
	if c.Provisioning.PollInterval <= 0 {
		c.Provisioning.PollInterval = time.Second
	}
	if c.Provisioning.LeaseTTL <= 0 {
		c.Provisioning.LeaseTTL = 30 * time.Second
	}
	if c.Feed.PollInterval <= 0 {
		c.Feed.PollInterval = time.Second
	}
	if c.Feed.GapTimeout <= 0 {
		c.Feed.GapTimeout = 5 * time.Second
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	seen := map[string]bool{}
	for i, r := range c.Roles {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("config.roles[%d].id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("config.roles has duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
	switch c.Booking.Engagement {
	case "", EngagementSingle, EngagementMulti:
	default:
		return fmt.Errorf("config.booking.engagement must be single or multi")
	}
	if c.Booking.SearchWindow < 0 {
		return fmt.Errorf("config.booking.search_window must be positive")
	}
	for i, hook := range c.Provisioning.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.provisioning.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.provisioning.webhooks[%d].url must be http(s)", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "teamdash.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with tdm config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	cfg.ApplyDefaults()
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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
	cfg.ApplyDefaults()
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

const defaultTemplate = `roles:
  - id: developer
    name: Developer
  - id: designer
    name: Designer
  - id: project-manager
    name: Project manager
  - id: seo-specialist
    name: SEO specialist
  - id: ai-copywriter
    name: AI copywriter
    synthetic: true
  - id: ai-translator
    name: AI translator
    synthetic: true

booking:
  search_window: 72h
  engagement: single
  sweep_interval: 1m
  auto_open_requirements: true

provisioning:
  max_attempts: 8
  retry_backoff: 2s
  retry_max_delay: 5m
  rate_per_second: 20
  poll_interval: 1s
  lease_ttl: 30s
  webhooks: []

feed:
  poll_interval: 1s
  gap_timeout: 5s
`
