package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models listingintel.yml.
type Config struct {
	Queue struct {
		HighVolumeDomains []string `yaml:"high_volume_domains"`
	} `yaml:"queue"`
	Ledger struct {
		StableEpsilon float64 `yaml:"stable_epsilon"`
	} `yaml:"ledger"`
	Opportunity struct {
		Urgent     float64 `yaml:"urgent"`
		Medium     float64 `yaml:"medium"`
		Saturation float64 `yaml:"saturation"`
		RisePass   float64 `yaml:"rise_pass"`
		MinAlert   float64 `yaml:"min_alert_drop"`
	} `yaml:"opportunity"`
	Export struct {
		Schedule string `yaml:"schedule"`
		Dir      string `yaml:"dir"`
		Clear    bool   `yaml:"clear"`
	} `yaml:"export"`
	Notify struct {
		MinTier  string          `yaml:"min_tier"`
		Redis    RedisConfig     `yaml:"redis"`
		Slack    SlackConfig     `yaml:"slack"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notify"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		RateLimit struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	List     string `yaml:"list"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var tierRank = map[string]int{"monitor": 1, "medium": 2, "urgent": 3}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with lit config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when the config file does not exist.
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for _, d := range c.Queue.HighVolumeDomains {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("config.queue.high_volume_domains contains an empty domain")
		}
	}
	if c.Ledger.StableEpsilon < 0 {
		return fmt.Errorf("config.ledger.stable_epsilon must be >= 0")
	}
	o := c.Opportunity
	if o.Medium < 0 || o.Urgent < o.Medium {
		return fmt.Errorf("config.opportunity requires 0 <= medium <= urgent")
	}
	if o.Saturation <= 0 {
		return fmt.Errorf("config.opportunity.saturation must be positive")
	}
	if o.MinAlert < 0 || o.MinAlert >= 1 {
		return fmt.Errorf("config.opportunity.min_alert_drop must be in [0,1)")
	}
	if s := strings.TrimSpace(c.Export.Schedule); s != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(s); err != nil {
			return fmt.Errorf("config.export.schedule: %w", err)
		}
	}
	if t := c.Notify.MinTier; t != "" {
		if _, ok := tierRank[t]; !ok {
			return fmt.Errorf("config.notify.min_tier must be monitor, medium or urgent")
		}
	}
	if u := c.Notify.Slack.WebhookURL; u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("config.notify.slack.webhook_url: %w", err)
		}
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit values must be >= 0")
	}
	return nil
}

// TierAtLeast reports whether tier meets the configured notification floor.
func (c *Config) TierAtLeast(tier string) bool {
	floor := tierRank[c.Notify.MinTier]
	rank, ok := tierRank[tier]
	return ok && rank >= floor
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "listingintel.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
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

const defaultTemplate = `queue:
  high_volume_domains: [facebook.com, craigslist.org, offerup.com, ebay.com, letgo.com]

ledger:
  # price moves within this amount count as stable
  stable_epsilon: 0

opportunity:
  urgent: 0.15
  medium: 0.05
  saturation: 0.30
  rise_pass: 0.10
  min_alert_drop: 0

export:
  # standard 5-field cron expression; empty disables scheduled exports
  schedule: ""
  dir: exports
  clear: false

notify:
  min_tier: monitor
  redis:
    addr: ""
    channel: listingintel:alerts
    list: listingintel:alerts:recent
  slack:
    webhook_url: ""
    username: listingintel
  webhooks: []

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  rate_limit:
    requests_per_second: 5
    burst: 10

log:
  level: info
  format: text
`
