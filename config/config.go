// Package config loads and validates the collector's YAML configuration:
// the HTTP server settings, cache bounds, output toggles, optional NATS
// input, and the ordered list of event handler rules.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
	"github.com/Oorpe/prometheus-webhook-collector/rule"
)

// Duration is a time.Duration that unmarshals from either a duration
// string ("600s", "10m") or a bare number of seconds, which is what the
// original config format used.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		if parsed, perr := time.ParseDuration(s); perr == nil {
			*d = Duration(parsed)
			return nil
		}
	}

	var seconds float64
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	return fmt.Errorf("invalid duration %q", node.Value)
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig defines the HTTP transport settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	WebhookBasepath string   `yaml:"webhook_basepath"`
	MaxRequestSize  int64    `yaml:"max_request_size"`
	EnableCORS      bool     `yaml:"enable_cors"`
	CORSOrigins     []string `yaml:"cors_origins"`
	RateLimit       float64  `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst       int      `yaml:"rate_burst"`
}

// CacheConfig defines the metric table bounds.
type CacheConfig struct {
	MaxSize int      `yaml:"max_size"`
	TTL     Duration `yaml:"ttl"`
}

// OutputConfig selects where derived metrics are rendered.
type OutputConfig struct {
	Scrapeable   bool   `yaml:"scrapeable"`
	Textfile     bool   `yaml:"textfile"`
	TextfileDir  string `yaml:"textfile_dir"`
	TextfileName string `yaml:"textfile_name"`
}

// DashboardConfig gates the websocket debug surface.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NATSConfig defines the optional NATS event input.
type NATSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URLs          []string `yaml:"urls"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	QueueGroup    string   `yaml:"queue_group"`
}

// Config represents the complete collector configuration.
type Config struct {
	Server          ServerConfig      `yaml:"server"`
	Cache           CacheConfig       `yaml:"cache"`
	Output          OutputConfig      `yaml:"output"`
	ExporterMetrics bool              `yaml:"exporter_metrics"`
	Dashboard       DashboardConfig   `yaml:"dashboard"`
	NATS            NATSConfig        `yaml:"nats"`
	EventHandlers   []rule.Definition `yaml:"event_handlers"`
}

// Default returns the configuration defaults, mirroring the original
// deployment's values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			WebhookBasepath: "/webhook",
			MaxRequestSize:  1 << 20,
			CORSOrigins:     []string{"*"},
		},
		Cache: CacheConfig{
			MaxSize: 128,
			TTL:     Duration(600 * time.Second),
		},
		Output: OutputConfig{
			Scrapeable:   true,
			TextfileDir:  "/var/lib/node_exporter/textfile_collector",
			TextfileName: "webhook_metrics.prom",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://127.0.0.1:4222"},
			SubjectPrefix: "webhook.events",
			QueueGroup:    "webhook-collector",
		},
	}
}

// Load reads a YAML configuration file, applies defaults, and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read "+path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "parse "+path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors. Rule pattern, query, and
// schema compilation is validated separately when the rule set is built;
// both run before any traffic is served.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.WebhookBasepath, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"server.webhook_basepath must start with /")
	}
	if c.Server.MaxRequestSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"server.max_request_size must be positive")
	}
	if c.Server.RateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"server.rate_limit cannot be negative")
	}

	if c.Cache.MaxSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"cache.max_size must be positive")
	}
	if c.Cache.TTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"cache.ttl must be positive")
	}

	if c.Output.Textfile && c.Output.TextfileDir == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"output.textfile_dir is required when textfile output is enabled")
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
				"nats.urls is required when NATS input is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
				"nats.subject_prefix is required when NATS input is enabled")
		}
	}

	if len(c.EventHandlers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"at least one event handler is required")
	}
	for i, handler := range c.EventHandlers {
		if handler.EventTitle == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("event_handlers[%d].event_title is required", i))
		}
	}

	return nil
}
