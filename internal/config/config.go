// Package config handles jsonwatch configuration from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/jsonwatch/horosafe"
	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/hazyhaar/jsonwatch/render"
)

// Config is the top-level jsonwatch configuration.
type Config struct {
	Source        SourceConfig        `yaml:"source"`
	Poll          PollConfig          `yaml:"poll"`
	Diff          jsondiff.Options    `yaml:"diff"`
	Render        render.Options      `yaml:"render"`
	Sinks         []SinkConfig        `yaml:"sinks"`
	Lifecycle     LifecycleConfig     `yaml:"lifecycle"`
	HTTP          HTTPConfig          `yaml:"http"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SourceConfig describes the watched document.
type SourceConfig struct {
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxBytes     int64             `yaml:"max_bytes"`
	UserAgent    string            `yaml:"user_agent"`
	BlockPrivate bool              `yaml:"block_private"`
}

// PollConfig controls the poll cadence.
type PollConfig struct {
	Interval        time.Duration `yaml:"interval"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type         string        `yaml:"type"` // stdout | webhook | discord | slack | telegram
	Name         string        `yaml:"name"`
	URL          string        `yaml:"url"`           // webhook, discord, slack incoming webhook
	Token        string        `yaml:"token"`         // slack bot token, telegram bot token
	Channel      string        `yaml:"channel"`       // slack
	ChatID       string        `yaml:"chat_id"`       // telegram
	Secret       string        `yaml:"secret"`        // webhook HMAC
	ContentField string        `yaml:"content_field"` // webhook, default "content"
	MinInterval  time.Duration `yaml:"min_interval"`
}

// LifecycleConfig controls online/offline announcements. Empty messages
// get a default naming the source URL.
type LifecycleConfig struct {
	Announce       bool   `yaml:"announce"`
	OnlineMessage  string `yaml:"online_message"`
	OfflineMessage string `yaml:"offline_message"`
}

// HTTPConfig enables the status server.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// ObservabilityConfig enables the SQLite cycle log. Cycles and heartbeats
// older than Retention are pruned on every heartbeat.
type ObservabilityConfig struct {
	DB                string        `yaml:"db"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Retention         time.Duration `yaml:"retention"`
}

// Sink types.
const (
	SinkStdout   = "stdout"
	SinkWebhook  = "webhook"
	SinkDiscord  = "discord"
	SinkSlack    = "slack"
	SinkTelegram = "telegram"
)

// LoadFile reads a YAML configuration file. Defaults are applied and
// ${VAR} references expanded; call Validate before use.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.ExpandEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ExpandEnv replaces ${VAR} references in URLs, headers and credentials.
func (c *Config) ExpandEnv() {
	c.Source.URL = expandEnv(c.Source.URL)
	for k, v := range c.Source.Headers {
		c.Source.Headers[k] = expandEnv(v)
	}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		s.URL = expandEnv(s.URL)
		s.Token = expandEnv(s.Token)
		s.Channel = expandEnv(s.Channel)
		s.ChatID = expandEnv(s.ChatID)
		s.Secret = expandEnv(s.Secret)
	}
}

// ApplyDefaults fills unset values. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = 30 * time.Second
	}
	if c.Source.MaxBytes <= 0 {
		c.Source.MaxBytes = 10 << 20
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = "jsonwatch/1.0"
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 60 * time.Second
	}
	if c.Poll.DeliveryTimeout == 0 {
		c.Poll.DeliveryTimeout = 30 * time.Second
	}
	if c.Poll.ShutdownTimeout == 0 {
		c.Poll.ShutdownTimeout = 5 * time.Second
	}
	if c.Diff.Mode == "" {
		c.Diff.Mode = jsondiff.ModeRecord
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: SinkStdout}}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Name == "" {
			c.Sinks[i].Name = fmt.Sprintf("%s-%d", c.Sinks[i].Type, i)
		}
	}
	if c.Observability.HeartbeatInterval <= 0 {
		c.Observability.HeartbeatInterval = 15 * time.Second
	}
	if c.Observability.Retention == 0 {
		c.Observability.Retention = 30 * 24 * time.Hour
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Source.URL == "" {
		errs = append(errs, errors.New("source.url is required"))
	} else if err := horosafe.ValidateScheme(c.Source.URL); err != nil {
		errs = append(errs, fmt.Errorf("source.url: %w", err))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval))
	}
	if c.Poll.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("poll.initial_delay must not be negative, got %s", c.Poll.InitialDelay))
	}
	if c.Poll.DeliveryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll.delivery_timeout must be positive, got %s", c.Poll.DeliveryTimeout))
	}
	if c.Poll.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll.shutdown_timeout must be positive, got %s", c.Poll.ShutdownTimeout))
	}
	switch c.Diff.Mode {
	case jsondiff.ModeRecord, jsondiff.ModeAtomic:
	default:
		errs = append(errs, fmt.Errorf("diff.mode: unknown mode %q (record|atomic)", c.Diff.Mode))
	}
	if c.Diff.ItemDepth < 0 {
		errs = append(errs, fmt.Errorf("diff.item_depth must not be negative, got %d", c.Diff.ItemDepth))
	}
	if c.Observability.Retention < c.Observability.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("observability.retention must be at least heartbeat_interval (%s), got %s",
			c.Observability.HeartbeatInterval, c.Observability.Retention))
	}
	for i, s := range c.Sinks {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("sinks[%d] (%s): %w", i, s.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid:\n%w", err)
	}
	return nil
}

func (s SinkConfig) validate() error {
	if s.MinInterval < 0 {
		return errors.New("min_interval must not be negative")
	}
	switch s.Type {
	case SinkStdout:
		return nil
	case SinkWebhook:
		if s.Secret != "" {
			if err := horosafe.ValidateSecret([]byte(s.Secret)); err != nil {
				return fmt.Errorf("secret: %w", err)
			}
		}
		return requireURL(s.URL)
	case SinkDiscord:
		return requireURL(s.URL)
	case SinkSlack:
		if s.URL != "" {
			return requireURL(s.URL)
		}
		if s.Token == "" || s.Channel == "" {
			return errors.New("slack needs url, or token and channel")
		}
		return nil
	case SinkTelegram:
		if s.Token == "" || s.ChatID == "" {
			return errors.New("telegram needs token and chat_id")
		}
		return nil
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown sink type %q", s.Type)
	}
}

func requireURL(u string) error {
	if u == "" {
		return errors.New("url is required")
	}
	return horosafe.ValidateScheme(u)
}

// expandEnv replaces ${ENV_VAR} patterns with their values.
func expandEnv(s string) string {
	return os.Expand(s, os.Getenv)
}
