// ABOUTME: Configuration loading and parsing for funis-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete funis-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Relay    RelayConfig    `yaml:"relay"`
	Turns    TurnsConfig    `yaml:"turns"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// RelayConfig holds upstream relay connection configuration.
// The token is a bearer credential and must never be exposed to clients.
type RelayConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// TurnsConfig holds turn submission timing configuration
type TurnsConfig struct {
	DefaultWait  bool          `yaml:"default_wait"`
	WaitTimeout  time.Duration `yaml:"-"`
	PollInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	WaitTimeoutRaw  string `yaml:"wait_timeout"`
	PollIntervalRaw string `yaml:"poll_interval"`
}

// CacheConfig holds thread list cache configuration
type CacheConfig struct {
	ThreadTTL time.Duration `yaml:"-"`

	ThreadTTLRaw string `yaml:"thread_ttl"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig holds notification forwarding configuration.
// WebhookURL takes precedence over WebhookID when both are set.
type NotifyConfig struct {
	WebhookID    string `yaml:"webhook_id"`
	WebhookURL   string `yaml:"webhook_url"`
	TextMaxChars int    `yaml:"text_max_chars"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are absent from the config file.
const (
	DefaultWaitTimeout  = 120 * time.Second
	DefaultPollInterval = time.Second
	DefaultThreadTTL    = 2500 * time.Millisecond
	DefaultTextMaxChars = 4000
	MinTextMaxChars     = 200
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset optional fields with their documented defaults
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8099"
	}
	if c.Turns.WaitTimeout == 0 {
		c.Turns.WaitTimeout = DefaultWaitTimeout
	}
	if c.Turns.PollInterval == 0 {
		c.Turns.PollInterval = DefaultPollInterval
	}
	if c.Cache.ThreadTTL == 0 {
		c.Cache.ThreadTTL = DefaultThreadTTL
	}
	if c.Notify.TextMaxChars == 0 {
		c.Notify.TextMaxChars = DefaultTextMaxChars
	}
	if c.Notify.TextMaxChars < MinTextMaxChars {
		c.Notify.TextMaxChars = MinTextMaxChars
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Turns.WaitTimeout <= 0 {
		return fmt.Errorf("turns.wait_timeout must be positive")
	}

	if c.Turns.PollInterval <= 0 {
		return fmt.Errorf("turns.poll_interval must be positive")
	}

	if c.Cache.ThreadTTL <= 0 {
		return fmt.Errorf("cache.thread_ttl must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Turns.WaitTimeoutRaw != "" {
		cfg.Turns.WaitTimeout, err = time.ParseDuration(cfg.Turns.WaitTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing wait_timeout %q: %w", cfg.Turns.WaitTimeoutRaw, err)
		}
	}

	if cfg.Turns.PollIntervalRaw != "" {
		cfg.Turns.PollInterval, err = time.ParseDuration(cfg.Turns.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Turns.PollIntervalRaw, err)
		}
	}

	if cfg.Cache.ThreadTTLRaw != "" {
		cfg.Cache.ThreadTTL, err = time.ParseDuration(cfg.Cache.ThreadTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing thread_ttl %q: %w", cfg.Cache.ThreadTTLRaw, err)
		}
	}

	return nil
}
