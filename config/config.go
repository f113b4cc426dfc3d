package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hard limits on the reconnect policy. Values outside this range are
// clamped, not rejected.
const (
	MaxReconnectTries    = 300
	MinReconnectMaxDelay = 5 * time.Second
)

type Config struct {
	Smartfeed SmartfeedConfig `yaml:"smartfeed"`
	Feed      FeedConfig      `yaml:"feed"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type SmartfeedConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FeedConfig describes the upstream market-data feed connection.
type FeedConfig struct {
	URL                string          `yaml:"url"`
	Task               string          `yaml:"task"`
	Channel            string          `yaml:"channel"`
	ClientCode         string          `yaml:"client_code"`
	FeedToken          string          `yaml:"feed_token"`
	ConnectTimeout     time.Duration   `yaml:"connect_timeout"`
	InsecureSkipVerify bool            `yaml:"insecure_skip_verify"`
	Reconnect          ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds the reconnect-with-backoff policy.
type ReconnectConfig struct {
	MaxTries int           `yaml:"max_tries"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

type ChannelsConfig struct {
	TickBuffer    int `yaml:"tick_buffer"`
	MessageBuffer int `yaml:"message_buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

// DefaultFeedURL is the built-in feed endpoint used when the configuration
// does not override it.
const DefaultFeedURL = "wss://omnefeeds.angelbroking.com/NestHtml5Mobile/socket/stream"

// LoadConfig reads and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials are usually injected through the environment rather than
	// committed to the config file.
	if v := os.Getenv("FEED_TOKEN"); v != "" {
		config.Feed.FeedToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("CLIENT_CODE"); v != "" {
		config.Feed.ClientCode = strings.TrimSpace(v)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Feed.URL == "" {
		config.Feed.URL = DefaultFeedURL
	}
	if config.Feed.ConnectTimeout <= 0 {
		config.Feed.ConnectTimeout = 30 * time.Second
	}
	if config.Feed.Reconnect.MaxTries <= 0 {
		config.Feed.Reconnect.MaxTries = 50
	}
	if config.Feed.Reconnect.MaxDelay <= 0 {
		config.Feed.Reconnect.MaxDelay = 60 * time.Second
	}
	if config.Channels.TickBuffer <= 0 {
		config.Channels.TickBuffer = 100
	}
	if config.Channels.MessageBuffer <= 0 {
		config.Channels.MessageBuffer = 100
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
	if config.Metrics.ReportInterval <= 0 {
		config.Metrics.ReportInterval = 30 * time.Second
	}

	// Out-of-range reconnect settings are clamped to the supported bounds.
	if config.Feed.Reconnect.MaxTries > MaxReconnectTries {
		config.Feed.Reconnect.MaxTries = MaxReconnectTries
	}
	if config.Feed.Reconnect.MaxDelay < MinReconnectMaxDelay {
		config.Feed.Reconnect.MaxDelay = MinReconnectMaxDelay
	}
}

func validateConfig(config *Config) error {
	if config.Feed.ClientCode == "" {
		return fmt.Errorf("feed.client_code is required")
	}
	if config.Feed.FeedToken == "" {
		return fmt.Errorf("feed.feed_token is required")
	}
	if !strings.HasPrefix(config.Feed.URL, "ws://") && !strings.HasPrefix(config.Feed.URL, "wss://") {
		return fmt.Errorf("feed.url must be a ws:// or wss:// endpoint")
	}
	return nil
}
