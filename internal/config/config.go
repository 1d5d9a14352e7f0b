package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Transport TransportConfig `yaml:"transport"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// WebhookConfig contains inbound callback authentication settings.
// AuthToken enables shared-secret bearer authentication. SigningKey,
// when set, switches the endpoint to HMAC-SHA256 signature verification
// over the raw request body and a timestamp header.
type WebhookConfig struct {
	AuthToken          string        `yaml:"auth_token"`
	SigningKey         string        `yaml:"signing_key"`
	TimestampTolerance time.Duration `yaml:"timestamp_tolerance"`
}

// TransportConfig contains transport gateway settings
type TransportConfig struct {
	// Mode selects the gateway implementation: "http" or "smtp"
	Mode string `yaml:"mode"`

	HTTP HTTPTransportConfig `yaml:"http"`
	SMTP SMTPTransportConfig `yaml:"smtp"`

	// SendTimeout bounds a single gateway call
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// HTTPTransportConfig contains settings for the HTTP provider gateway
type HTTPTransportConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"`
}

// SMTPTransportConfig contains settings for the SMTP relay gateway
type SMTPTransportConfig struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	From     string     `yaml:"from"`
	Hostname string     `yaml:"hostname"`
	DKIM     DKIMConfig `yaml:"dkim"`
}

// DKIMConfig contains DKIM signing settings for the SMTP relay
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// RateLimitConfig contains per-account rate limiting settings
type RateLimitConfig struct {
	Window    time.Duration `yaml:"window"`
	WindowMax int           `yaml:"window_max"`
	DailyMax  int           `yaml:"daily_max"`
}

// RetryConfig contains retry scheduling settings
type RetryConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     time.Duration `yaml:"jitter"`
	MaxRetries int           `yaml:"max_retries"`
}

// DispatchConfig contains dispatch worker settings
type DispatchConfig struct {
	BatchSize int `yaml:"batch_size"`

	// Interval between batches when running in serve mode; external
	// schedulers can instead hit the dispatch route or subcommand
	Interval time.Duration `yaml:"interval"`

	// StaleAfter is how long a message may sit in processing before the
	// sweeper resets it
	StaleAfter time.Duration `yaml:"stale_after"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	DedupPath    string `yaml:"dedup_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides secrets from the environment so they can be kept
// out of the config file
func (c *Config) applyEnv() {
	if v := os.Getenv("WEBHOOK_AUTH_TOKEN"); v != "" {
		c.Webhook.AuthToken = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_KEY"); v != "" {
		c.Webhook.SigningKey = v
	}
	if v := os.Getenv("TRANSPORT_API_KEY"); v != "" {
		c.Transport.HTTP.APIKey = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Transport.SMTP.Password = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Webhook.TimestampTolerance == 0 {
		c.Webhook.TimestampTolerance = 5 * time.Minute
	}

	if c.Transport.Mode == "" {
		c.Transport.Mode = "http"
	}
	if c.Transport.SendTimeout == 0 {
		c.Transport.SendTimeout = 30 * time.Second
	}
	if c.Transport.SMTP.Port == 0 {
		c.Transport.SMTP.Port = 587
	}
	if c.Transport.SMTP.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Transport.SMTP.Hostname = hostname
	}

	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.WindowMax == 0 {
		c.RateLimit.WindowMax = 100
	}
	if c.RateLimit.DailyMax == 0 {
		c.RateLimit.DailyMax = 50000
	}

	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 5 * time.Minute
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 24 * time.Hour
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = 30 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}

	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 10
	}
	if c.Dispatch.Interval == 0 {
		c.Dispatch.Interval = time.Minute
	}
	if c.Dispatch.StaleAfter == 0 {
		c.Dispatch.StaleAfter = 10 * time.Minute
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "/var/lib/deliveryd/deliveryd.db"
	}
	if c.Storage.DedupPath == "" {
		c.Storage.DedupPath = "/var/lib/deliveryd/dedup.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case "http":
		if c.Transport.HTTP.BaseURL == "" {
			return fmt.Errorf("transport.http.base_url is required in http mode")
		}
	case "smtp":
		if c.Transport.SMTP.Host == "" {
			return fmt.Errorf("transport.smtp.host is required in smtp mode")
		}
		if c.Transport.SMTP.DKIM.Enabled {
			if c.Transport.SMTP.DKIM.Domain == "" || c.Transport.SMTP.DKIM.Selector == "" || c.Transport.SMTP.DKIM.KeyFile == "" {
				return fmt.Errorf("transport.smtp.dkim requires domain, selector and key_file")
			}
		}
	default:
		return fmt.Errorf("unknown transport mode: %s", c.Transport.Mode)
	}

	if c.Webhook.AuthToken == "" && c.Webhook.SigningKey == "" {
		return fmt.Errorf("webhook authentication is required: set auth_token or signing_key")
	}

	if c.RateLimit.WindowMax < 0 || c.RateLimit.DailyMax < 0 {
		return fmt.Errorf("rate limit ceilings must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}

	return nil
}
