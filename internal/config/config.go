package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings for the relay.
type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Token the platform must echo during the GET /webhook handshake
	VerifyToken string

	// Panel settings
	AccessToken   string // empty leaves /panel routes open
	PanelURL      string // empty disables outbound echo forwarding
	NotifyTimeout int    // timeout for panel notifications in seconds

	// Mailbox settings
	MailboxTTL        time.Duration
	MailboxCapacity   int
	QueryLimitDefault int
	QueryLimitMax     int
	ContextCacheSize  int
	SweepInterval     time.Duration

	// Redis config (optional, used for rate limiting only)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Rate limiting for /panel routes
	RateLimit  int
	RateWindow time.Duration
}

// fileConfig mirrors the optional YAML layout. Durations are strings in
// time.ParseDuration syntax ("6h", "5m").
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Env      string `yaml:"env"`

	Platform struct {
		VerifyToken string `yaml:"verify_token"`
	} `yaml:"platform"`

	Panel struct {
		URL           string `yaml:"url"`
		AccessToken   string `yaml:"access_token"`
		NotifyTimeout int    `yaml:"notify_timeout"`
	} `yaml:"panel"`

	Mailbox struct {
		TTL              string `yaml:"ttl"`
		Capacity         int    `yaml:"capacity"`
		QueryLimit       int    `yaml:"query_limit"`
		QueryLimitMax    int    `yaml:"query_limit_max"`
		ContextCacheSize int    `yaml:"context_cache_size"`
		SweepInterval    string `yaml:"sweep_interval"`
	} `yaml:"mailbox"`

	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	RateLimit struct {
		Limit  int    `yaml:"limit"`
		Window string `yaml:"window"`
	} `yaml:"rate_limit"`
}

// Load resolves configuration in three layers: built-in defaults, an optional
// YAML file (CONFIG_FILE, default config.yaml), then environment variables.
// Later layers win. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		NotifyTimeout: 10,

		MailboxTTL:        6 * time.Hour,
		MailboxCapacity:   500,
		QueryLimitDefault: 50,
		QueryLimitMax:     500,
		ContextCacheSize:  256,
		SweepInterval:     5 * time.Minute,

		// Redis defaults
		RedisHost: "localhost",
		RedisPort: 6379,
		RedisDB:   0,

		RateLimit:  120,
		RateWindow: time.Minute,
	}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.Env != "" {
		c.Env = fc.Env
	}
	if fc.Platform.VerifyToken != "" {
		c.VerifyToken = fc.Platform.VerifyToken
	}
	if fc.Panel.URL != "" {
		c.PanelURL = fc.Panel.URL
	}
	if fc.Panel.AccessToken != "" {
		c.AccessToken = fc.Panel.AccessToken
	}
	if fc.Panel.NotifyTimeout != 0 {
		c.NotifyTimeout = fc.Panel.NotifyTimeout
	}

	if fc.Mailbox.TTL != "" {
		d, err := time.ParseDuration(fc.Mailbox.TTL)
		if err != nil {
			return fmt.Errorf("invalid mailbox.ttl: %w", err)
		}
		c.MailboxTTL = d
	}
	if fc.Mailbox.Capacity != 0 {
		c.MailboxCapacity = fc.Mailbox.Capacity
	}
	if fc.Mailbox.QueryLimit != 0 {
		c.QueryLimitDefault = fc.Mailbox.QueryLimit
	}
	if fc.Mailbox.QueryLimitMax != 0 {
		c.QueryLimitMax = fc.Mailbox.QueryLimitMax
	}
	if fc.Mailbox.ContextCacheSize != 0 {
		c.ContextCacheSize = fc.Mailbox.ContextCacheSize
	}
	if fc.Mailbox.SweepInterval != "" {
		d, err := time.ParseDuration(fc.Mailbox.SweepInterval)
		if err != nil {
			return fmt.Errorf("invalid mailbox.sweep_interval: %w", err)
		}
		c.SweepInterval = d
	}

	if fc.Redis.Host != "" {
		c.RedisHost = fc.Redis.Host
	}
	if fc.Redis.Port != 0 {
		c.RedisPort = fc.Redis.Port
	}
	if fc.Redis.Password != "" {
		c.RedisPassword = fc.Redis.Password
	}
	if fc.Redis.DB != 0 {
		c.RedisDB = fc.Redis.DB
	}

	if fc.RateLimit.Limit != 0 {
		c.RateLimit = fc.RateLimit.Limit
	}
	if fc.RateLimit.Window != "" {
		d, err := time.ParseDuration(fc.RateLimit.Window)
		if err != nil {
			return fmt.Errorf("invalid rate_limit.window: %w", err)
		}
		c.RateWindow = d
	}

	return nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		c.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		c.Env = env
	}

	if token := os.Getenv("VERIFY_TOKEN"); token != "" {
		c.VerifyToken = token
	}

	if token := os.Getenv("ACCESS_TOKEN"); token != "" {
		c.AccessToken = token
	}

	if url := os.Getenv("PANEL_URL"); url != "" {
		c.PanelURL = url
	}

	if timeout := os.Getenv("NOTIFY_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_TIMEOUT: %w", err)
		}
		c.NotifyTimeout = t
	}

	if ttl := os.Getenv("MAILBOX_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("invalid MAILBOX_TTL: %w", err)
		}
		c.MailboxTTL = d
	}

	if capacity := os.Getenv("MAILBOX_CAPACITY"); capacity != "" {
		n, err := strconv.Atoi(capacity)
		if err != nil {
			return fmt.Errorf("invalid MAILBOX_CAPACITY: %w", err)
		}
		c.MailboxCapacity = n
	}

	if limit := os.Getenv("QUERY_LIMIT_DEFAULT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return fmt.Errorf("invalid QUERY_LIMIT_DEFAULT: %w", err)
		}
		c.QueryLimitDefault = n
	}

	if limit := os.Getenv("QUERY_LIMIT_MAX"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return fmt.Errorf("invalid QUERY_LIMIT_MAX: %w", err)
		}
		c.QueryLimitMax = n
	}

	if size := os.Getenv("CONTEXT_CACHE_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return fmt.Errorf("invalid CONTEXT_CACHE_SIZE: %w", err)
		}
		c.ContextCacheSize = n
	}

	if interval := os.Getenv("SWEEP_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
		}
		c.SweepInterval = d
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		c.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		c.RedisDB = d
	}

	if limit := os.Getenv("RATE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT: %w", err)
		}
		c.RateLimit = n
	}

	if window := os.Getenv("RATE_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return fmt.Errorf("invalid RATE_WINDOW: %w", err)
		}
		c.RateWindow = d
	}

	return nil
}
