package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Fipe     FipeConfig     `mapstructure:"fipe"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
}

// LogConfig holds logrus settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// FipeConfig holds FIPE catalog API configuration
type FipeConfig struct {
	// APIVersion selects the active wire format: "v1" (legacy) or "v2"
	APIVersion    string `mapstructure:"api_version"`
	BaseURL       string `mapstructure:"base_url"`
	LegacyBaseURL string `mapstructure:"legacy_base_url"`

	// Token is sent as X-Subscription-Token when set
	Token string `mapstructure:"token"`

	Timeout                 time.Duration `mapstructure:"timeout"`
	RetryBaseDelay          time.Duration `mapstructure:"retry_base_delay"`
	AnonymousRetryBaseDelay time.Duration `mapstructure:"anonymous_retry_base_delay"`
	MaxRequestsPerSecond    int           `mapstructure:"max_requests_per_second"`
	Proxies                 []string      `mapstructure:"proxies"`
}

// Legacy reports whether the v1 wire format is active
func (c FipeConfig) Legacy() bool {
	return strings.EqualFold(c.APIVersion, "v1")
}

// ActiveBaseURL returns the base URL matching the active version
func (c FipeConfig) ActiveBaseURL() string {
	if c.Legacy() {
		return strings.TrimRight(c.LegacyBaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DSN builds the pgx connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// RedisConfig holds Redis connection details for the refresh task streams
type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	Database      int    `mapstructure:"database"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	MinIdleTime   int    `mapstructure:"min_idle_time"` // seconds before a pending task is claimed again
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RefreshConfig lists proposals whose reference values are re-resolved on start
type RefreshConfig struct {
	ProposalIDs []int64 `mapstructure:"proposal_ids"`
	MaxWorkers  int     `mapstructure:"max_workers"`

	// MaxRetries bounds how often a queued refresh that hit a rate limit or
	// network failure is put back on the retry stream
	MaxRetries int `mapstructure:"max_retries"`
}

// Load loads configuration from an optional config.yaml with environment variable overrides
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom loads configuration looking for config.yaml in dir
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Fipe.APIVersion) {
	case "v1", "v2":
	default:
		return fmt.Errorf("fipe.api_version must be v1 or v2, got %q", c.Fipe.APIVersion)
	}
	if c.Fipe.ActiveBaseURL() == "" {
		return fmt.Errorf("no base url configured for fipe api %s", c.Fipe.APIVersion)
	}
	if c.Refresh.MaxWorkers < 1 {
		c.Refresh.MaxWorkers = 1
	}
	if c.Redis.Enabled && c.Redis.MinIdleTime < 1 {
		return fmt.Errorf("redis.min_idle_time must be positive, got %d", c.Redis.MinIdleTime)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("fipe.api_version", "v2")
	v.SetDefault("fipe.base_url", "https://fipe.parallelum.com.br/api/v2")
	v.SetDefault("fipe.legacy_base_url", "https://parallelum.com.br/fipe/api/v1")
	v.SetDefault("fipe.token", "")
	v.SetDefault("fipe.timeout", 30*time.Second)
	v.SetDefault("fipe.retry_base_delay", 200*time.Millisecond)
	v.SetDefault("fipe.anonymous_retry_base_delay", 500*time.Millisecond)
	v.SetDefault("fipe.max_requests_per_second", 0)
	v.SetDefault("fipe.proxies", []string{})

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "proposals")
	v.SetDefault("database.user", "proposals_user")
	v.SetDefault("database.password", "proposals_pass")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.consumer_group", "fipe_refresh")
	v.SetDefault("redis.min_idle_time", 120)

	v.SetDefault("refresh.proposal_ids", []int64{})
	v.SetDefault("refresh.max_workers", 4)
	v.SetDefault("refresh.max_retries", 3)
}
