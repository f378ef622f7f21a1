// Package config provides configuration management for the application.
// Process settings come from environment variables (with optional .env
// loading); the provider fleet and budget limits come from a YAML file
// that supports ${VAR} and ${VAR:-default} expansion and can be reloaded
// at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"datacache/internal/budget"
)

// Config holds the application configuration.
type Config struct {
	Server  ServerConfig
	Cache   CacheConfig
	Budget  BudgetConfig
	Usage   UsageConfig
	Monitor MonitorConfig
	Logging LoggingConfig

	// ProvidersPath is the YAML file holding provider specs and budget
	// overrides. Empty disables file loading.
	ProvidersPath string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	BodySizeLimit  string
	MetricsEnabled bool
}

// CacheConfig holds tiered cache configuration.
type CacheConfig struct {
	MaxL1Entries     int
	PromoteThreshold int

	// RedisURL enables the shared tier when non-empty.
	RedisURL      string
	KeyPrefix     string
	MaxValueBytes int
}

// BudgetConfig holds spending limits in dollars per window. The warning
// threshold is expressed as a percent (e.g. 80) in the environment and the
// provider file.
type BudgetConfig struct {
	Hourly              float64 `yaml:"hourly"`
	Daily               float64 `yaml:"daily"`
	Monthly             float64 `yaml:"monthly"`
	WarningThresholdPct float64 `yaml:"warning_threshold_pct"`
	BlockOnDaily        bool    `yaml:"block_on_daily"`
}

// Limits converts the configuration into tracker limits. The percent-based
// warning threshold becomes the fraction the tracker compares against its
// window spend ratios.
func (b BudgetConfig) Limits() budget.Limits {
	return budget.Limits{
		Hourly:              b.Hourly,
		Daily:               b.Daily,
		Monthly:             b.Monthly,
		WarningThresholdPct: b.WarningThresholdPct / 100,
		BlockOnDaily:        b.BlockOnDaily,
	}
}

// UsageConfig holds fetch ledger configuration.
type UsageConfig struct {
	Enabled       bool
	DBPath        string
	BufferSize    int
	FlushInterval time.Duration
	RetentionDays int
}

// MonitorConfig holds alerting configuration.
type MonitorConfig struct {
	Enabled     bool
	Interval    time.Duration
	QuietPeriod time.Duration
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			BodySizeLimit:  getEnv("BODY_SIZE_LIMIT", "1M"),
			MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		},
		Cache: CacheConfig{
			MaxL1Entries:     getEnvInt("CACHE_L1_MAX_ENTRIES", 1000),
			PromoteThreshold: getEnvInt("CACHE_PROMOTE_THRESHOLD", 10),
			RedisURL:         getEnv("REDIS_URL", ""),
			KeyPrefix:        getEnv("CACHE_KEY_PREFIX", "datacache:"),
			MaxValueBytes:    getEnvInt("CACHE_MAX_VALUE_BYTES", 512*1024),
		},
		Budget: BudgetConfig{
			Hourly:              getEnvFloat("BUDGET_HOURLY", 1.0),
			Daily:               getEnvFloat("BUDGET_DAILY", 20.0),
			Monthly:             getEnvFloat("BUDGET_MONTHLY", 500.0),
			WarningThresholdPct: getEnvFloat("BUDGET_WARNING_PCT", 80),
			BlockOnDaily:        getEnvBool("BUDGET_BLOCK_ON_DAILY", false),
		},
		Usage: UsageConfig{
			Enabled:       getEnvBool("USAGE_ENABLED", true),
			DBPath:        getEnv("USAGE_DB_PATH", "datacache.db"),
			BufferSize:    getEnvInt("USAGE_BUFFER_SIZE", 1000),
			FlushInterval: getEnvDuration("USAGE_FLUSH_INTERVAL", 5*time.Second),
			RetentionDays: getEnvInt("USAGE_RETENTION_DAYS", 30),
		},
		Monitor: MonitorConfig{
			Enabled:     getEnvBool("MONITOR_ENABLED", true),
			Interval:    getEnvDuration("MONITOR_INTERVAL", 30*time.Second),
			QuietPeriod: getEnvDuration("MONITOR_QUIET_PERIOD", 2*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		ProvidersPath: getEnv("PROVIDERS_FILE", "providers.yaml"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Cache.MaxL1Entries <= 0 {
		return fmt.Errorf("CACHE_L1_MAX_ENTRIES must be positive, got %d", c.Cache.MaxL1Entries)
	}
	if c.Budget.Hourly <= 0 {
		return fmt.Errorf("BUDGET_HOURLY must be positive, got %g", c.Budget.Hourly)
	}
	if c.Budget.WarningThresholdPct <= 0 || c.Budget.WarningThresholdPct > 100 {
		return fmt.Errorf("BUDGET_WARNING_PCT must be in (0, 100], got %g", c.Budget.WarningThresholdPct)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// getEnv returns the environment variable value or fallback when unset or
// empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
