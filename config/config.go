// Package config loads callguard settings from CALLGUARD_* environment
// variables, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/jonwraymond/callguard/cache"
	"github.com/jonwraymond/callguard/observe"
	"github.com/jonwraymond/callguard/resilience"
)

// Prefix is prepended to every environment variable name.
const Prefix = "CALLGUARD"

// Config holds all callguard configuration.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"callguard"`
	Version     string `envconfig:"VERSION" default:"dev"`

	Log     LogConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Cache   CacheConfig
	Errors  ErrorsConfig
	Breaker BreakerConfig
	Health  HealthConfig
}

// LogConfig is read from CALLGUARD_LOG_*.
type LogConfig struct {
	Enabled bool   `envconfig:"ENABLED" default:"true"`
	Level   string `envconfig:"LEVEL" default:"info"`
}

// TracingConfig is read from CALLGUARD_TRACING_*.
type TracingConfig struct {
	Enabled   bool    `envconfig:"ENABLED" default:"false"`
	Exporter  string  `envconfig:"EXPORTER" default:"none"`
	SamplePct float64 `envconfig:"SAMPLE_PCT" default:"1.0"`
}

// MetricsConfig is read from CALLGUARD_METRICS_*.
type MetricsConfig struct {
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
	Exporter string `envconfig:"EXPORTER" default:"none"`
}

// CacheConfig is read from CALLGUARD_CACHE_*. Named caches live in
// subdirectories of Dir.
type CacheConfig struct {
	Strategy      string        `envconfig:"STRATEGY" default:"hybrid"`
	Dir           string        `envconfig:"DIR" default:".cache"`
	MaxEntries    int           `envconfig:"MAX_ENTRIES" default:"1000"`
	DefaultTTL    time.Duration `envconfig:"DEFAULT_TTL" default:"1h"`
	MaxTTL        time.Duration `envconfig:"MAX_TTL" default:"24h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
}

// ErrorsConfig is read from CALLGUARD_ERRORS_*.
type ErrorsConfig struct {
	LogDir    string        `envconfig:"LOG_DIR" default:"error_logs"`
	RetryUnit time.Duration `envconfig:"RETRY_UNIT" default:"1s"`

	// AlertWebhookURL may be a secret reference such as
	// secretref:env:SLACK_WEBHOOK_URL. Empty disables alerts.
	AlertWebhookURL string `envconfig:"ALERT_WEBHOOK_URL"`
	AlertUsername   string `envconfig:"ALERT_USERNAME" default:"callguard"`
}

// BreakerConfig is read from CALLGUARD_BREAKER_*.
type BreakerConfig struct {
	FailureThreshold int           `envconfig:"FAILURE_THRESHOLD" default:"5"`
	OpenTimeout      time.Duration `envconfig:"OPEN_TIMEOUT" default:"60s"`
}

// HealthConfig is read from CALLGUARD_HEALTH_*.
type HealthConfig struct {
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"10s"`
	CacheMinHitRatio  float64       `envconfig:"CACHE_MIN_HIT_RATIO" default:"0"`
	DiskWarningBytes  int64         `envconfig:"DISK_WARNING_BYTES" default:"0"`
	DiskCriticalBytes int64         `envconfig:"DISK_CRITICAL_BYTES" default:"0"`
}

// Load reads dotenv files, then the environment, and validates the result.
// Variables already set in the environment win over dotenv values. Missing
// dotenv files are ignored; with no arguments ".env" is tried.
func Load(dotenv ...string) (Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics on error.
func MustLoad(dotenv ...string) Config {
	cfg, err := Load(dotenv...)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	obs := c.Observe()
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cache.ParseStrategy(c.Cache.Strategy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("%w: cache max entries %d", ErrInvalid, c.Cache.MaxEntries)
	}
	if c.Cache.DefaultTTL < 0 || c.Cache.MaxTTL < 0 {
		return fmt.Errorf("%w: cache TTLs must not be negative", ErrInvalid)
	}
	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		return fmt.Errorf("%w: cache default TTL %v exceeds max TTL %v", ErrInvalid, c.Cache.DefaultTTL, c.Cache.MaxTTL)
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.OpenTimeout < 0 {
		return fmt.Errorf("%w: breaker settings must not be negative", ErrInvalid)
	}
	if c.Health.CacheMinHitRatio < 0 || c.Health.CacheMinHitRatio > 1 {
		return fmt.Errorf("%w: health cache hit ratio must be between 0 and 1", ErrInvalid)
	}
	return nil
}

// ErrInvalid indicates an out-of-range setting.
var ErrInvalid = errors.New("config: invalid setting")

// Observe returns the telemetry configuration.
func (c Config) Observe() observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     c.Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Tracing.Enabled,
			Exporter:  c.Tracing.Exporter,
			SamplePct: c.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Metrics.Enabled,
			Exporter: c.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: c.Log.Enabled,
			Level:   c.Log.Level,
		},
	}
}

// CachePolicy returns the TTL policy shared by named caches.
func (c Config) CachePolicy() cache.Policy {
	return cache.Policy{DefaultTTL: c.Cache.DefaultTTL, MaxTTL: c.Cache.MaxTTL}
}

// BreakerDefaults returns the thresholds of registry-created breakers.
func (c Config) BreakerDefaults() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		OpenTimeout:      c.Breaker.OpenTimeout,
	}
}
