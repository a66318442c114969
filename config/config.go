/*
Package config loads the payout engine configuration.

PURPOSE:
  One Config struct for every binary. Values are layered with koanf:

    1. Defaults     - defaultConfig() below
    2. Config file  - optional YAML (CONFIG_PATH or ./config.yaml)
    3. Environment  - PAYOUT_ prefix, "__" separates sections

  PAYOUT_PROCESSOR__SECRET_KEY  -> processor.secret_key
  PAYOUT_SCHEDULER__ENABLED     -> scheduler.enabled
  PAYOUT_SERVER__CORS_ORIGINS   -> server.cors_origins (comma separated)

VALIDATION:
  Validate() runs after loading. Anything that would make the engine move
  money wrongly (unknown processor environment, missing credentials, a live
  key in sandbox, a fee outside 0-100%) fails startup.

SEE ALSO:
  - cmd/server/main.go: Builds the object graph from a Config
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names.
const EnvPrefix = "PAYOUT_"

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/payout-engine/config.yaml",
}

// =============================================================================
// CONFIG
// =============================================================================

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Processor ProcessorConfig `koanf:"processor"`
	Payout    PayoutConfig    `koanf:"payout"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	OperatorToken   string        `koanf:"operator_token"` // empty disables bearer auth
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"` // requests per window per client, 0 disables
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	EnableScenarios bool          `koanf:"enable_scenarios"` // demo loader, never in live
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite or memory
	Path   string `koanf:"path"`
}

type ProcessorConfig struct {
	Environment       string        `koanf:"environment"` // live, sandbox or memory
	BaseURL           string        `koanf:"base_url"`
	SecretKey         string        `koanf:"secret_key"`
	Currency          string        `koanf:"currency"`
	Country           string        `koanf:"country"`
	CallTimeout       time.Duration `koanf:"call_timeout"`
	MaxRetries        uint64        `koanf:"max_retries"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	BreakerFailures   uint32        `koanf:"breaker_failures"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout"`
	TopUpBuffer       int64         `koanf:"top_up_buffer"` // minor units, sandbox only
	TopUpSettleDelay  time.Duration `koanf:"top_up_settle_delay"`
}

type PayoutConfig struct {
	FeeBPS                 int64  `koanf:"fee_bps"`
	MaxConcurrentTransfers int    `koanf:"max_concurrent_transfers"`
	Policy                 string `koanf:"policy"` // partial_aware or all_or_nothing
}

type SchedulerConfig struct {
	Enabled             bool          `koanf:"enabled"`
	CheckInterval       time.Duration `koanf:"check_interval"`
	RunAtHour           int           `koanf:"run_at_hour"` // UTC hour after which the daily pass may start
	MaxConcurrentVenues int           `koanf:"max_concurrent_venues"`
	VenueTimeout        time.Duration `koanf:"venue_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute, // executions fan out to the processor
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       120,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "payouts.db",
		},
		Processor: ProcessorConfig{
			Environment:       "memory",
			BaseURL:           "https://api.stripe.com",
			Currency:          "aud",
			Country:           "AU",
			CallTimeout:       15 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 20,
			Burst:             5,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
			TopUpBuffer:       1000,
			TopUpSettleDelay:  2 * time.Second,
		},
		Payout: PayoutConfig{
			FeeBPS:                 500,
			MaxConcurrentTransfers: 4,
			Policy:                 "partial_aware",
		},
		Scheduler: SchedulerConfig{
			Enabled:             false,
			CheckInterval:       10 * time.Minute,
			RunAtHour:           2,
			MaxConcurrentVenues: 4,
			VenueTimeout:        5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads defaults, then the YAML file at path (or the first default path
// found when empty), then the environment, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := splitList(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps PAYOUT_PROCESSOR__SECRET_KEY to processor.secret_key.
func envKey(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// splitList turns a comma separated env value into a slice.
func splitList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

var errInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalid, fmt.Sprintf(format, args...))
}

// Validate checks that the configuration is safe to run with.
func (c *Config) Validate() error {
	if err := c.validateProcessor(); err != nil {
		return err
	}
	if err := c.validatePayout(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return invalid("database.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return invalid("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Server.EnableScenarios && c.Processor.Environment == "live" {
		return invalid("server.enable_scenarios is not allowed with the live processor")
	}
	return nil
}

func (c *Config) validateProcessor() error {
	p := c.Processor
	switch p.Environment {
	case "memory":
		return nil
	case "live", "sandbox":
	default:
		return invalid("processor.environment must be live, sandbox or memory, got %q", p.Environment)
	}

	if p.SecretKey == "" {
		return invalid("processor.secret_key is required for the %s environment", p.Environment)
	}
	if p.Environment == "sandbox" && strings.HasPrefix(p.SecretKey, "sk_live_") {
		return invalid("a live secret key cannot be used in the sandbox environment")
	}
	if p.Environment == "live" && strings.HasPrefix(p.SecretKey, "sk_test_") {
		return invalid("a test secret key cannot be used in the live environment")
	}
	if p.Currency == "" {
		return invalid("processor.currency is required")
	}
	if p.CallTimeout <= 0 {
		return invalid("processor.call_timeout must be positive")
	}
	return nil
}

func (c *Config) validatePayout() error {
	if c.Payout.FeeBPS < 1 || c.Payout.FeeBPS > 10000 {
		return invalid("payout.fee_bps must be between 1 and 10000, got %d", c.Payout.FeeBPS)
	}
	if c.Payout.MaxConcurrentTransfers <= 0 {
		return invalid("payout.max_concurrent_transfers must be positive")
	}
	switch c.Payout.Policy {
	case "partial_aware", "all_or_nothing":
	default:
		return invalid("payout.policy must be partial_aware or all_or_nothing, got %q", c.Payout.Policy)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	s := c.Scheduler
	if !s.Enabled {
		return nil
	}
	if s.CheckInterval <= 0 {
		return invalid("scheduler.check_interval must be positive")
	}
	if s.RunAtHour < 0 || s.RunAtHour > 23 {
		return invalid("scheduler.run_at_hour must be 0-23, got %d", s.RunAtHour)
	}
	if s.MaxConcurrentVenues <= 0 {
		return invalid("scheduler.max_concurrent_venues must be positive")
	}
	if s.VenueTimeout <= 0 {
		return invalid("scheduler.venue_timeout must be positive")
	}
	return nil
}
