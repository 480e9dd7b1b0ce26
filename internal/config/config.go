package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/mailengine/internal/domain"
)

// Config holds all configuration for the mail engine process
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Pool      PoolConfig      `yaml:"pool"`
	Providers ProvidersConfig `yaml:"providers"`
	Bulk      BulkConfig      `yaml:"bulk"`
	Settings  SettingsConfig  `yaml:"settings"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// RedisConfig holds the bulk queue connection
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DatabaseConfig holds the settings store connection
type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// PoolConfig bounds pooled SMTP transports
type PoolConfig struct {
	MaxConnections      int `yaml:"max_connections"`
	MaxMessages         int `yaml:"max_messages"`
	RateLimit           int `yaml:"rate_limit"` // messages per RateDeltaMillis
	RateDeltaMillis     int `yaml:"rate_delta_ms"`
	IdleTimeoutSeconds  int `yaml:"idle_timeout_seconds"`
	SweepIntervalSecs   int `yaml:"sweep_interval_seconds"`
	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`
	GreetTimeoutSeconds int `yaml:"greeting_timeout_seconds"`
	SocketTimeoutSecs   int `yaml:"socket_timeout_seconds"`
}

// IdleTimeout returns the idle eviction threshold
func (c PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// SweepInterval returns the idle sweep period
func (c PoolConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// RateDelta returns the window the rate limit applies to
func (c PoolConfig) RateDelta() time.Duration {
	return time.Duration(c.RateDeltaMillis) * time.Millisecond
}

// ProvidersConfig holds HTTP provider endpoints and client behaviour
type ProvidersConfig struct {
	GraphAuthority   string `yaml:"graph_authority"`
	GraphBaseURL     string `yaml:"graph_base_url"`
	ResendBaseURL    string `yaml:"resend_base_url"`
	BrevoBaseURL     string `yaml:"brevo_base_url"`
	SESEndpoint      string `yaml:"ses_endpoint"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	MaxRetries       int    `yaml:"max_retries"`
	BatchConcurrency int    `yaml:"batch_concurrency"`
}

// Timeout returns the configured timeout as a duration
func (c ProvidersConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BulkConfig holds bulk worker settings
type BulkConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Workers             int    `yaml:"workers"`
	PollIntervalMillis  int    `yaml:"poll_interval_ms"`
	LeaseSeconds        int    `yaml:"lease_seconds"`
	RecoveryIntervalSec int    `yaml:"recovery_interval_seconds"`
	DefaultWindowMins   int    `yaml:"default_window_minutes"`
	ProviderRatePerMin  int    `yaml:"provider_rate_per_minute"`
	TestRecipient       string `yaml:"test_recipient"`
}

// PollInterval returns the idle poll period of a bulk worker
func (c BulkConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// Lease returns how long a claimed job stays invisible
func (c BulkConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// RecoveryInterval returns the stale lease scan period
func (c BulkConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSec) * time.Second
}

// SettingsConfig selects where persisted email settings come from
type SettingsConfig struct {
	Source string `yaml:"source"` // "file" or "postgres"
	Path   string `yaml:"path"`
	OrgID  string `yaml:"org_id"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// StorageConfig holds attachment storage configuration
type StorageConfig struct {
	AWSRegion   string `yaml:"aws_region"`
	AWSProfile  string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	AllowedRoot string `yaml:"allowed_root"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{Log: LogConfig{RedactPII: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied, for commands
// that run without a config file.
func Default() *Config {
	cfg := Config{Log: LogConfig{RedactPII: true}}
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "mailengine"
	}
	// Pool defaults
	if cfg.Pool.MaxConnections == 0 {
		cfg.Pool.MaxConnections = 5
	}
	if cfg.Pool.MaxMessages == 0 {
		cfg.Pool.MaxMessages = 100
	}
	if cfg.Pool.RateLimit == 0 {
		cfg.Pool.RateLimit = 5
	}
	if cfg.Pool.RateDeltaMillis == 0 {
		cfg.Pool.RateDeltaMillis = 1000
	}
	if cfg.Pool.IdleTimeoutSeconds == 0 {
		cfg.Pool.IdleTimeoutSeconds = 300
	}
	if cfg.Pool.SweepIntervalSecs == 0 {
		cfg.Pool.SweepIntervalSecs = 300
	}
	if cfg.Pool.DialTimeoutSeconds == 0 {
		cfg.Pool.DialTimeoutSeconds = 10
	}
	if cfg.Pool.GreetTimeoutSeconds == 0 {
		cfg.Pool.GreetTimeoutSeconds = 10
	}
	if cfg.Pool.SocketTimeoutSecs == 0 {
		cfg.Pool.SocketTimeoutSecs = 10
	}
	// Provider endpoints
	if cfg.Providers.GraphAuthority == "" {
		cfg.Providers.GraphAuthority = "https://login.microsoftonline.com"
	}
	if cfg.Providers.GraphBaseURL == "" {
		cfg.Providers.GraphBaseURL = "https://graph.microsoft.com"
	}
	if cfg.Providers.ResendBaseURL == "" {
		cfg.Providers.ResendBaseURL = "https://api.resend.com"
	}
	if cfg.Providers.BrevoBaseURL == "" {
		cfg.Providers.BrevoBaseURL = "https://api.brevo.com"
	}
	if cfg.Providers.TimeoutSeconds == 0 {
		cfg.Providers.TimeoutSeconds = 30
	}
	if cfg.Providers.MaxRetries == 0 {
		cfg.Providers.MaxRetries = 3
	}
	if cfg.Providers.BatchConcurrency == 0 {
		cfg.Providers.BatchConcurrency = cfg.Pool.MaxConnections
	}
	// Bulk defaults
	if cfg.Bulk.Workers == 0 {
		cfg.Bulk.Workers = 2
	}
	if cfg.Bulk.PollIntervalMillis == 0 {
		cfg.Bulk.PollIntervalMillis = 500
	}
	if cfg.Bulk.LeaseSeconds == 0 {
		cfg.Bulk.LeaseSeconds = 120
	}
	if cfg.Bulk.RecoveryIntervalSec == 0 {
		cfg.Bulk.RecoveryIntervalSec = 60
	}
	if cfg.Bulk.DefaultWindowMins == 0 {
		cfg.Bulk.DefaultWindowMins = 60
	}
	if cfg.Bulk.ProviderRatePerMin == 0 {
		cfg.Bulk.ProviderRatePerMin = 60
	}
	if cfg.Settings.Source == "" {
		cfg.Settings.Source = "file"
	}
	if cfg.Settings.Path == "" {
		cfg.Settings.Path = "email_settings.yaml"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// A missing config file is not an error; defaults are used instead.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("BULK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bulk.Enabled = b
		}
	}
	if v := os.Getenv("EMAIL_SETTINGS_SOURCE"); v != "" {
		cfg.Settings.Source = v
	}
	if v := os.Getenv("EMAIL_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}
	if v := os.Getenv("EMAIL_SETTINGS_ORG_ID"); v != "" {
		cfg.Settings.OrgID = v
	}
	overrideInt(&cfg.Pool.MaxConnections, "POOL_MAX_CONNECTIONS")
	overrideInt(&cfg.Pool.MaxMessages, "POOL_MAX_MESSAGES")
	overrideInt(&cfg.Pool.IdleTimeoutSeconds, "POOL_IDLE_TIMEOUT_SECONDS")
	overrideInt(&cfg.Bulk.Workers, "BULK_WORKERS")
}

func overrideInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}

// LoadSettingsFile reads persisted email settings from a YAML document.
func LoadSettingsFile(path string) (*domain.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var s domain.Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return &s, nil
}
