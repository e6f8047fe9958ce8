package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen      = ":8650"
	defaultLedger      = "config/ledger.toml"
	defaultJournalDSN  = "file:ledgerd-journal.db?_pragma=busy_timeout(5000)"
	defaultRequestsMin = 600
	defaultBurst       = 60
)

// Config captures the runtime settings for the ledger daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Env           string          `yaml:"env"`
	LedgerConfig  string          `yaml:"ledger_config"`
	DataDir       string          `yaml:"data_dir"`
	InMemory      bool            `yaml:"in_memory"`
	Journal       JournalConfig   `yaml:"journal"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Exports       ExportConfig    `yaml:"exports"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Webhooks      WebhookConfig   `yaml:"webhooks"`
}

// JournalConfig selects the SQL backend for the event journal. Driver is
// "sqlite" or "postgres".
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig configures HS256 bearer tokens. The token subject is the caller
// address.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTSecretEnv string        `yaml:"jwt_secret_env"`
	Issuer       string        `yaml:"issuer"`
	Leeway       time.Duration `yaml:"leeway"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// WebhookConfig enables signed delivery of selected ledger events. An empty
// endpoint disables delivery.
type WebhookConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Secret      string        `yaml:"secret"`
	SecretEnv   string        `yaml:"secret_env"`
	Topics      []string      `yaml:"topics"`
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// Enabled reports whether an endpoint is configured.
func (cfg WebhookConfig) Enabled() bool {
	return cfg.Endpoint != ""
}

// SigningSecret resolves the HMAC secret, preferring the environment.
func (cfg WebhookConfig) SigningSecret() string {
	if name := strings.TrimSpace(cfg.SecretEnv); name != "" {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return cfg.Secret
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Secret resolves the JWT signing secret, preferring the environment variable
// when one is named.
func (cfg AuthConfig) Secret() string {
	if name := strings.TrimSpace(cfg.JWTSecretEnv); name != "" {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return cfg.JWTSecret
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Env = strings.TrimSpace(cfg.Env)
	cfg.LedgerConfig = strings.TrimSpace(cfg.LedgerConfig)
	if cfg.LedgerConfig == "" {
		cfg.LedgerConfig = defaultLedger
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == "sqlite" {
		cfg.Journal.DSN = defaultJournalDSN
	}
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRequestsMin
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	cfg.Exports.Dir = strings.TrimSpace(cfg.Exports.Dir)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.Webhooks.Endpoint = strings.TrimSpace(cfg.Webhooks.Endpoint)
	if cfg.Webhooks.MaxAttempts <= 0 {
		cfg.Webhooks.MaxAttempts = 5
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("journal: unsupported driver %q", cfg.Journal.Driver)
	}
	if cfg.Journal.DSN == "" {
		return fmt.Errorf("journal: dsn required for %s", cfg.Journal.Driver)
	}
	if strings.TrimSpace(cfg.Auth.Secret()) == "" {
		return fmt.Errorf("auth: jwt_secret or jwt_secret_env must be configured")
	}
	if len(cfg.Auth.Secret()) < 32 {
		return fmt.Errorf("auth: jwt secret must be at least 32 bytes")
	}
	if cfg.Auth.Leeway < 0 {
		return fmt.Errorf("auth: leeway must not be negative")
	}
	if cfg.Webhooks.Enabled() && strings.TrimSpace(cfg.Webhooks.SigningSecret()) == "" {
		return fmt.Errorf("webhooks: secret or secret_env required when endpoint is set")
	}
	return nil
}
