package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgerd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != defaultListen {
		t.Fatalf("listen = %q", cfg.ListenAddress)
	}
	if cfg.Journal.Driver != "sqlite" || cfg.Journal.DSN != defaultJournalDSN {
		t.Fatalf("journal defaults not applied: %+v", cfg.Journal)
	}
	if cfg.RateLimit.RequestsPerMinute != defaultRequestsMin || cfg.RateLimit.Burst != defaultBurst {
		t.Fatalf("rate limit defaults not applied: %+v", cfg.RateLimit)
	}
	if cfg.LedgerConfig != defaultLedger {
		t.Fatalf("ledger config = %q", cfg.LedgerConfig)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `listen: "127.0.0.1:9000"
env: dev
ledger_config: /etc/pynth/ledger.toml
in_memory: true
journal:
  driver: POSTGRES
  dsn: "postgres://ledger@localhost/journal"
auth:
  jwt_secret: `+testSecret+`
  issuer: pynth-auth
  leeway: 30s
rate_limit:
  requests_per_minute: 120
  burst: 5
exports:
  dir: /var/lib/pynth/exports
logging:
  level: DEBUG
  file: /var/log/ledgerd.log
telemetry:
  endpoint: otel:4318
  traces: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Journal.Driver != "postgres" {
		t.Fatalf("driver = %q", cfg.Journal.Driver)
	}
	if cfg.Auth.Leeway != 30*time.Second {
		t.Fatalf("leeway = %s", cfg.Auth.Leeway)
	}
	if !cfg.InMemory || cfg.RateLimit.Burst != 5 || cfg.Logging.Level != "debug" || !cfg.Telemetry.Traces {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing secret": "listen: \":1\"\n",
		"short secret":   "auth:\n  jwt_secret: short\n",
		"driver":         "journal:\n  driver: mysql\nauth:\n  jwt_secret: " + testSecret + "\n",
		"postgres dsn":   "journal:\n  driver: postgres\nauth:\n  jwt_secret: " + testSecret + "\n",
		"unknown field":  "listen_addr: \":1\"\nauth:\n  jwt_secret: " + testSecret + "\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSecretPrefersEnvironment(t *testing.T) {
	t.Setenv("LEDGERD_TEST_SECRET", strings.Repeat("e", 40))
	cfg := AuthConfig{JWTSecret: testSecret, JWTSecretEnv: "LEDGERD_TEST_SECRET"}
	if got := cfg.Secret(); got != strings.Repeat("e", 40) {
		t.Fatalf("secret = %q", got)
	}
}

func TestWebhookRequiresSecret(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\nwebhooks:\n  endpoint: https://hooks.example/ledger\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "webhooks") {
		t.Fatalf("expected webhook secret error, got %v", err)
	}

	t.Setenv("LEDGERD_WEBHOOK_SECRET", "hook-secret")
	path = writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\nwebhooks:\n  endpoint: https://hooks.example/ledger\n  secret_env: LEDGERD_WEBHOOK_SECRET\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Webhooks.Enabled() || cfg.Webhooks.SigningSecret() != "hook-secret" {
		t.Fatalf("webhook config not resolved: %+v", cfg.Webhooks)
	}
	if cfg.Webhooks.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d", cfg.Webhooks.MaxAttempts)
	}
}
