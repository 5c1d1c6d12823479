package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 30s
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  file: /var/log/starmark.log
extract:
  jina:
    api_key: jina_abc
  gateway:
    settle_domains: ["example.org"]
    settle_delay: 5s
  backend_rps: 4
ratelimit:
  window: 2m
  max: 25
store:
  backend: sqlite
  sqlite_path: /tmp/starmark.db
blob:
  backend: minio
  minio:
    endpoint: localhost:9000
    bucket: shots
settings:
  locale: en-US
  provider: ollama
batch:
  schedule: "@every 10m"
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.RequestTimeout != 30*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development || cfg.Logging.File != "/var/log/starmark.log" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.Extract.Jina.APIKey != "jina_abc" || cfg.Extract.BackendRPS != 4 {
		t.Fatalf("expected extract overrides, got %+v", cfg.Extract)
	}
	if len(cfg.Extract.Gateway.SettleDomains) != 1 || cfg.Extract.Gateway.SettleDelay != 5*time.Second {
		t.Fatalf("expected gateway overrides, got %+v", cfg.Extract.Gateway)
	}
	if cfg.RateLimit.Window != 2*time.Minute || cfg.RateLimit.Max != 25 {
		t.Fatalf("expected ratelimit overrides, got %+v", cfg.RateLimit)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Blob.Minio.Bucket != "shots" {
		t.Fatalf("expected backend overrides, got %+v %+v", cfg.Store, cfg.Blob)
	}
	if cfg.Settings.Locale != "en-US" || cfg.Settings.Provider != "ollama" {
		t.Fatalf("expected settings overrides, got %+v", cfg.Settings)
	}
	// Defaults survive alongside overrides.
	if cfg.Settings.Model != "gpt-4o-mini" || cfg.Settings.FirecrawlKey == "" {
		t.Fatalf("expected settings defaults, got %+v", cfg.Settings)
	}
	if cfg.Batch.Schedule != "@every 10m" {
		t.Fatalf("expected batch schedule, got %q", cfg.Batch.Schedule)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Store.Backend != "memory" || cfg.Blob.Backend != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RateLimit.Window != time.Minute || cfg.RateLimit.Max != 10 {
		t.Fatalf("unexpected ratelimit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Settings.Locale != "zh-CN" || !cfg.Settings.ScreenshotCache {
		t.Fatalf("unexpected settings defaults: %+v", cfg.Settings)
	}
	if cfg.Extract.Gateway.SettleDomains != nil {
		t.Fatalf("gateway defaults belong to the extract package, got %v", cfg.Extract.Gateway.SettleDomains)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	t.Parallel()

	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
}

func TestLoadDotEnvSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("STARMARK_DOTENV_CHECK=loaded\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("STARMARK_DOTENV_CHECK") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("STARMARK_DOTENV_CHECK"); got != "loaded" {
		t.Fatalf("expected variable from env file, got %q", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "empty window", mutate: func(c *Config) { c.RateLimit.Max = 0 }, want: "ratelimit"},
		{name: "missing jina endpoint", mutate: func(c *Config) { c.Extract.Jina.Endpoint = "" }, want: "extract.jina.endpoint"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Backend = "mongo" }, want: "store.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = "postgres" }, want: "store.dsn"},
		{name: "unknown blob", mutate: func(c *Config) { c.Blob.Backend = "s3" }, want: "blob.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Blob.Backend = "gcs" }, want: "blob.gcs_bucket"},
		{name: "unknown screenshot provider", mutate: func(c *Config) { c.Screenshot.Provider = "x" }, want: "screenshot.provider"},
		{name: "gcp without project", mutate: func(c *Config) { c.PubSub.Backend = "gcp" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
