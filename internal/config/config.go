// Package config loads and validates starmark configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/starmark/internal/extract"
	"github.com/JakeFAU/starmark/internal/extract/firecrawl"
	"github.com/JakeFAU/starmark/internal/extract/headless"
	"github.com/JakeFAU/starmark/internal/extract/jina"
	"github.com/JakeFAU/starmark/internal/logging"
	"github.com/JakeFAU/starmark/internal/progress"
	"github.com/JakeFAU/starmark/internal/settings"
	"github.com/JakeFAU/starmark/internal/source/githubstars"
	"github.com/JakeFAU/starmark/internal/storage/local"
	"github.com/JakeFAU/starmark/internal/storage/minio"
)

// EnvPrefix prefixes every environment override, e.g. STARMARK_SERVER_PORT.
const EnvPrefix = "STARMARK"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Auth       AuthConfig         `mapstructure:"auth"`
	Logging    logging.Config     `mapstructure:"logging"`
	Extract    ExtractConfig      `mapstructure:"extract"`
	Screenshot ScreenshotConfig   `mapstructure:"screenshot"`
	Blob       BlobConfig         `mapstructure:"blob"`
	Settings   settings.Defaults  `mapstructure:"settings"`
	Model      ModelConfig        `mapstructure:"model"`
	RateLimit  RateLimitConfig    `mapstructure:"ratelimit"`
	Store      StoreConfig        `mapstructure:"store"`
	PubSub     PubSubConfig       `mapstructure:"pubsub"`
	Progress   progress.Config    `mapstructure:"progress"`
	Batch      BatchConfig        `mapstructure:"batch"`
	GitHub     githubstars.Config `mapstructure:"github"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ExtractConfig configures both extraction backends and the gateway.
type ExtractConfig struct {
	Jina      jina.Config      `mapstructure:"jina"`
	Firecrawl firecrawl.Config `mapstructure:"firecrawl"`
	Gateway   extract.Config   `mapstructure:"gateway"`
	// BackendRPS paces requests per backend host; zero disables pacing.
	BackendRPS   float64     `mapstructure:"backend_rps"`
	BackendBurst int         `mapstructure:"backend_burst"`
	Retry        RetryConfig `mapstructure:"retry"`
}

// RetryConfig governs retries of transient backend failures.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ScreenshotConfig chooses where page screenshots come from.
type ScreenshotConfig struct {
	// Provider is "jina" (download the backend screenshot), "chromedp" or
	// "none".
	Provider string          `mapstructure:"provider"`
	Chromedp headless.Config `mapstructure:"chromedp"`
}

// BlobConfig selects the screenshot blob backend.
type BlobConfig struct {
	// Backend is one of memory, local, gcs, minio.
	Backend   string       `mapstructure:"backend"`
	Local     local.Config `mapstructure:"local"`
	GCSBucket string       `mapstructure:"gcs_bucket"`
	Minio     minio.Config `mapstructure:"minio"`
}

// ModelConfig tunes prompt assembly. Provider selection lives in settings.
type ModelConfig struct {
	ReserveTokens int           `mapstructure:"reserve_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig sizes the persisted crawl-slot window.
type RateLimitConfig struct {
	Window time.Duration `mapstructure:"window"`
	Max    int           `mapstructure:"max"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	// Backend is one of memory, sqlite, postgres.
	Backend        string `mapstructure:"backend"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	DSN            string `mapstructure:"dsn"`
	DocumentsTable string `mapstructure:"documents_table"`
	RunsTable      string `mapstructure:"runs_table"`
	MaxConns       int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for finished-result notifications.
type PubSubConfig struct {
	// Backend is none, memory or gcp.
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BatchConfig governs the batch runner and its schedule.
type BatchConfig struct {
	// Schedule is a cron spec; empty disables scheduled resumes.
	Schedule string `mapstructure:"schedule"`
	Recrawl  bool   `mapstructure:"recrawl"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := settings.DefaultDefaults()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("extract.jina.endpoint", "https://r.jina.ai/")
	v.SetDefault("extract.jina.timeout", "60s")
	v.SetDefault("extract.firecrawl.endpoint", "https://api.firecrawl.dev")
	v.SetDefault("extract.firecrawl.timeout", "60s")
	v.SetDefault("extract.backend_rps", 2.0)
	v.SetDefault("extract.backend_burst", 2)
	v.SetDefault("extract.retry.max_attempts", 3)
	v.SetDefault("extract.retry.initial_backoff", "500ms")
	v.SetDefault("extract.retry.max_backoff", "5s")
	v.SetDefault("screenshot.provider", "jina")
	v.SetDefault("screenshot.chromedp.max_parallel", 2)
	v.SetDefault("screenshot.chromedp.navigation_timeout", "30s")
	v.SetDefault("screenshot.chromedp.quality", 80)
	v.SetDefault("screenshot.chromedp.width", 1280)
	v.SetDefault("screenshot.chromedp.height", 800)
	v.SetDefault("blob.backend", "memory")
	v.SetDefault("blob.local.base_dir", "data/screenshots")
	v.SetDefault("settings.locale", d.Locale)
	v.SetDefault("settings.popup_action", d.PopupAction)
	v.SetDefault("settings.screenshot_cache", d.ScreenshotCache)
	v.SetDefault("settings.provider", d.Provider)
	v.SetDefault("settings.model", d.Model)
	v.SetDefault("settings.firecrawl_key", d.FirecrawlKey)
	v.SetDefault("model.reserve_tokens", 1024)
	v.SetDefault("model.timeout", "120s")
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.max", 10)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.sqlite_path", "data/starmark.db")
	v.SetDefault("store.documents_table", "documents")
	v.SetDefault("store.runs_table", "batch_runs")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("pubsub.backend", "none")
	v.SetDefault("pubsub.topic_name", "starmark-results")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("github.endpoint", "https://api.github.com")
	v.SetDefault("github.user_agent", "starmark/0.1")
	v.SetDefault("github.timeout", "30s")
	v.SetDefault("github.per_page", 100)
	v.SetDefault("github.max_pages", 50)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		return errors.New("ratelimit.window and ratelimit.max must be > 0")
	}
	if c.Extract.Jina.Endpoint == "" || c.Extract.Firecrawl.Endpoint == "" {
		return errors.New("extract.jina.endpoint and extract.firecrawl.endpoint are required")
	}
	if err := oneOf("store.backend", c.Store.Backend, "memory", "sqlite", "postgres"); err != nil {
		return err
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return errors.New("store.dsn must be set for the postgres backend")
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return errors.New("store.sqlite_path must be set for the sqlite backend")
	}
	if err := oneOf("blob.backend", c.Blob.Backend, "memory", "local", "gcs", "minio"); err != nil {
		return err
	}
	if c.Blob.Backend == "gcs" && c.Blob.GCSBucket == "" {
		return errors.New("blob.gcs_bucket must be set for the gcs backend")
	}
	if err := oneOf("screenshot.provider", c.Screenshot.Provider, "jina", "chromedp", "none"); err != nil {
		return err
	}
	if err := oneOf("pubsub.backend", c.PubSub.Backend, "none", "memory", "gcp"); err != nil {
		return err
	}
	if c.PubSub.Backend == "gcp" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set for the gcp backend")
	}
	return nil
}

// Address is the listen address for the HTTP server.
func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func oneOf(key, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}
