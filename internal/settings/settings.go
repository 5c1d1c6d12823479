// Package settings layers user settings persisted in the settings collection
// over the defaults supplied by configuration.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/llm"
	"github.com/JakeFAU/starmark/internal/prompt"
	"github.com/JakeFAU/starmark/internal/store"
)

// Setting ids in the settings collection.
const (
	KeyLocale          = "locale"
	KeyPopupAction     = "popupAction"
	KeyScreenshotCache = "enableScreenshotCache"
	KeyModelProvider   = "aiModelProvider"
	KeyModelType       = "aiModelType"
	KeyCustomModelURL  = "customModelUrl"
	KeyModelKey        = "modelKey"
	KeyJinaKey         = "jinaKey"
	KeyFirecrawlKey    = "firecrawlKey"
)

const (
	defaultPopupAction  = "search"
	defaultProvider     = "openai"
	defaultModel        = "gpt-4o-mini"
	defaultFirecrawlKey = "this_is_just_a_preview_token"
)

// Keys lists every known setting id.
var Keys = []string{
	KeyLocale,
	KeyPopupAction,
	KeyScreenshotCache,
	KeyModelProvider,
	KeyModelType,
	KeyCustomModelURL,
	KeyModelKey,
	KeyJinaKey,
	KeyFirecrawlKey,
}

var secretKeys = []string{KeyModelKey, KeyJinaKey, KeyFirecrawlKey}

// Validation errors returned by Get and Set.
var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Defaults are used whenever a setting is missing or stored as "".
type Defaults struct {
	Locale          string `mapstructure:"locale"`
	PopupAction     string `mapstructure:"popup_action"`
	ScreenshotCache bool   `mapstructure:"screenshot_cache"`
	Provider        string `mapstructure:"provider"`
	Model           string `mapstructure:"model"`
	CustomModelURL  string `mapstructure:"custom_model_url"`
	ModelKey        string `mapstructure:"model_key"`
	JinaKey         string `mapstructure:"jina_key"`
	FirecrawlKey    string `mapstructure:"firecrawl_key"`
}

// DefaultDefaults returns the stock defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Locale:          prompt.DefaultLocale,
		PopupAction:     defaultPopupAction,
		ScreenshotCache: true,
		Provider:        defaultProvider,
		Model:           defaultModel,
		FirecrawlKey:    defaultFirecrawlKey,
	}
}

type record struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Service reads and writes settings. It implements crawler.ModelSettings.
type Service struct {
	store    store.Store
	defaults Defaults
	logger   *zap.Logger
}

// New wraps s. Empty string defaults take the stock values.
func New(s store.Store, defaults Defaults, logger *zap.Logger) *Service {
	stock := DefaultDefaults()
	if defaults.Locale == "" {
		defaults.Locale = stock.Locale
	}
	if defaults.PopupAction == "" {
		defaults.PopupAction = stock.PopupAction
	}
	if defaults.Provider == "" {
		defaults.Provider = stock.Provider
	}
	if defaults.Model == "" {
		defaults.Model = stock.Model
	}
	if defaults.FirecrawlKey == "" {
		defaults.FirecrawlKey = stock.FirecrawlKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, defaults: defaults, logger: logger}
}

func (s *Service) defaultFor(key string) any {
	d := s.defaults
	switch key {
	case KeyLocale:
		return d.Locale
	case KeyPopupAction:
		return d.PopupAction
	case KeyScreenshotCache:
		return d.ScreenshotCache
	case KeyModelProvider:
		return d.Provider
	case KeyModelType:
		return d.Model
	case KeyCustomModelURL:
		return d.CustomModelURL
	case KeyModelKey:
		return d.ModelKey
	case KeyJinaKey:
		return d.JinaKey
	case KeyFirecrawlKey:
		return d.FirecrawlKey
	}
	return nil
}

// Get returns the effective value of key: the stored value unless it is
// missing or an empty string, otherwise the default.
func (s *Service) Get(ctx context.Context, key string) (any, error) {
	if !slices.Contains(Keys, key) {
		return nil, fmt.Errorf("get %q: %w", key, ErrUnknownKey)
	}
	var rec record
	err := store.GetJSON(ctx, s.store, store.CollectionSettings, key, &rec)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.defaultFor(key), nil
	case err != nil:
		return nil, err
	}
	if str, ok := rec.Value.(string); ok && str == "" {
		return s.defaultFor(key), nil
	}
	if rec.Value == nil {
		return s.defaultFor(key), nil
	}
	return rec.Value, nil
}

// String returns key as a string.
func (s *Service) String(ctx context.Context, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return fmt.Sprint(val), nil
	default:
		return "", fmt.Errorf("setting %q is %T, not a string", key, v)
	}
}

// Bool returns key as a boolean. Stored strings "true"/"false" are accepted.
func (s *Service) Bool(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return strings.EqualFold(val, "true"), nil
	default:
		return false, fmt.Errorf("setting %q is %T, not a bool", key, v)
	}
}

// Set stores value under key.
func (s *Service) Set(ctx context.Context, key string, value any) error {
	if !slices.Contains(Keys, key) {
		return fmt.Errorf("set %q: %w", key, ErrUnknownKey)
	}
	switch value.(type) {
	case string, bool, nil:
	default:
		return fmt.Errorf("set %q: %w: unsupported type %T", key, ErrInvalidValue, value)
	}
	if key == KeyScreenshotCache {
		if _, ok := value.(string); ok {
			return fmt.Errorf("set %q: %w: must be a boolean", key, ErrInvalidValue)
		}
	}
	if err := store.PutJSON(ctx, s.store, store.CollectionSettings, key, record{ID: key, Value: value}); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.logger.Info("setting updated", zap.String("key", key))
	return nil
}

// All returns every effective setting. Secrets are masked unless reveal is
// set.
func (s *Service) All(ctx context.Context, reveal bool) (map[string]any, error) {
	out := make(map[string]any, len(Keys))
	for _, key := range Keys {
		v, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !reveal && slices.Contains(secretKeys, key) {
			v = Mask(fmt.Sprint(v))
		}
		out[key] = v
	}
	return out, nil
}

// DecodeValue decodes a raw JSON setting value.
func DecodeValue(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode setting value: %w", err)
	}
	return v, nil
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

// ModelConfig assembles the model selection from the current settings.
func (s *Service) ModelConfig(ctx context.Context) (llm.ModelConfig, error) {
	var cfg llm.ModelConfig
	for key, dst := range map[string]*string{
		KeyModelProvider:  &cfg.Provider,
		KeyModelType:      &cfg.Model,
		KeyCustomModelURL: &cfg.Endpoint,
		KeyModelKey:       &cfg.APIKey,
	} {
		v, err := s.String(ctx, key)
		if err != nil {
			return llm.ModelConfig{}, fmt.Errorf("load model settings: %w", err)
		}
		*dst = v
	}
	return cfg, nil
}

// Locale returns the output locale code.
func (s *Service) Locale(ctx context.Context) (string, error) {
	return s.String(ctx, KeyLocale)
}

// ScreenshotsEnabled reports whether screenshots should be captured. Read
// errors are logged and treated as disabled.
func (s *Service) ScreenshotsEnabled(ctx context.Context) bool {
	on, err := s.Bool(ctx, KeyScreenshotCache)
	if err != nil {
		s.logger.Warn("read screenshot setting failed", zap.Error(err))
		return false
	}
	return on
}

// JinaKey returns the primary backend key, or "" on error.
func (s *Service) JinaKey(ctx context.Context) string {
	return s.secret(ctx, KeyJinaKey)
}

// FirecrawlKey returns the secondary backend key, or "" on error.
func (s *Service) FirecrawlKey(ctx context.Context) string {
	return s.secret(ctx, KeyFirecrawlKey)
}

func (s *Service) secret(ctx context.Context, key string) string {
	v, err := s.String(ctx, key)
	if err != nil {
		s.logger.Warn("read key failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return v
}
