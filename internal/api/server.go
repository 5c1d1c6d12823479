package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/batch"
	"github.com/JakeFAU/starmark/internal/config"
	"github.com/JakeFAU/starmark/internal/crawler"
	idgen "github.com/JakeFAU/starmark/internal/id/uuid"
	"github.com/JakeFAU/starmark/internal/llm"
	"github.com/JakeFAU/starmark/internal/metrics"
	"github.com/JakeFAU/starmark/internal/store"
)

// Crawler runs extraction and classification. *crawler.Orchestrator
// satisfies it.
type Crawler interface {
	UnifiedCrawl(ctx context.Context, url string) crawler.ExtractedContent
	ChatCrawl(ctx context.Context, target crawler.CrawlTarget, onProgress crawler.ProgressFunc) (*llm.TextStream, error)
}

// SlotLimiter hands out crawl slots. *ratelimit.WindowLimiter satisfies it.
type SlotLimiter interface {
	TryAcquire(ctx context.Context) (bool, error)
	ResetETA(ctx context.Context) (time.Time, error)
	Window() (time.Duration, int)
}

// SettingsService reads and writes user settings. *settings.Service
// satisfies it.
type SettingsService interface {
	All(ctx context.Context, reveal bool) (map[string]any, error)
	Set(ctx context.Context, key string, value any) error
}

// BatchRunner runs target lists in the background. *batch.Runner satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, targets []crawler.CrawlTarget) (batch.Summary, error)
	Resume(ctx context.Context) (batch.Summary, error)
	Running() bool
}

// KeyChecker verifies the configured backend and model credentials.
type KeyChecker interface {
	CheckKeys(ctx context.Context) map[string]bool
}

// Dependencies are the collaborators behind the routes. Crawler, Results,
// Limiter and Settings are required; routes backed by a nil optional
// dependency answer 503.
type Dependencies struct {
	Crawler    Crawler
	Results    crawler.ResultStore
	Limiter    SlotLimiter
	Settings   SettingsService
	Tasks      crawler.TaskStore
	Batch      BatchRunner
	Runs       store.RunRepository
	Checker    KeyChecker
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	HTTPClient *http.Client
}

// Server wires HTTP handlers to the crawl pipeline and stores.
type Server struct {
	router chi.Router
	deps   Dependencies
	runs   *RunHandler
	cfg    config.Config
	logger *zap.Logger

	// baseCtx outlives requests; background batches derive from it.
	baseCtx context.Context
	batches *batchControl
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBaseContext sets the parent context of background batch runs.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config, opts ...Option) (*Server, error) {
	switch {
	case deps.Crawler == nil:
		return nil, errors.New("crawler is required")
	case deps.Results == nil:
		return nil, errors.New("result store is required")
	case deps.Limiter == nil:
		return nil, errors.New("limiter is required")
	case deps.Settings == nil:
		return nil, errors.New("settings are required")
	}
	if deps.IDs == nil {
		deps.IDs = idgen.NewGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		logger:  zap.NewNop(),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runs = NewRunHandler(deps.Runs, s.logger)
	s.batches = &batchControl{}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(deps.IDs, s.logger))
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Streams for as long as the model talks; no request timeout.
		r.Post("/chatcrawl", s.chatCrawl)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.Server.RequestTimeout))
			r.Post("/crawl", s.unifiedCrawl)
			r.Route("/results", func(r chi.Router) {
				r.Get("/", s.listResults)
				r.Get("/{id}", s.getResult)
				r.Delete("/{id}", s.deleteResult)
			})
			r.Get("/ratelimit", s.rateLimit)
			r.Get("/settings", s.listSettings)
			r.Put("/settings/{key}", s.putSetting)
			r.Get("/models", s.listProviders)
			r.Get("/models/{provider}", s.listModels)
			r.Get("/check", s.checkKeys)
			r.Route("/batch", func(r chi.Router) {
				r.Get("/", s.batchStatus)
				r.Post("/", s.startBatch)
				r.Post("/resume", s.resumeBatch)
				r.Delete("/", s.stopBatch)
			})
			r.Get("/runs", s.runs.ListRuns)
			r.Get("/runs/{run_id}", s.runs.GetRun)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close pauses any batch started through the API and waits for it to stop.
func (s *Server) Close(ctx context.Context) error {
	return s.batches.stop(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
