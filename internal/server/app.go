// Package server provides the core application container and dependency
// wiring shared by the serve, crawl and check commands.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/api"
	"github.com/JakeFAU/starmark/internal/batch"
	"github.com/JakeFAU/starmark/internal/config"
	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/extract"
	"github.com/JakeFAU/starmark/internal/extract/firecrawl"
	"github.com/JakeFAU/starmark/internal/extract/headless"
	"github.com/JakeFAU/starmark/internal/extract/jina"
	idgen "github.com/JakeFAU/starmark/internal/id/uuid"
	"github.com/JakeFAU/starmark/internal/llm"
	"github.com/JakeFAU/starmark/internal/logging"
	"github.com/JakeFAU/starmark/internal/metrics"
	"github.com/JakeFAU/starmark/internal/policy/ratelimit"
	"github.com/JakeFAU/starmark/internal/progress"
	progresssinks "github.com/JakeFAU/starmark/internal/progress/sinks"
	"github.com/JakeFAU/starmark/internal/prompt"
	memorypublisher "github.com/JakeFAU/starmark/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/starmark/internal/publisher/pubsub"
	"github.com/JakeFAU/starmark/internal/settings"
	"github.com/JakeFAU/starmark/internal/source/githubstars"
	gcsstorage "github.com/JakeFAU/starmark/internal/storage/gcs"
	localstorage "github.com/JakeFAU/starmark/internal/storage/local"
	memorystorage "github.com/JakeFAU/starmark/internal/storage/memory"
	miniostorage "github.com/JakeFAU/starmark/internal/storage/minio"
	pgstore "github.com/JakeFAU/starmark/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/starmark/internal/storage/sqlite"
	"github.com/JakeFAU/starmark/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	docs     store.Store
	runs     store.RunRepository
	results  *store.Results
	tasks    *store.Tasks
	blobs    crawler.BlobStore
	settings *settings.Service

	jina       *jina.Client
	firecrawl  *firecrawl.Client
	dispatcher *llm.Dispatcher
	orch       *crawler.Orchestrator
	window     *ratelimit.WindowLimiter
	runner     *batch.Runner
	scheduler  *batch.Scheduler

	progressHub *progress.Hub
	apiServer   *api.Server
	registerer  prometheus.Registerer

	// closers release external clients in reverse build order.
	closers []func(context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers progress collectors somewhere other than the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		if reg != nil {
			a.registerer = reg
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("blob", cfg.Blob.Backend))

	if err := app.build(ctx); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := setupStore(ctx, a); err != nil {
		return err
	}
	if err := setupBlobs(ctx, a); err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	emitter, err := setupProgress(a)
	if err != nil {
		return err
	}

	a.results = store.NewResults(a.docs)
	a.tasks = store.NewTasks(a.docs)
	a.settings = settings.New(a.docs, a.cfg.Settings, a.logger.Named("settings"))

	gateway, err := setupExtraction(a)
	if err != nil {
		return err
	}

	modelClient := &http.Client{Timeout: a.cfg.Model.Timeout}
	assembler := prompt.NewAssembler(
		prompt.WithReserve(a.cfg.Model.ReserveTokens),
		prompt.WithLogger(a.logger.Named("prompt")),
	)
	a.dispatcher = llm.NewDispatcher(llm.NewDefaultRegistry(modelClient), assembler, a.logger.Named("llm"))

	orchOpts := []crawler.Option{
		crawler.WithEmitter(emitter),
		crawler.WithLogger(a.logger.Named("crawler")),
	}
	if publisher != nil {
		orchOpts = append(orchOpts, crawler.WithPublisher(publisher, a.cfg.PubSub.TopicName))
	}
	a.orch, err = crawler.NewOrchestrator(gateway, a.dispatcher, a.settings, a.results, orchOpts...)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.window = ratelimit.NewWindowLimiter(a.tasks, ratelimit.WindowConfig{
		Window: a.cfg.RateLimit.Window,
		Max:    a.cfg.RateLimit.Max,
	}, ratelimit.WithLogger(a.logger.Named("ratelimit")))

	a.runner, err = batch.NewRunner(a.orch, a.results, a.tasks, a.window,
		batch.WithEmitter(emitter),
		batch.WithRunIDs(idgen.NewGenerator()),
		batch.WithRecrawl(a.cfg.Batch.Recrawl),
		batch.WithLogger(a.logger.Named("batch")),
	)
	if err != nil {
		return fmt.Errorf("batch runner init failed: %w", err)
	}
	if a.cfg.Batch.Schedule != "" {
		a.scheduler, err = batch.NewScheduler(a.cfg.Batch.Schedule, a.runner, a.logger.Named("schedule"))
		if err != nil {
			return fmt.Errorf("batch schedule init failed: %w", err)
		}
	}

	a.apiServer, err = api.NewServer(api.Dependencies{
		Crawler:  a.orch,
		Results:  a.results,
		Limiter:  a.window,
		Settings: a.settings,
		Tasks:    a.tasks,
		Batch:    a.runner,
		Runs:     a.runs,
		Checker:  a,
		IDs:      idgen.NewGenerator(),
	}, *a.cfg, api.WithLogger(a.logger.Named("api")), api.WithBaseContext(context.WithoutCancel(ctx)))
	if err != nil {
		return fmt.Errorf("api server init failed: %w", err)
	}
	return nil
}

func setupStore(ctx context.Context, app *App) error {
	cfg := app.cfg.Store
	switch cfg.Backend {
	case "postgres":
		pool, err := pgstore.Connect(ctx, pgstore.Config{
			DSN:            cfg.DSN,
			DocumentsTable: cfg.DocumentsTable,
			RunsTable:      cfg.RunsTable,
			MaxConns:       cfg.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { pool.Close(); return nil })
		docs, err := pgstore.NewStore(pool, cfg.DocumentsTable)
		if err != nil {
			return fmt.Errorf("postgres document store init failed: %w", err)
		}
		runs, err := pgstore.NewRunStore(pool, cfg.RunsTable)
		if err != nil {
			return fmt.Errorf("postgres run store init failed: %w", err)
		}
		app.docs, app.runs = docs, runs
		app.logger.Info("using postgres store", zap.String("table", cfg.DocumentsTable))
	case "sqlite":
		docs, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return docs.Close() })
		app.docs, app.runs = docs, memorystorage.NewRunStore()
		app.logger.Info("using sqlite store", zap.String("path", cfg.SQLitePath))
	default:
		app.docs, app.runs = memorystorage.NewStore(), memorystorage.NewRunStore()
		app.logger.Info("using in-memory store")
	}
	return nil
}

func setupBlobs(ctx context.Context, app *App) error {
	cfg := app.cfg.Blob
	switch cfg.Backend {
	case "gcs":
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return blobs.Close() })
		app.blobs = blobs
		app.logger.Info("using GCS blob store", zap.String("bucket", cfg.GCSBucket))
	case "minio":
		blobs, err := miniostorage.New(cfg.Minio)
		if err != nil {
			return fmt.Errorf("minio blob store init failed: %w", err)
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("minio bucket init failed: %w", err)
		}
		app.blobs = blobs
		app.logger.Info("using minio blob store", zap.String("bucket", cfg.Minio.Bucket))
	case "local":
		blobs, err := localstorage.New(cfg.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.blobs = blobs
		app.logger.Debug("local blob store", zap.String("path", cfg.Local.BaseDir))
	default:
		app.logger.Info("using in-memory blob store")
		app.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	switch app.cfg.PubSub.Backend {
	case "gcp":
		pub, err := gcppublisher.Open(ctx, gcppublisher.Config{ProjectID: app.cfg.PubSub.ProjectID},
			app.logger.Named("pubsub"))
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return pub.Close() })
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName))
		return pub, nil
	case "memory":
		app.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func setupProgress(app *App) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinks := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")),
	}
	app.progressHub = progress.NewHub(app.cfg.Progress, app.logger.Named("progress_hub"), sinks...)
	app.closers = append(app.closers, app.progressHub.Close)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", app.cfg.Progress.BufferSize),
		zap.Int("max_batch_events", app.cfg.Progress.MaxBatchEvents),
		zap.Duration("max_batch_wait", app.cfg.Progress.MaxBatchWait))
	return app.progressHub, nil
}

func setupExtraction(app *App) (*extract.Gateway, error) {
	cfg := app.cfg.Extract
	throttle := ratelimit.New(ratelimit.Config{RPS: cfg.BackendRPS, Burst: cfg.BackendBurst})
	retry := crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.InitialBackoff,
		MaxDelay:    cfg.Retry.MaxBackoff,
	})

	app.jina = jina.New(cfg.Jina,
		jina.WithThrottle(throttle),
		jina.WithRetry(retry),
		jina.WithKeySource(app.settings.JinaKey),
		jina.WithLogger(app.logger.Named("jina")),
	)
	app.firecrawl = firecrawl.New(cfg.Firecrawl,
		firecrawl.WithThrottle(throttle),
		firecrawl.WithRetry(retry),
		firecrawl.WithKeySource(app.settings.FirecrawlKey),
		firecrawl.WithLogger(app.logger.Named("firecrawl")),
	)

	var source crawler.ScreenshotSource
	switch app.cfg.Screenshot.Provider {
	case "chromedp":
		capturer, err := headless.NewChromedp(app.cfg.Screenshot.Chromedp)
		if err != nil {
			return nil, fmt.Errorf("chromedp init failed: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { capturer.Close(); return nil })
		source = capturer
		app.logger.Info("using headless screenshots", zap.Int("max_parallel", app.cfg.Screenshot.Chromedp.MaxParallel))
	case "none":
		source = headless.Noop{}
	default:
		source = extract.NewRemoteScreenshots(app.jina, &http.Client{Timeout: cfg.Jina.Timeout})
	}
	archiver, err := extract.NewArchiver(source, store.NewPreviews(app.docs), app.blobs, app.logger.Named("screenshots"))
	if err != nil {
		return nil, fmt.Errorf("screenshot archiver init failed: %w", err)
	}

	gateway, err := extract.NewGateway(app.jina, app.firecrawl, cfg.Gateway,
		extract.WithScreenshots(archiver, app.settings.ScreenshotsEnabled),
		extract.WithLogger(app.logger.Named("extract")),
	)
	if err != nil {
		return nil, fmt.Errorf("gateway init failed: %w", err)
	}
	return gateway, nil
}

// CheckKeys verifies the stored extraction keys and model settings. Each
// check makes one live request.
func (a *App) CheckKeys(ctx context.Context) map[string]bool {
	out := map[string]bool{
		"jina":      jina.CheckKey(ctx, a.cfg.Extract.Jina, a.settings.JinaKey(ctx)),
		"firecrawl": firecrawl.CheckKey(ctx, a.cfg.Extract.Firecrawl, a.settings.FirecrawlKey(ctx)),
		"model":     false,
	}
	modelCfg, err := a.settings.ModelConfig(ctx)
	if err != nil {
		a.logger.Warn("load model settings failed", zap.Error(err))
		return out
	}
	out["model"] = a.dispatcher.CheckModelSettings(ctx, modelCfg)
	return out
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Orchestrator returns the crawl pipeline.
func (a *App) Orchestrator() *crawler.Orchestrator { return a.orch }

// Runner returns the batch runner.
func (a *App) Runner() *batch.Runner { return a.runner }

// Results returns the result repository.
func (a *App) Results() *store.Results { return a.results }

// Settings returns the user settings service.
func (a *App) Settings() *settings.Service { return a.settings }

// StarredTargets lists the repositories user has starred on GitHub as
// crawl targets.
func (a *App) StarredTargets(ctx context.Context, user string) ([]crawler.CrawlTarget, error) {
	repos, err := githubstars.New(a.cfg.GitHub, a.logger.Named("github")).List(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list starred repositories: %w", err)
	}
	return githubstars.Targets(repos), nil
}

// RunBatch crawls targets in the foreground.
func (a *App) RunBatch(ctx context.Context, targets []crawler.CrawlTarget) (batch.Summary, error) {
	return a.runner.Run(ctx, targets)
}

// ListResults returns every stored crawl result.
func (a *App) ListResults(ctx context.Context) ([]crawler.ChatCrawlResult, error) {
	return a.results.ListResults(ctx)
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves HTTP and the batch schedule until ctx is cancelled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              a.cfg.Address(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if err := a.apiServer.Close(shutdownCtx); err != nil {
		a.logger.Warn("batch pause on shutdown failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close releases external clients and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
