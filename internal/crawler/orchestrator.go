package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/llm"
	"github.com/JakeFAU/starmark/internal/metrics"
	"github.com/JakeFAU/starmark/internal/progress"
	"github.com/JakeFAU/starmark/internal/prompt"
)

// Classifier streams a model completion. *llm.Dispatcher satisfies it.
type Classifier interface {
	Stream(ctx context.Context, cfg llm.ModelConfig, messages []prompt.Message, done llm.Completion) (*llm.TextStream, error)
}

// ModelSettings supplies the per-call model selection and output locale.
type ModelSettings interface {
	ModelConfig(ctx context.Context) (llm.ModelConfig, error)
	Locale(ctx context.Context) (string, error)
}

// ProgressFunc observes every persisted phase of a ChatCrawl.
type ProgressFunc func(result ChatCrawlResult)

// FinishedNotice is published for each successfully classified URL.
type FinishedNotice struct {
	URL      string          `json:"url"`
	Type     CrawlType       `json:"type"`
	ChatData json.RawMessage `json:"chatData"`
	At       time.Time       `json:"at"`
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Orchestrator drives one URL through extraction, classification and
// persistence. It holds no per-URL state between calls.
type Orchestrator struct {
	extractor  ContentExtractor
	classifier Classifier
	settings   ModelSettings
	results    ResultStore

	emitter   progress.Emitter
	publisher Publisher
	topic     string
	clock     Clock
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sends progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithPublisher publishes a FinishedNotice to topic after each success.
func WithPublisher(p Publisher, topic string) Option {
	return func(o *Orchestrator) {
		o.publisher = p
		o.topic = topic
	}
}

// WithClock overrides the timestamp source.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator wires the pipeline. Every collaborator is required.
func NewOrchestrator(
	extractor ContentExtractor,
	classifier Classifier,
	settings ModelSettings,
	results ResultStore,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case extractor == nil:
		return nil, errors.New("content extractor is required")
	case classifier == nil:
		return nil, errors.New("classifier is required")
	case settings == nil:
		return nil, errors.New("model settings are required")
	case results == nil:
		return nil, errors.New("result store is required")
	}
	o := &Orchestrator{
		extractor:  extractor,
		classifier: classifier,
		settings:   settings,
		results:    results,
		emitter:    progress.Nop{},
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// UnifiedCrawl extracts url without classifying or persisting it.
func (o *Orchestrator) UnifiedCrawl(ctx context.Context, url string) ExtractedContent {
	return o.extractor.FetchContent(ctx, url)
}

// ChatCrawl runs the full pipeline for target and returns the model stream.
//
// onProgress sees started before any I/O, then crawled with the extraction
// attached, then exactly one of failed, finished or a crawled record carrying
// a decode error. Each phase is saved before onProgress runs. When extraction
// fails the returned stream is nil and the failure is only reported through
// onProgress and the store. A non-nil error means the model provider could
// not be constructed; that failure is also persisted. Cancelling ctx stops
// extraction but not a started model stream.
func (o *Orchestrator) ChatCrawl(ctx context.Context, target CrawlTarget, onProgress ProgressFunc) (*llm.TextStream, error) {
	if target.URL == "" {
		return nil, errors.New("target url is required")
	}
	if !target.Type.Valid() {
		return nil, fmt.Errorf("target %s: type is required", target.URL)
	}
	run := &crawlRun{
		o:          o,
		onProgress: onProgress,
		runID:      progress.RunIDFrom(ctx),
		start:      o.clock.Now(),
		logger:     o.logger.With(zap.String("url", target.URL), zap.String("type", string(target.Type))),
		result:     ChatCrawlResult{URL: target.URL, Type: target.Type, Status: StatusStarted},
	}

	run.advance(ctx, StatusStarted, progress.StageCrawlStarted, func(*ChatCrawlResult) {})

	content := o.extractor.FetchContent(ctx, target.URL)
	run.advance(ctx, StatusCrawled, progress.StageCrawlCrawled, func(r *ChatCrawlResult) {
		r.CrawlData = &content
	})
	if !content.Success {
		msg := content.Error
		if msg == "" {
			msg = "content extraction failed"
		}
		run.fail(ctx, msg)
		return nil, nil
	}

	cfg, err := o.settings.ModelConfig(ctx)
	if err != nil {
		run.fail(ctx, err.Error())
		return nil, fmt.Errorf("load model settings: %w", err)
	}
	locale, err := o.settings.Locale(ctx)
	if err != nil {
		o.logger.Warn("locale unavailable, using default", zap.Error(err))
		locale = prompt.DefaultLocale
	}
	messages := prompt.Classification(kindFor(target.Type), prompt.LocaleName(locale), content.Markdown)

	// The model phase outlives ctx so a cancelled caller still gets its
	// result saved. Callers must drain the stream.
	finalCtx := context.WithoutCancel(ctx)
	stream, err := o.classifier.Stream(finalCtx, cfg, messages, llm.Completion{
		OnFinish: func(text string) { run.finish(finalCtx, text) },
		OnError:  func(err error) { run.fail(finalCtx, err.Error()) },
	})
	if err != nil {
		run.fail(ctx, err.Error())
		return nil, fmt.Errorf("start classification: %w", err)
	}
	return stream, nil
}

// Classify runs ChatCrawl, drains the stream and returns the final record.
func (o *Orchestrator) Classify(ctx context.Context, target CrawlTarget, onProgress ProgressFunc) (ChatCrawlResult, error) {
	var (
		mu   sync.Mutex
		last ChatCrawlResult
	)
	stream, err := o.ChatCrawl(ctx, target, func(r ChatCrawlResult) {
		mu.Lock()
		last = r
		mu.Unlock()
		if onProgress != nil {
			onProgress(r)
		}
	})
	if err != nil {
		mu.Lock()
		defer mu.Unlock()
		return last, err
	}
	if stream != nil {
		// Stream errors are already recorded on the result.
		_, _ = stream.Wait(context.WithoutCancel(ctx))
	}
	mu.Lock()
	defer mu.Unlock()
	return last, nil
}

func kindFor(t CrawlType) prompt.Kind {
	if t == CrawlTypeBookmarks {
		return prompt.KindBookmarks
	}
	return prompt.KindGithubStars
}

// crawlRun is the single writer for one URL's record.
type crawlRun struct {
	o          *Orchestrator
	onProgress ProgressFunc
	runID      [16]byte
	start      time.Time
	logger     *zap.Logger

	mu     sync.Mutex
	result ChatCrawlResult
	done   bool
}

// advance applies mutate, moves the record to next, saves it, and reports it.
// Regressions and changes after a terminal phase are refused.
func (r *crawlRun) advance(ctx context.Context, next Status, stage progress.Stage, mutate func(*ChatCrawlResult)) {
	r.mu.Lock()
	if r.done || !r.result.Status.CanAdvance(next) {
		from := r.result.Status
		r.mu.Unlock()
		r.logger.Error("refusing result transition", zap.Error(ErrStatusRegression{From: from, To: next}))
		return
	}
	mutate(&r.result)
	r.result.Status = next
	r.result.UpdatedAt = r.o.clock.Now()
	if next.Terminal() || r.result.DecodeFailed {
		r.done = true
	}
	snapshot := r.result
	r.mu.Unlock()

	if err := r.o.results.SaveResult(ctx, snapshot); err != nil {
		r.logger.Error("persist result failed", zap.String("status", string(next)), zap.Error(err))
	}
	if r.onProgress != nil {
		r.onProgress(snapshot)
	}
	r.emit(stage, snapshot)
	if r.done {
		metrics.ObserveResult(resultLabel(snapshot))
	}
}

func (r *crawlRun) fail(ctx context.Context, msg string) {
	r.logger.Info("crawl failed", zap.String("error", msg))
	r.advance(ctx, StatusFailed, progress.StageCrawlFailed, func(res *ChatCrawlResult) {
		res.Error = msg
	})
}

func (r *crawlRun) finish(ctx context.Context, text string) {
	data, err := ExtractJSON(text)
	if err != nil {
		r.logger.Warn("classification output not decodable", zap.Error(err))
		r.advance(ctx, StatusCrawled, progress.StageCrawlDecodeError, func(res *ChatCrawlResult) {
			res.Error = ErrDecode.Error()
			res.DecodeFailed = true
		})
		return
	}
	r.advance(ctx, StatusFinished, progress.StageCrawlFinished, func(res *ChatCrawlResult) {
		res.ChatData = data
		res.Error = ""
	})
	r.publish(ctx, data)
}

func (r *crawlRun) publish(ctx context.Context, data json.RawMessage) {
	if r.o.publisher == nil || r.o.topic == "" {
		return
	}
	notice := FinishedNotice{URL: r.result.URL, Type: r.result.Type, ChatData: data, At: r.o.clock.Now()}
	if _, err := r.o.publisher.Publish(ctx, r.o.topic, notice); err != nil {
		r.logger.Warn("publish finished notice failed", zap.String("topic", r.o.topic), zap.Error(err))
	}
}

func (r *crawlRun) emit(stage progress.Stage, res ChatCrawlResult) {
	evt := progress.Event{
		RunID: r.runID,
		TS:    r.o.clock.Now(),
		Stage: stage,
		URL:   res.URL,
		Type:  string(res.Type),
	}
	if res.CrawlData != nil {
		evt.Backend = res.CrawlData.Backend
	}
	if r.done {
		evt.Dur = r.o.clock.Now().Sub(r.start)
		if evt.Dur < 0 {
			evt.Dur = 0
		}
		evt.Note = res.Error
	}
	r.o.emitter.Emit(evt)
}

func resultLabel(res ChatCrawlResult) string {
	if res.DecodeFailed {
		return "decode_error"
	}
	return string(res.Status)
}
