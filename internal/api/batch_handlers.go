package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/batch"
	"github.com/JakeFAU/starmark/internal/crawler"
)

type batchRequest struct {
	Targets []crawler.CrawlTarget `json:"targets"`
	// URLs with Type is shorthand for targets sharing one type.
	URLs []string          `json:"urls"`
	Type crawler.CrawlType `json:"type"`
}

func (req batchRequest) targets() ([]crawler.CrawlTarget, error) {
	out := append([]crawler.CrawlTarget(nil), req.Targets...)
	for _, u := range req.URLs {
		out = append(out, crawler.CrawlTarget{URL: u, Type: req.Type})
	}
	if len(out) == 0 {
		return nil, errors.New("at least one target required")
	}
	for _, t := range out {
		if err := validateURL(t.URL); err != nil {
			return nil, fmt.Errorf("%s: %w", t.URL, err)
		}
		if !t.Type.Valid() {
			return nil, fmt.Errorf("%s: type is required", t.URL)
		}
	}
	return out, nil
}

// batchControl tracks the one background batch the API may have started.
type batchControl struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// start runs fn in the background unless a batch is already active.
func (b *batchControl) start(parent context.Context, fn func(ctx context.Context)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		select {
		case <-b.done:
		default:
			return false
		}
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	go func() {
		defer close(done)
		defer cancel()
		fn(ctx)
	}()
	return true
}

// stop cancels the active batch and waits for it to pause.
func (b *batchControl) stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for batch to pause: %w", ctx.Err())
	}
}

func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batch == nil {
		writeError(w, http.StatusServiceUnavailable, "batch runner unavailable")
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	targets, err := req.targets()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.launch(w, len(targets), func(ctx context.Context) (batch.Summary, error) {
		return s.deps.Batch.Run(ctx, targets)
	})
}

func (s *Server) resumeBatch(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Batch == nil {
		writeError(w, http.StatusServiceUnavailable, "batch runner unavailable")
		return
	}
	s.launch(w, -1, s.deps.Batch.Resume)
}

func (s *Server) launch(w http.ResponseWriter, total int, run func(ctx context.Context) (batch.Summary, error)) {
	if s.deps.Batch.Running() {
		writeError(w, http.StatusConflict, batch.ErrAlreadyRunning.Error())
		return
	}
	started := s.batches.start(s.baseCtx, func(ctx context.Context) {
		sum, err := run(ctx)
		switch {
		case errors.Is(err, batch.ErrAlreadyRunning):
			s.logger.Warn("batch request lost the race to another run")
		case err != nil:
			s.logger.Error("background batch failed", zap.Error(err))
		default:
			s.logger.Info("background batch ended",
				zap.String("run_id", sum.RunID.String()),
				zap.String("status", string(sum.Status)))
		}
	})
	if !started {
		writeError(w, http.StatusConflict, batch.ErrAlreadyRunning.Error())
		return
	}
	body := map[string]any{"status": "accepted"}
	if total >= 0 {
		body["targets"] = total
	}
	writeJSON(w, http.StatusAccepted, body)
}

// stopBatch pauses the running batch; remaining targets stay pending.
func (s *Server) stopBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.batches.stop(r.Context()); err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) batchStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}
	p, err := s.deps.Tasks.LoadProgress(r.Context())
	if err != nil {
		s.logger.Error("load crawl progress failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	running := s.deps.Batch != nil && s.deps.Batch.Running()
	writeJSON(w, http.StatusOK, map[string]any{"progress": p, "running": running})
}
