package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/llm"
	"github.com/JakeFAU/starmark/internal/store"
)

type crawlRequest struct {
	URL string `json:"url"`
}

type chatCrawlRequest struct {
	URL  string            `json:"url"`
	Type crawler.CrawlType `json:"type"`
}

func (s *Server) unifiedCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content := s.deps.Crawler.UnifiedCrawl(r.Context(), req.URL)
	status := http.StatusOK
	if !content.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, content)
}

// chatCrawl claims a crawl slot, then streams the model output. Progress is
// persisted by the crawler; the response body carries only model text.
func (s *Server) chatCrawl(w http.ResponseWriter, r *http.Request) {
	var req chatCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	ctx := r.Context()
	logger := s.logger.With(zap.String("url", req.URL), zap.String("type", string(req.Type)))

	ok, err := s.deps.Limiter.TryAcquire(ctx)
	if err != nil {
		logger.Error("acquire crawl slot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "rate limiter unavailable")
		return
	}
	if !ok {
		s.denySlot(w, r)
		return
	}

	var (
		mu   sync.Mutex
		last crawler.ChatCrawlResult
	)
	stream, err := s.deps.Crawler.ChatCrawl(ctx, crawler.CrawlTarget{URL: req.URL, Type: req.Type},
		func(res crawler.ChatCrawlResult) {
			mu.Lock()
			last = res
			mu.Unlock()
		})
	if err != nil {
		if errors.Is(err, llm.ErrInvalidProvider) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("chat crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stream == nil {
		mu.Lock()
		res := last
		mu.Unlock()
		writeJSON(w, http.StatusBadGateway, res)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for chunk := range stream.Chunks() {
		if _, err := io.WriteString(w, chunk); err != nil {
			logger.Warn("client went away mid-stream", zap.Error(err))
			// The result is still saved once the stream is drained.
			go func() { _, _ = stream.Wait(context.WithoutCancel(ctx)) }()
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	<-stream.Done()
	if err := stream.Err(); err != nil {
		logger.Warn("model stream ended with error", zap.Error(err))
	}
}

func (s *Server) denySlot(w http.ResponseWriter, r *http.Request) {
	retry := 1
	eta, err := s.deps.Limiter.ResetETA(r.Context())
	if err != nil {
		s.logger.Warn("read window reset failed", zap.Error(err))
	} else if secs := math.Ceil(eta.Sub(s.deps.Clock.Now()).Seconds()); secs > 1 {
		retry = int(secs)
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":      "crawl rate limit reached",
		"retryAfter": retry,
	})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.deps.Results.ListResults(r.Context())
	if err != nil {
		s.logger.Error("list results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	q := r.URL.Query()
	status, typ := crawler.Status(q.Get("status")), crawler.CrawlType(q.Get("type"))
	out := make([]crawler.ChatCrawlResult, 0, len(results))
	for _, res := range results {
		if status != "" && res.Status != status {
			continue
		}
		if typ != "" && res.Type != typ {
			continue
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	target, err := resultID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Results.GetResult(r.Context(), target)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		s.logger.Error("get result failed", zap.String("url", target), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteResult(w http.ResponseWriter, r *http.Request) {
	target, err := resultID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Results.DeleteResult(r.Context(), target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		s.logger.Error("delete result failed", zap.String("url", target), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete result")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rateLimit(w http.ResponseWriter, r *http.Request) {
	window, limit := s.deps.Limiter.Window()
	eta, err := s.deps.Limiter.ResetETA(r.Context())
	if err != nil {
		s.logger.Error("read window reset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "rate limiter unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"windowSeconds": int(window.Seconds()),
		"max":           limit,
		"resetAt":       eta,
	})
}

// resultID decodes the {id} segment, which is the url-escaped target URL.
func resultID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil || id == "" {
		return "", errors.New("invalid result id")
	}
	return id, nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http(s) URL")
	}
	return nil
}
