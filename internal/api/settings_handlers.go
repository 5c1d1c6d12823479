package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/llm"
	"github.com/JakeFAU/starmark/internal/settings"
)

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

// listSettings masks secrets unless ?reveal=true.
func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	reveal, _ := strconv.ParseBool(r.URL.Query().Get("reveal"))
	all, err := s.deps.Settings.All(r.Context(), reveal)
	if err != nil {
		s.logger.Error("list settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": all})
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "body must be {\"value\": ...}")
		return
	}
	value, err := settings.DecodeValue(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Settings.Set(r.Context(), key, value); err != nil {
		switch {
		case errors.Is(err, settings.ErrUnknownKey):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, settings.ErrInvalidValue):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("save setting failed", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to save setting")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": "saved"})
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": llm.ProviderOptions()})
}

// listModels asks a local Ollama server for its models when provider is
// ollama; ?endpoint= overrides the default Ollama URL.
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if llm.DefaultEndpoint(provider) == "" {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	var models []llm.ModelType
	if provider == llm.ProviderOllama {
		models = llm.OllamaModels(r.Context(), s.deps.HTTPClient, r.URL.Query().Get("endpoint"))
	} else {
		models = llm.ModelTypes(provider)
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "models": models})
}

func (s *Server) checkKeys(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checker == nil {
		writeError(w, http.StatusServiceUnavailable, "key checks unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Checker.CheckKeys(r.Context()))
}
