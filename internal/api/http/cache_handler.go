package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// CacheService exposes the local cache.
type CacheService interface {
	Entries(ctx context.Context) ([]domain.CacheEntry, error)
	Invalidate(ctx context.Context, key string) error
	Clear(ctx context.Context) (int, error)
}

// Prefetcher warms the cache.
type Prefetcher interface {
	Prefetch(ctx context.Context, inputs []string) ([]domain.PrefetchResult, error)
}

type CacheHandler struct {
	cache      CacheService
	prefetcher Prefetcher
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewCacheHandler(cache CacheService, prefetcher Prefetcher, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{
		cache:      cache,
		prefetcher: prefetcher,
		validator:  validator.New(),
		logger:     logger,
	}
}

func (h *CacheHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cache.Entries(r.Context())
	if err != nil {
		h.logger.Error("failed to list cache", "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Clear(r.Context())
	if err != nil {
		h.logger.Error("failed to clear cache", "error", err)
		writeDomainError(w, err)
		return
	}
	h.logger.Info("cache cleared", "removed", removed)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// Invalidate handles DELETE /cache/{key}; the key is path-escaped.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, "invalid cache key")
		return
	}

	if err := h.cache.Invalidate(r.Context(), key); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Prefetch handles POST /cache/prefetch. It answers once every input has
// been acquired or has failed.
func (h *CacheHandler) Prefetch(w http.ResponseWriter, r *http.Request) {
	var req domain.PrefetchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Downloads can outlast the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	results, err := h.prefetcher.Prefetch(r.Context(), req.Inputs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}
