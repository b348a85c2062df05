package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// PlayerService is the playback controller as seen by HTTP clients.
type PlayerService interface {
	Play(raw string) error
	Pause() error
	Resume() error
	Stop() error
	Seek(pos time.Duration) (time.Duration, error)
	State() domain.PlaybackState
	Subscribe() (<-chan domain.PlaybackState, func())
}

type PlayerHandler struct {
	player    PlayerService
	validator *validator.Validate
	logger    *slog.Logger
}

func NewPlayerHandler(player PlayerService, logger *slog.Logger) *PlayerHandler {
	return &PlayerHandler{
		player:    player,
		validator: validator.New(),
		logger:    logger,
	}
}

// Play handles POST /player/play. The pipeline runs in the background;
// the response carries the state right after the request was accepted.
func (h *PlayerHandler) Play(w http.ResponseWriter, r *http.Request) {
	var req domain.PlayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.player.Play(req.Input); err != nil {
		h.logger.Warn("play rejected", "input", req.Input, "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, h.player.State())
}

func (h *PlayerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.player.Pause)
}

func (h *PlayerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.player.Resume)
}

func (h *PlayerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.player.Stop)
}

func (h *PlayerHandler) command(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.player.State())
}

// Seek handles POST /player/seek.
func (h *PlayerHandler) Seek(w http.ResponseWriter, r *http.Request) {
	var req domain.SeekRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.player.Seek(time.Duration(req.PositionMS) * time.Millisecond); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.player.State())
}

func (h *PlayerHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.player.State())
}

// Events streams every state snapshot as a server-sent event until the
// client goes away.
func (h *PlayerHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	updates, unsubscribe := h.player.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(state)
			if err != nil {
				h.logger.Error("failed to encode state", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
