package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// UpdateServiceI defines the OTA update operations.
type UpdateServiceI interface {
	CreateJob(ctx context.Context, manifestURL string) (*domain.UpdateJob, error)
	GetJob(id uuid.UUID) (*domain.UpdateJob, error)
}

type UpdateHandler struct {
	updates   UpdateServiceI
	validator *validator.Validate
	logger    *slog.Logger
}

func NewUpdateHandler(updates UpdateServiceI, logger *slog.Logger) *UpdateHandler {
	return &UpdateHandler{
		updates:   updates,
		validator: validator.New(),
		logger:    logger,
	}
}

// CreateJob handles POST /updates.
func (h *UpdateHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.updates.CreateJob(r.Context(), req.ManifestURL)
	if err != nil {
		h.logger.Error("failed to create update job", "error", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"job_id": job.ID,
	})
}

// GetJob handles GET /updates/{jobID}.
func (h *UpdateHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	job, err := h.updates.GetJob(jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := domain.UpdateJobResponse{
		ID:            job.ID,
		Status:        job.Status,
		BytesReceived: job.BytesReceived,
		TotalBytes:    job.TotalBytes,
		InstalledPath: job.InstalledPath,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if job.Manifest != nil {
		response.Version = job.Manifest.Version
	}

	writeJSON(w, http.StatusOK, response)
}
