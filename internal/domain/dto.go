package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlayRequest is the body of POST /player/play.
type PlayRequest struct {
	Input string `json:"input" validate:"required,max=4096"`
}

// SeekRequest is the body of POST /player/seek.
type SeekRequest struct {
	PositionMS int64 `json:"position_ms" validate:"gte=0"`
}

// PrefetchRequest is the body of POST /cache/prefetch.
type PrefetchRequest struct {
	Inputs []string `json:"inputs" validate:"required,min=1,max=50,dive,required"`
}

// PrefetchResult reports the outcome for one prefetched input.
type PrefetchResult struct {
	Input    string `json:"input"`
	CacheKey string `json:"cache_key,omitempty"`
	Path     string `json:"path,omitempty"`
	Cached   bool   `json:"cached"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// CreateUpdateRequest is the body of POST /updates.
type CreateUpdateRequest struct {
	ManifestURL string `json:"manifest_url" validate:"required,url"`
}

// UpdateJobResponse is returned for GET /updates/{jobID}.
type UpdateJobResponse struct {
	ID            uuid.UUID    `json:"job_id"`
	Status        UpdateStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	BytesReceived int64        `json:"bytes_received"`
	TotalBytes    *int64       `json:"total_bytes,omitempty"`
	InstalledPath string       `json:"installed_path,omitempty"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
