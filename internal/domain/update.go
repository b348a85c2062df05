package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReleaseManifest describes an application build published for OTA update.
type ReleaseManifest struct {
	Name    string `yaml:"name" json:"name" validate:"required,max=128"`
	Version string `yaml:"version" json:"version" validate:"required"`
	URL     string `yaml:"url" json:"url" validate:"required,url"`
	SHA256  string `yaml:"sha256" json:"sha256" validate:"required,hexadecimal,len=64"`
	Size    int64  `yaml:"size" json:"size,omitempty" validate:"gte=0"`
}

// UpdateJob tracks one OTA download-and-install.
type UpdateJob struct {
	ID            uuid.UUID        `json:"id"`
	ManifestURL   string           `json:"manifest_url"`
	Status        UpdateStatus     `json:"status"`
	Manifest      *ReleaseManifest `json:"manifest,omitempty"`
	BytesReceived int64            `json:"bytes_received"`
	TotalBytes    *int64           `json:"total_bytes,omitempty"`
	FilePath      string           `json:"file_path,omitempty"`
	InstalledPath string           `json:"installed_path,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// UpdateEvent is processed by the update service's event loop.
type UpdateEvent struct {
	Type    EventType
	JobID   uuid.UUID
	Job     *UpdateJob
	Updates *UpdateJobUpdate
}

type EventType string

const (
	EventCreateJob EventType = "create"
	EventUpdateJob EventType = "update"
)

// UpdateJobUpdate is a partial update applied to a stored job.
type UpdateJobUpdate struct {
	Status        *UpdateStatus
	Manifest      *ReleaseManifest
	Progress      *Progress
	FilePath      string
	InstalledPath string
	Error         string
}
