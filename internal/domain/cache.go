package domain

import "time"

// CacheEntry maps a cache key to a completed file on disk.
type CacheEntry struct {
	Key         string    `json:"key"`
	FilePath    string    `json:"file_path"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
	Fresh       bool      `json:"fresh"`
}
