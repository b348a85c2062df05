package repository

import (
	"context"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// CacheRepo defines the interface for cache index storage operations.
type CacheRepo interface {
	PutEntry(ctx context.Context, entry *domain.CacheEntry) error
	GetEntry(ctx context.Context, key string) (*domain.CacheEntry, error)
	DeleteEntry(ctx context.Context, key string) error
	ListEntries(ctx context.Context) ([]*domain.CacheEntry, error)
}
