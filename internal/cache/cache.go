// Package cache maps stable cache keys to completed files on disk.
package cache

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
	"github.com/veranemoloko/media-pipeline/internal/metrics"
	"github.com/veranemoloko/media-pipeline/internal/repository"
	"github.com/veranemoloko/media-pipeline/internal/storage"
)

// Cache is safe for concurrent use. Commit and Invalidate are serialised
// against each other and against the healing path of Lookup; plain hits only
// take the read lock. Entries are replaced wholesale, never edited.
type Cache struct {
	mu     sync.RWMutex
	repo   repository.CacheRepo
	files  *storage.FileStorage
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Cache. A zero maxAge keeps entries fresh forever.
func New(repo repository.CacheRepo, files *storage.FileStorage, maxAge time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		repo:   repo,
		files:  files,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger,
	}
}

// Destination returns a fresh path inside the cache directory for key.
func (c *Cache) Destination(key, ext string) string {
	return c.files.Path(c.files.NameFor(key, ext))
}

// CheckWritable reports StorageUnavailable when the cache directory cannot
// take new files.
func (c *Cache) CheckWritable() error {
	if err := c.files.CheckWritable(); err != nil {
		return errpkg.E(errpkg.KindStorageUnavailable, "cache", err)
	}
	return nil
}

func (c *Cache) fresh(e *domain.CacheEntry) bool {
	return c.maxAge <= 0 || c.now().Sub(e.CommittedAt) < c.maxAge
}

// Lookup returns the file committed for key. An entry whose file is missing,
// or which is no longer fresh, is removed and reported as a miss.
func (c *Cache) Lookup(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	entry, err := c.repo.GetEntry(ctx, key)
	if err == nil && entry != nil && c.fresh(entry) && c.files.FileExists(entry.FilePath) {
		c.mu.RUnlock()
		metrics.CacheHits.Inc()
		return entry.FilePath, true
	}
	c.mu.RUnlock()

	metrics.CacheMisses.Inc()
	if err != nil || entry == nil {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another writer may have replaced the entry while the lock was released.
	current, err := c.repo.GetEntry(ctx, key)
	if err != nil || current == nil || current.FilePath != entry.FilePath {
		return "", false
	}
	if c.fresh(current) && c.files.FileExists(current.FilePath) {
		return current.FilePath, true
	}

	c.logger.Info("dropping stale cache entry", "key", key, "path", current.FilePath)
	if err := c.removeLocked(ctx, current); err != nil {
		c.logger.Warn("failed to drop stale cache entry", "key", key, "error", err)
	}
	return "", false
}

// Commit maps key to path. Committing the same pair again changes nothing.
// When the key previously pointed at another file, that path is returned so
// the caller can delete it.
func (c *Cache) Commit(ctx context.Context, key, path string) (string, error) {
	if key == "" {
		return "", errpkg.Ef(errpkg.KindInvalidInput, "cache commit", "empty cache key")
	}
	if !c.files.FileExists(path) {
		return "", errpkg.Ef(errpkg.KindStorageUnavailable, "cache commit", "file %s does not exist", path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous, err := c.repo.GetEntry(ctx, key)
	if err != nil {
		return "", errpkg.E(errpkg.KindStorageUnavailable, "cache commit", err)
	}
	if previous != nil && previous.FilePath == path && c.fresh(previous) {
		return "", nil
	}

	entry := &domain.CacheEntry{Key: key, FilePath: path, CommittedAt: c.now(), Fresh: true}
	if err := c.repo.PutEntry(ctx, entry); err != nil {
		return "", errpkg.E(errpkg.KindStorageUnavailable, "cache commit", err)
	}

	c.logger.Debug("cache entry committed", "key", key, "path", path)
	if previous != nil && previous.FilePath != path {
		return previous.FilePath, nil
	}
	return "", nil
}

// Invalidate removes the entry for key and deletes its file when the file
// lives in the cache directory.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.repo.GetEntry(ctx, key)
	if err != nil {
		return errpkg.E(errpkg.KindStorageUnavailable, "cache invalidate", err)
	}
	if entry == nil {
		return nil
	}
	return c.removeLocked(ctx, entry)
}

// Clear drops every entry and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.repo.ListEntries(ctx)
	if err != nil {
		return 0, errpkg.E(errpkg.KindStorageUnavailable, "cache clear", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := c.removeLocked(ctx, entry); err != nil {
			return removed, err
		}
		removed++
	}

	c.logger.Info("cache cleared", "entries_removed", removed)
	return removed, nil
}

// Entries lists the index with the freshness flag evaluated now.
func (c *Cache) Entries(ctx context.Context) ([]domain.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, err := c.repo.ListEntries(ctx)
	if err != nil {
		return nil, errpkg.E(errpkg.KindStorageUnavailable, "cache entries", err)
	}

	out := make([]domain.CacheEntry, 0, len(entries))
	for _, e := range entries {
		e.Fresh = c.fresh(e) && c.files.FileExists(e.FilePath)
		if size, err := c.files.GetFileSize(e.FilePath); err == nil {
			e.SizeBytes = size
		}
		out = append(out, *e)
	}
	return out, nil
}

// Sweep deletes files in the cache directory that no entry references, such
// as partial downloads left by a crash. It must run before any download
// starts.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.repo.ListEntries(ctx)
	if err != nil {
		return 0, errpkg.E(errpkg.KindStorageUnavailable, "cache sweep", err)
	}
	referenced := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		referenced[filepath.Clean(e.FilePath)] = struct{}{}
	}

	files, err := c.files.List()
	if err != nil {
		return 0, errpkg.E(errpkg.KindStorageUnavailable, "cache sweep", err)
	}

	removed := 0
	for _, path := range files {
		if _, ok := referenced[filepath.Clean(path)]; ok || !c.files.Generated(path) {
			continue
		}
		if err := c.files.Remove(path); err != nil {
			c.logger.Warn("failed to remove orphan cache file", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("removed orphan cache files", "dir", c.files.Dir(), "removed", removed)
	}
	return removed, nil
}

// RemoveFile deletes a file the cache no longer references.
func (c *Cache) RemoveFile(path string) error {
	if path == "" || !c.files.Owns(path) {
		return nil
	}
	return c.files.Remove(path)
}

func (c *Cache) removeLocked(ctx context.Context, entry *domain.CacheEntry) error {
	if err := c.repo.DeleteEntry(ctx, entry.Key); err != nil {
		return errpkg.E(errpkg.KindStorageUnavailable, "cache remove", err)
	}
	metrics.CacheInvalidations.Inc()
	if c.files.Owns(entry.FilePath) {
		if err := c.files.Remove(entry.FilePath); err != nil {
			c.logger.Warn("failed to delete cached file", "path", entry.FilePath, "error", err)
		}
	}
	return nil
}
