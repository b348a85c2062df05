package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// CacheStorage keeps the cache index in memory and persists it to a JSON file.
type CacheStorage struct {
	mu      sync.RWMutex
	entries map[string]*domain.CacheEntry
	file    string
}

// NewCacheStorage creates a new CacheStorage and loads entries from the file if it exists.
func NewCacheStorage(filePath string) (*CacheStorage, error) {
	repo := &CacheStorage{
		entries: make(map[string]*domain.CacheEntry),
		file:    filepath.Clean(filePath),
	}

	if err := repo.restoreEntries(); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	slog.Info("cache index initialized", "file_path", repo.file, "entries_count", len(repo.entries))
	return repo, nil
}

func (r *CacheStorage) restoreEntries() error {
	if isFileNotExist(r.file) {
		slog.Info("cache index does not exist, starting empty", "file_path", r.file)
		return nil
	}

	data, err := os.ReadFile(r.file)
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("cache index is empty")
		return nil
	}

	var entries []*domain.CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to unmarshal cache index: %w", err)
	}

	for _, entry := range entries {
		r.entries[entry.Key] = entry
	}

	slog.Debug("cache index loaded from file", "entries_count", len(entries), "file_path", r.file)
	return nil
}

func isFileNotExist(filePath string) bool {
	_, err := os.Stat(filePath)
	return os.IsNotExist(err)
}

// persistLocked writes the index; callers hold r.mu.
func (r *CacheStorage) persistLocked() error {
	entries := make([]*domain.CacheEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.file), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tempFile := r.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, r.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	slog.Debug("cache index saved", "entries_count", len(entries), "file_path", r.file)
	return nil
}

// PutEntry inserts or replaces the entry for entry.Key and persists the index.
func (r *CacheStorage) PutEntry(ctx context.Context, entry *domain.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *entry
	r.entries[entry.Key] = &stored

	if err := r.persistLocked(); err != nil {
		return fmt.Errorf("failed to save cache index after put: %w", err)
	}
	return nil
}

// GetEntry returns a copy of the entry for key, or nil when absent.
func (r *CacheStorage) GetEntry(ctx context.Context, key string) (*domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	out := *entry
	return &out, nil
}

// DeleteEntry removes the entry for key and persists the index.
func (r *CacheStorage) DeleteEntry(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; !exists {
		return nil
	}
	delete(r.entries, key)

	if err := r.persistLocked(); err != nil {
		return fmt.Errorf("failed to save cache index after delete: %w", err)
	}
	return nil
}

// ListEntries returns copies of all entries ordered by key.
func (r *CacheStorage) ListEntries(ctx context.Context) ([]*domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*domain.CacheEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out := *entry
		entries = append(entries, &out)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
