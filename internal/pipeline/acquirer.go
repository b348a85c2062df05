package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

// Resolver turns a provider link into a ProviderStream source.
type Resolver interface {
	Resolve(ctx context.Context, link string) (domain.ResolvedSource, domain.ItemMetadata, error)
}

// Fetcher downloads a network source to a local path.
type Fetcher interface {
	Download(ctx context.Context, src domain.ResolvedSource, dest string, onProgress domain.ProgressFunc) (string, error)
}

// Store is the part of the local cache the pipeline needs.
type Store interface {
	Lookup(ctx context.Context, key string) (string, bool)
	Commit(ctx context.Context, key, path string) (string, error)
	Destination(key, ext string) string
	CheckWritable() error
	RemoveFile(path string) error
}

// Acquirer drives resolve, cache lookup, download and commit for one
// source. It is shared by playback and prefetch.
type Acquirer struct {
	resolver Resolver
	fetcher  Fetcher
	store    Store
	logger   *slog.Logger

	// one download per cache key at a time
	flights singleflight.Group
}

func NewAcquirer(resolver Resolver, fetcher Fetcher, store Store, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		resolver: resolver,
		fetcher:  fetcher,
		store:    store,
		logger:   logger,
	}
}

// Resolve resolves a provider link.
func (a *Acquirer) Resolve(ctx context.Context, link string) (domain.ResolvedSource, domain.ItemMetadata, error) {
	return a.resolver.Resolve(ctx, link)
}

// Cached returns the cached file for src, if any.
func (a *Acquirer) Cached(ctx context.Context, src domain.ResolvedSource) (string, bool) {
	key := src.CacheKey()
	if key == "" {
		return "", false
	}
	return a.store.Lookup(ctx, key)
}

// Fetch downloads src into a fresh cache file and commits it under the
// source's cache key. Concurrent fetches of one key share a single
// download; a caller joining a download whose owner was cancelled starts
// over. Callers other than the one that started the download get no
// progress callbacks.
func (a *Acquirer) Fetch(ctx context.Context, src domain.ResolvedSource, onProgress domain.ProgressFunc) (string, error) {
	const op = "pipeline.Fetch"

	if src.Kind == domain.SourceLocalFile {
		return "", errpkg.Ef(errpkg.KindInvalidInput, op, "local files are not fetched")
	}
	if err := ctx.Err(); err != nil {
		return "", errpkg.E(errpkg.KindCancelled, op, err)
	}
	if err := a.store.CheckWritable(); err != nil {
		return "", err
	}

	key := src.CacheKey()
	for {
		ch := a.flights.DoChan(key, func() (interface{}, error) {
			// A flight that finished just before this one may already
			// have committed the key.
			if p, ok := a.store.Lookup(ctx, key); ok {
				return p, nil
			}
			return a.download(ctx, key, src, onProgress)
		})

		select {
		case <-ctx.Done():
			return "", errpkg.E(errpkg.KindCancelled, op, ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				if res.Shared && ctx.Err() == nil && errors.Is(res.Err, errpkg.ErrCancelled) {
					a.logger.Debug("shared download cancelled by its owner, retrying", "key", key)
					continue
				}
				return "", res.Err
			}
			return res.Val.(string), nil
		}
	}
}

func (a *Acquirer) download(ctx context.Context, key string, src domain.ResolvedSource, onProgress domain.ProgressFunc) (string, error) {
	const op = "pipeline.Fetch"

	dest := a.store.Destination(key, Extension(src))
	path, err := a.fetcher.Download(ctx, src, dest, onProgress)
	if err != nil {
		return "", err
	}

	previous, err := a.store.Commit(ctx, key, path)
	if err != nil {
		if rmErr := a.store.RemoveFile(path); rmErr != nil {
			a.logger.Warn("failed to remove uncommitted download", "path", path, "error", rmErr)
		}
		if ctx.Err() != nil {
			return "", errpkg.E(errpkg.KindCancelled, op, ctx.Err())
		}
		return "", err
	}
	if previous != "" && previous != path {
		if err := a.store.RemoveFile(previous); err != nil {
			a.logger.Warn("failed to remove replaced cache file", "path", previous, "error", err)
		}
	}

	return path, nil
}

// Acquire returns a local file for src, downloading it on a cache miss.
// Local sources are returned as is.
func (a *Acquirer) Acquire(ctx context.Context, src domain.ResolvedSource, onProgress domain.ProgressFunc) (string, bool, error) {
	if src.Kind == domain.SourceLocalFile {
		return src.Path, false, nil
	}
	if p, ok := a.Cached(ctx, src); ok {
		return p, true, nil
	}
	p, err := a.Fetch(ctx, src, onProgress)
	return p, false, err
}

// Extension picks a file extension for src: the container tag for
// provider streams, else the URL's extension, else "bin".
func Extension(src domain.ResolvedSource) string {
	if src.Container != "" {
		return src.Container
	}
	raw := src.NetworkURL()
	if raw == "" {
		raw = src.Path
	}
	if u, err := url.Parse(raw); err == nil {
		raw = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(raw), ".")
	if ext == "" || len(ext) > 8 {
		return "bin"
	}
	return strings.ToLower(ext)
}
