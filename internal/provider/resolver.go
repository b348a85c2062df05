package provider

import (
	"context"
	"log/slog"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
	"github.com/veranemoloko/media-pipeline/internal/metrics"
)

// Backend is the provider's read-only API: item metadata and the manifest
// of audio-only variants for an item.
type Backend interface {
	FetchItem(ctx context.Context, link string) (domain.ItemMetadata, error)
	FetchManifest(ctx context.Context, item domain.ItemMetadata) ([]domain.StreamVariant, error)
}

// Resolver turns provider links into ProviderStream sources.
type Resolver struct {
	backend   Backend
	preferred []string
	logger    *slog.Logger
}

func NewResolver(backend Backend, preferred []string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		backend:   backend,
		preferred: append([]string(nil), preferred...),
		logger:    logger,
	}
}

// Resolve fetches metadata and the variant manifest for link and returns
// the highest ranked variant. It downloads nothing.
func (r *Resolver) Resolve(ctx context.Context, link string) (domain.ResolvedSource, domain.ItemMetadata, error) {
	const op = "provider.Resolve"

	if err := ctx.Err(); err != nil {
		return domain.ResolvedSource{}, domain.ItemMetadata{}, errpkg.E(errpkg.KindCancelled, op, err)
	}

	item, err := r.backend.FetchItem(ctx, link)
	if err != nil {
		return r.fail(ctx, op, link, err)
	}
	if item.ID == "" {
		return r.fail(ctx, op, link, errpkg.Ef(errpkg.KindItemNotFound, op, "provider returned no item id for %q", link))
	}

	variants, err := r.backend.FetchManifest(ctx, item)
	item.Handle = nil
	if err != nil {
		return r.fail(ctx, op, link, err)
	}
	if len(variants) == 0 {
		return r.fail(ctx, op, link, errpkg.Ef(errpkg.KindItemNotFound, op, "no audio variants for item %s", item.ID))
	}

	chosen := RankVariants(variants, r.preferred)[0]

	src := domain.ResolvedSource{
		Kind:      domain.SourceProviderStream,
		ItemID:    item.ID,
		StreamURL: chosen.URL,
		Container: normalizeContainer(chosen.Container),
		Bitrate:   chosen.Bitrate,
	}
	if src.Container == "" {
		src.Container = "bin"
	}
	if src.Bitrate < 0 {
		src.Bitrate = 0
	}
	if chosen.SizeBytes > 0 {
		size := chosen.SizeBytes
		src.ApproxSizeBytes = &size
	}

	metrics.Resolutions.WithLabelValues("success").Inc()
	r.logger.Info("provider link resolved",
		"item_id", item.ID,
		"title", item.Title,
		"container", src.Container,
		"bitrate", src.Bitrate,
		"variants", len(variants))

	return src, item, nil
}

func (r *Resolver) fail(ctx context.Context, op, link string, err error) (domain.ResolvedSource, domain.ItemMetadata, error) {
	if ctx.Err() != nil {
		err = errpkg.E(errpkg.KindCancelled, op, ctx.Err())
	}
	kind := errpkg.KindOf(err)
	metrics.Resolutions.WithLabelValues(string(kind)).Inc()
	if kind != errpkg.KindCancelled {
		r.logger.Warn("provider resolution failed", "link", link, "kind", kind, "error", err)
	}
	return domain.ResolvedSource{}, domain.ItemMetadata{}, err
}
