package service

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

// Classifier tags raw inputs.
type Classifier interface {
	Classify(raw string) (domain.Classification, error)
}

// Acquirer brings sources into the local cache.
type Acquirer interface {
	Resolve(ctx context.Context, link string) (domain.ResolvedSource, domain.ItemMetadata, error)
	Acquire(ctx context.Context, src domain.ResolvedSource, onProgress domain.ProgressFunc) (string, bool, error)
}

// PrefetchService warms the cache for a batch of inputs.
type PrefetchService struct {
	classifier  Classifier
	acquirer    Acquirer
	concurrency int
	logger      *slog.Logger
}

func NewPrefetchService(classifier Classifier, acquirer Acquirer, concurrency int, logger *slog.Logger) *PrefetchService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &PrefetchService{
		classifier:  classifier,
		acquirer:    acquirer,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Prefetch acquires every input with bounded concurrency. A failing input
// does not stop the others; each gets its own result, in input order.
func (s *PrefetchService) Prefetch(ctx context.Context, inputs []string) ([]domain.PrefetchResult, error) {
	results := make([]domain.PrefetchResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, input := range inputs {
		g.Go(func() error {
			results[i] = s.prefetchOne(gctx, input)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, errpkg.E(errpkg.KindCancelled, "prefetch", err)
	}

	s.logger.Info("prefetch finished", "inputs", len(inputs))
	return results, nil
}

func (s *PrefetchService) prefetchOne(ctx context.Context, input string) domain.PrefetchResult {
	result := domain.PrefetchResult{Input: input}

	cls, err := s.classifier.Classify(input)
	if err != nil {
		return withError(result, err)
	}

	src := cls.Source
	if cls.NeedsProviderResolution() {
		src, _, err = s.acquirer.Resolve(ctx, cls.ProviderLink)
		if err != nil {
			return withError(result, err)
		}
	}

	result.CacheKey = src.CacheKey()
	if src.Kind == domain.SourceLocalFile {
		result.Path = src.Path
		result.Skipped = true
		return result
	}

	path, cached, err := s.acquirer.Acquire(ctx, src, nil)
	if err != nil {
		s.logger.Warn("prefetch failed", "input", input, "error", err)
		return withError(result, err)
	}
	result.Path = path
	result.Cached = cached
	return result
}

func withError(r domain.PrefetchResult, err error) domain.PrefetchResult {
	r.Error = err.Error()
	r.Kind = string(errpkg.KindOf(err))
	return r
}
