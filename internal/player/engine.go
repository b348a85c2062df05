package player

import (
	"context"
	"time"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// Engine is the audio output capability the controller drives. Events
// reports position, duration and status changes, each stamped with the tag
// given to the SetSource call that loaded the source.
type Engine interface {
	SetSource(ctx context.Context, src string, tag uint64) error
	Play() error
	Pause() error
	Stop() error
	Seek(pos time.Duration) error
	CanStream(url string) bool
	Events() <-chan domain.EngineEvent
}

// Classifier tags a raw input.
type Classifier interface {
	Classify(raw string) (domain.Classification, error)
}

// Acquirer resolves provider links and brings network sources into the
// local cache.
type Acquirer interface {
	Resolve(ctx context.Context, link string) (domain.ResolvedSource, domain.ItemMetadata, error)
	Cached(ctx context.Context, src domain.ResolvedSource) (string, bool)
	Fetch(ctx context.Context, src domain.ResolvedSource, onProgress domain.ProgressFunc) (string, error)
}
