package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

// YouTubeBackend resolves links through github.com/kkdai/youtube.
type YouTubeBackend struct {
	client *youtube.Client
}

func NewYouTubeBackend(httpClient *http.Client) *YouTubeBackend {
	return &YouTubeBackend{
		client: &youtube.Client{HTTPClient: httpClient},
	}
}

func (b *YouTubeBackend) FetchItem(ctx context.Context, link string) (domain.ItemMetadata, error) {
	const op = "provider.youtube.FetchItem"

	video, err := b.client.GetVideoContext(ctx, link)
	if err != nil {
		return domain.ItemMetadata{}, youtubeError(ctx, op, err)
	}

	return domain.ItemMetadata{
		ID:       video.ID,
		Title:    video.Title,
		Duration: video.Duration,
		Handle:   video,
	}, nil
}

func (b *YouTubeBackend) FetchManifest(ctx context.Context, item domain.ItemMetadata) ([]domain.StreamVariant, error) {
	const op = "provider.youtube.FetchManifest"

	video, ok := item.Handle.(*youtube.Video)
	if !ok || video == nil || video.ID != item.ID {
		fetched, err := b.client.GetVideoContext(ctx, item.ID)
		if err != nil {
			return nil, youtubeError(ctx, op, err)
		}
		video = fetched
	}

	var variants []domain.StreamVariant
	for i := range video.Formats {
		f := &video.Formats[i]
		if f.AudioChannels == 0 || f.Width != 0 {
			continue
		}

		streamURL, err := b.client.GetStreamURLContext(ctx, video, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, youtubeError(ctx, op, err)
			}
			continue
		}

		variants = append(variants, domain.StreamVariant{
			URL:       streamURL,
			Container: containerForMime(f.MimeType),
			Bitrate:   bitrateForFormat(f),
			SizeBytes: f.ContentLength,
		})
	}
	return variants, nil
}

func bitrateForFormat(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return 0
}

// containerForMime maps "audio/mp4; codecs=..." style MIME types to the
// container tag used for ranking and file extensions.
func containerForMime(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	switch strings.TrimSpace(strings.ToLower(mime)) {
	case "audio/mp4":
		return "m4a"
	case "audio/webm":
		return "webm"
	case "audio/mpeg":
		return "mp3"
	}
	parts := strings.Split(mime, "/")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}
	return "bin"
}

func youtubeError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errpkg.E(errpkg.KindCancelled, op, ctx.Err())
	}

	switch {
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return errpkg.E(errpkg.KindItemNotFound, op, err)
	case errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return errpkg.E(errpkg.KindInvalidInput, op, err)
	}

	var playability *youtube.ErrPlayabiltyStatus
	if errors.As(err, &playability) {
		return errpkg.E(errpkg.KindItemNotFound, op, err)
	}

	var status youtube.ErrUnexpectedStatusCode
	if errors.As(err, &status) {
		switch int(status) {
		case http.StatusTooManyRequests:
			return errpkg.E(errpkg.KindRateLimited, op, err)
		case http.StatusNotFound:
			return errpkg.E(errpkg.KindItemNotFound, op, err)
		}
	}

	return errpkg.E(errpkg.KindNetworkUnavailable, op, err)
}
