package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

// HTTPBackend talks to a JSON provider API:
//
//	GET {base}/items?link=...        -> {"id","title","duration_ms"}
//	GET {base}/items/{id}/streams    -> {"streams":[{"url","container","bitrate","size"}]}
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type itemResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	DurationMS int64  `json:"duration_ms"`
}

type manifestResponse struct {
	Streams []struct {
		URL       string `json:"url"`
		Container string `json:"container"`
		Bitrate   int    `json:"bitrate"`
		Size      int64  `json:"size"`
	} `json:"streams"`
}

func (b *HTTPBackend) FetchItem(ctx context.Context, link string) (domain.ItemMetadata, error) {
	const op = "provider.FetchItem"

	var resp itemResponse
	endpoint := b.baseURL + "/items?link=" + url.QueryEscape(link)
	if err := b.getJSON(ctx, op, endpoint, &resp); err != nil {
		return domain.ItemMetadata{}, err
	}

	return domain.ItemMetadata{
		ID:       resp.ID,
		Title:    resp.Title,
		Duration: time.Duration(resp.DurationMS) * time.Millisecond,
	}, nil
}

func (b *HTTPBackend) FetchManifest(ctx context.Context, item domain.ItemMetadata) ([]domain.StreamVariant, error) {
	const op = "provider.FetchManifest"

	var resp manifestResponse
	endpoint := b.baseURL + "/items/" + url.PathEscape(item.ID) + "/streams"
	if err := b.getJSON(ctx, op, endpoint, &resp); err != nil {
		return nil, err
	}

	variants := make([]domain.StreamVariant, 0, len(resp.Streams))
	for _, s := range resp.Streams {
		if s.URL == "" {
			continue
		}
		variants = append(variants, domain.StreamVariant{
			URL:       s.URL,
			Container: s.Container,
			Bitrate:   s.Bitrate,
			SizeBytes: s.Size,
		})
	}
	return variants, nil
}

func (b *HTTPBackend) getJSON(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errpkg.E(errpkg.KindInvalidInput, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errpkg.E(errpkg.KindCancelled, op, ctx.Err())
		}
		return errpkg.E(errpkg.KindNetworkUnavailable, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errpkg.Ef(errpkg.KindItemNotFound, op, "provider returned %s", resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errpkg.Ef(errpkg.KindRateLimited, op, "provider returned %s", resp.Status)
	case resp.StatusCode >= 500:
		return errpkg.Ef(errpkg.KindNetworkUnavailable, op, "provider returned %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return errpkg.Ef(errpkg.KindInvalidInput, op, "provider returned %s", resp.Status)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return errpkg.E(errpkg.KindNetworkUnavailable, op, fmt.Errorf("decode provider response: %w", err))
	}
	return nil
}
