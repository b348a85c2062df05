package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

type fakeBackend struct {
	item        domain.ItemMetadata
	itemErr     error
	variants    []domain.StreamVariant
	manifestErr error

	itemCalls     int
	manifestCalls int
	gotHandle     any
}

func (f *fakeBackend) FetchItem(ctx context.Context, link string) (domain.ItemMetadata, error) {
	f.itemCalls++
	return f.item, f.itemErr
}

func (f *fakeBackend) FetchManifest(ctx context.Context, item domain.ItemMetadata) ([]domain.StreamVariant, error) {
	f.manifestCalls++
	f.gotHandle = item.Handle
	return f.variants, f.manifestErr
}

func TestResolver_Resolve_PrefersCompatibleContainer(t *testing.T) {
	backend := &fakeBackend{
		item: domain.ItemMetadata{ID: "abc123", Title: "Song", Duration: 3 * time.Minute},
		variants: []domain.StreamVariant{
			{URL: "https://cdn.example/webm", Container: "webm", Bitrate: 160000},
			{URL: "https://cdn.example/m4a", Container: "m4a", Bitrate: 128000, SizeBytes: 4096},
		},
	}
	r := NewResolver(backend, []string{"mp4", "m4a"}, nil)

	src, item, err := r.Resolve(context.Background(), "https://provider.example/watch?id=abc123")
	require.NoError(t, err)

	assert.Equal(t, domain.SourceProviderStream, src.Kind)
	assert.Equal(t, "abc123", src.ItemID)
	assert.Equal(t, "https://cdn.example/m4a", src.StreamURL)
	assert.Equal(t, "m4a", src.Container)
	assert.Equal(t, 128000, src.Bitrate)
	require.NotNil(t, src.ApproxSizeBytes)
	assert.Equal(t, int64(4096), *src.ApproxSizeBytes)
	assert.Equal(t, "abc123", src.CacheKey())
	assert.Equal(t, "Song", item.Title)
}

func TestResolver_Resolve_FallsBackToHighestBitrate(t *testing.T) {
	backend := &fakeBackend{
		item: domain.ItemMetadata{ID: "x"},
		variants: []domain.StreamVariant{
			{URL: "low", Container: "webm", Bitrate: 64000},
			{URL: "high", Container: "webm", Bitrate: 160000},
		},
	}
	r := NewResolver(backend, []string{"m4a"}, nil)

	src, _, err := r.Resolve(context.Background(), "link")
	require.NoError(t, err)
	assert.Equal(t, "high", src.StreamURL)
	assert.Nil(t, src.ApproxSizeBytes)
}

func TestResolver_Resolve_NormalisesVariant(t *testing.T) {
	backend := &fakeBackend{
		item:     domain.ItemMetadata{ID: "x"},
		variants: []domain.StreamVariant{{URL: "u", Bitrate: -5, SizeBytes: -1}},
	}
	r := NewResolver(backend, nil, nil)

	src, _, err := r.Resolve(context.Background(), "link")
	require.NoError(t, err)
	assert.Equal(t, 0, src.Bitrate)
	assert.Equal(t, "bin", src.Container)
	assert.Nil(t, src.ApproxSizeBytes)
}

func TestResolver_Resolve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		backend  *fakeBackend
		wantKind errpkg.Kind
	}{
		{
			name:     "item not found",
			backend:  &fakeBackend{itemErr: errpkg.E(errpkg.KindItemNotFound, "test", nil)},
			wantKind: errpkg.KindItemNotFound,
		},
		{
			name:     "rate limited",
			backend:  &fakeBackend{itemErr: errpkg.E(errpkg.KindRateLimited, "test", nil)},
			wantKind: errpkg.KindRateLimited,
		},
		{
			name: "manifest network failure",
			backend: &fakeBackend{
				item:        domain.ItemMetadata{ID: "x"},
				manifestErr: errpkg.E(errpkg.KindNetworkUnavailable, "test", nil),
			},
			wantKind: errpkg.KindNetworkUnavailable,
		},
		{
			name:     "empty manifest",
			backend:  &fakeBackend{item: domain.ItemMetadata{ID: "x"}},
			wantKind: errpkg.KindItemNotFound,
		},
		{
			name:     "missing item id",
			backend:  &fakeBackend{},
			wantKind: errpkg.KindItemNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.backend, []string{"m4a"}, nil)
			_, _, err := r.Resolve(context.Background(), "link")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errpkg.KindOf(err))
		})
	}
}

func TestResolver_Resolve_Cancelled(t *testing.T) {
	backend := &fakeBackend{item: domain.ItemMetadata{ID: "x"}}
	r := NewResolver(backend, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Resolve(ctx, "link")
	assert.ErrorIs(t, err, errpkg.ErrCancelled)
	assert.Equal(t, 0, backend.itemCalls)
}

func TestResolver_Resolve_HandsBackendStateThrough(t *testing.T) {
	state := &struct{ id string }{id: "abc123"}
	backend := &fakeBackend{
		item:     domain.ItemMetadata{ID: "abc123", Handle: state},
		variants: []domain.StreamVariant{{URL: "https://cdn.example/m4a", Container: "m4a"}},
	}
	r := NewResolver(backend, []string{"m4a"}, nil)

	_, item, err := r.Resolve(context.Background(), "https://provider.example/watch?id=abc123")
	require.NoError(t, err)
	assert.Same(t, state, backend.gotHandle)
	assert.Nil(t, item.Handle)
}
