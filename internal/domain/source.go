package domain

import "time"

// MediaRequest is the raw input handed to the pipeline by the UI.
type MediaRequest struct {
	RawInput string
}

// SourceKind tags the variant held by a ResolvedSource.
type SourceKind string

const (
	SourceLocalFile      SourceKind = "local_file"
	SourceRemoteDirect   SourceKind = "remote_direct"
	SourceProviderStream SourceKind = "provider_stream"
)

// ResolvedSource is a tagged variant over a local file, a direct URL and a
// provider stream. Only the fields of the active Kind are meaningful.
type ResolvedSource struct {
	Kind SourceKind `json:"kind"`

	// LocalFile
	Path string `json:"path,omitempty"`

	// RemoteDirect
	URL string `json:"url,omitempty"`

	// ProviderStream
	ItemID          string `json:"item_id,omitempty"`
	StreamURL       string `json:"stream_url,omitempty"`
	Container       string `json:"container,omitempty"`
	Bitrate         int    `json:"bitrate,omitempty"`
	ApproxSizeBytes *int64 `json:"approx_size_bytes,omitempty"`
}

// LocalFile builds a LocalFile source.
func LocalFile(path string) ResolvedSource {
	return ResolvedSource{Kind: SourceLocalFile, Path: path}
}

// RemoteDirect builds a RemoteDirect source.
func RemoteDirect(url string) ResolvedSource {
	return ResolvedSource{Kind: SourceRemoteDirect, URL: url}
}

// NetworkURL returns the URL bytes are fetched from, or "" for local files.
func (s ResolvedSource) NetworkURL() string {
	switch s.Kind {
	case SourceRemoteDirect:
		return s.URL
	case SourceProviderStream:
		return s.StreamURL
	default:
		return ""
	}
}

// CacheKey is the stable identity used to deduplicate downloads: the provider
// item id for provider streams, the URL for direct sources and the path for
// local files. Signed stream URLs are never used as keys.
func (s ResolvedSource) CacheKey() string {
	switch s.Kind {
	case SourceProviderStream:
		return s.ItemID
	case SourceRemoteDirect:
		return s.URL
	default:
		return s.Path
	}
}

// Classification is the outcome of classifying a MediaRequest: either a
// source ready to use or a provider link that still needs resolution.
type Classification struct {
	Source       ResolvedSource
	ProviderLink string
}

// NeedsProviderResolution reports whether the input was a provider link.
func (c Classification) NeedsProviderResolution() bool {
	return c.ProviderLink != ""
}

// ItemMetadata describes a provider item.
type ItemMetadata struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Duration time.Duration `json:"duration"`

	// Handle is backend state FetchItem hands to FetchManifest.
	Handle any `json:"-"`
}

// StreamVariant is one audio-only encoding offered by the provider.
type StreamVariant struct {
	URL       string `json:"url"`
	Container string `json:"container"`
	Bitrate   int    `json:"bitrate"`
	SizeBytes int64  `json:"size,omitempty"`
}
