package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"MP_ENV" default:"development"`

	HTTPPort    int           `envconfig:"MP_HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"MP_HTTP_TIMEOUT" default:"15s"`

	CacheDir       string        `envconfig:"MP_CACHE_DIR" default:"./cache"`
	CacheIndexFile string        `envconfig:"MP_CACHE_INDEX_FILE" default:"./cache/index.json"`
	CacheMaxAge    time.Duration `envconfig:"MP_CACHE_MAX_AGE" default:"0s"`

	DownloadTimeout time.Duration `envconfig:"MP_DOWNLOAD_TIMEOUT" default:"10m"`
	MaxFileSize     int64         `envconfig:"MP_MAX_FILE_SIZE" default:"524288000"`

	ProviderBackend      string        `envconfig:"MP_PROVIDER_BACKEND" default:"youtube"`
	ProviderAPIURL       string        `envconfig:"MP_PROVIDER_API_URL"`
	ProviderTimeout      time.Duration `envconfig:"MP_PROVIDER_TIMEOUT" default:"20s"`
	ProviderLinkPatterns []string      `envconfig:"MP_PROVIDER_LINK_PATTERNS"`
	PreferredContainers  []string      `envconfig:"MP_PREFERRED_CONTAINERS" default:"mp4,m4a"`
	AllowPrivateHosts    bool          `envconfig:"MP_ALLOW_PRIVATE_HOSTS" default:"false"`

	PrefetchConcurrency int           `envconfig:"MP_PREFETCH_CONCURRENCY" default:"3"`
	EngineTick          time.Duration `envconfig:"MP_ENGINE_TICK" default:"250ms"`

	// FFmpegPath decodes containers beep cannot (m4a, webm). Empty disables it.
	FFmpegPath    string `envconfig:"MP_FFMPEG_PATH" default:"ffmpeg"`
	DecodeTempDir string `envconfig:"MP_DECODE_TEMP_DIR"`

	UpdateDir      string `envconfig:"MP_UPDATE_DIR" default:"./updates"`
	UpdateStateDir string `envconfig:"MP_UPDATE_STATE_DIR" default:"./updates/jobs"`
	InstallDir     string `envconfig:"MP_INSTALL_DIR" default:"./bin"`

	ShutdownTimeout time.Duration `envconfig:"MP_SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"MP_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"MP_LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive: %d", c.MaxFileSize)
	}

	if c.CacheMaxAge < 0 {
		return fmt.Errorf("cache max age cannot be negative: %s", c.CacheMaxAge)
	}

	if c.PrefetchConcurrency <= 0 {
		return fmt.Errorf("prefetch concurrency must be positive: %d", c.PrefetchConcurrency)
	}

	if c.EngineTick <= 0 {
		return fmt.Errorf("engine tick must be positive: %s", c.EngineTick)
	}

	switch c.ProviderBackend {
	case "youtube":
	case "http":
		if c.ProviderAPIURL == "" {
			return fmt.Errorf("provider API URL is required for the http backend")
		}
	default:
		return fmt.Errorf("unknown provider backend: %q", c.ProviderBackend)
	}

	if len(c.PreferredContainers) == 0 {
		return fmt.Errorf("preferred containers cannot be empty")
	}

	if c.CacheDir == "" {
		return fmt.Errorf("cache directory cannot be empty")
	}
	if c.CacheIndexFile == "" {
		return fmt.Errorf("cache index file cannot be empty")
	}
	if c.UpdateDir == "" || c.UpdateStateDir == "" || c.InstallDir == "" {
		return fmt.Errorf("update directories cannot be empty")
	}

	return nil
}
