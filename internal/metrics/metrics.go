package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_pipeline_resolutions_total",
		Help: "Provider resolutions by outcome kind",
	}, []string{"result"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_cache_hits_total",
		Help: "Total number of cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_cache_misses_total",
		Help: "Total number of cache misses, including self-healed entries",
	})

	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_cache_invalidations_total",
		Help: "Total number of cache entries removed",
	})

	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_downloads_total",
		Help: "Total number of download attempts",
	})

	DownloadsSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_downloads_success_total",
		Help: "Total number of successful downloads",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_downloads_failed_total",
		Help: "Total number of failed downloads",
	})

	DownloadsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_downloads_cancelled_total",
		Help: "Total number of cancelled downloads",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "media_pipeline_download_duration_seconds",
		Help:    "Download duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_pipeline_download_bytes_total",
		Help: "Total bytes downloaded",
	})

	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_pipeline_phase_transitions_total",
		Help: "Playback controller phase transitions by target phase",
	}, []string{"phase"})

	UpdateJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_pipeline_update_jobs_total",
		Help: "Update jobs by final status",
	}, []string{"status"})
)
