package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/veranemoloko/media-pipeline/internal/api/http"
	"github.com/veranemoloko/media-pipeline/internal/cache"
	"github.com/veranemoloko/media-pipeline/internal/classifier"
	cfgpkg "github.com/veranemoloko/media-pipeline/internal/config"
	"github.com/veranemoloko/media-pipeline/internal/decode"
	"github.com/veranemoloko/media-pipeline/internal/downloader"
	"github.com/veranemoloko/media-pipeline/internal/engine"
	"github.com/veranemoloko/media-pipeline/internal/pipeline"
	"github.com/veranemoloko/media-pipeline/internal/player"
	"github.com/veranemoloko/media-pipeline/internal/provider"
	repo "github.com/veranemoloko/media-pipeline/internal/repository"
	svc "github.com/veranemoloko/media-pipeline/internal/service"
	"github.com/veranemoloko/media-pipeline/internal/storage"
	"github.com/veranemoloko/media-pipeline/internal/validation"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			slog.Error("configuration file not found", "error", err)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully", "environment", cfg.Environment)

	cacheIndex, err := repo.NewCacheStorage(cfg.CacheIndexFile)
	if err != nil {
		logger.Error("failed to initialize cache index", "error", err)
		os.Exit(1)
	}
	mediaCache := cache.New(cacheIndex, storage.NewFileStorage(cfg.CacheDir), cfg.CacheMaxAge, logger)
	if _, err := mediaCache.Sweep(context.Background()); err != nil {
		logger.Warn("failed to sweep cache directory", "error", err)
	}

	validator := validation.New(cfg.AllowPrivateHosts)
	cls, err := classifier.New(cfg.ProviderLinkPatterns, validator)
	if err != nil {
		logger.Error("invalid provider link patterns", "error", err)
		os.Exit(1)
	}

	providerClient := &http.Client{Timeout: cfg.ProviderTimeout}
	var backend provider.Backend
	switch cfg.ProviderBackend {
	case "http":
		backend = provider.NewHTTPBackend(cfg.ProviderAPIURL, providerClient)
	default:
		backend = provider.NewYouTubeBackend(providerClient)
	}
	resolver := provider.NewResolver(backend, cfg.PreferredContainers, logger)

	dl := downloader.New(nil, cfg.DownloadTimeout, cfg.MaxFileSize, logger)
	acquirer := pipeline.NewAcquirer(resolver, dl, mediaCache, logger)

	decoder := decode.New(cfg.FFmpegPath, cfg.DecodeTempDir, logger)
	logger.Info("audio decoder ready", "ffmpeg", decoder.External())
	audio := engine.NewBeep(cfg.EngineTick, decoder, logger)
	controller := player.NewController(cls, acquirer, audio, logger)
	prefetcher := svc.NewPrefetchService(cls, acquirer, cfg.PrefetchConcurrency, logger)

	jobs, err := storage.NewJobStorage(cfg.UpdateStateDir)
	if err != nil {
		logger.Error("failed to initialize update job storage", "error", err)
		os.Exit(1)
	}
	updates := svc.NewUpdateService(jobs, dl, svc.NewFileInstaller(cfg.InstallDir), validator, nil, cfg.UpdateDir, logger)

	if n, err := updates.RecoverPendingJobs(context.Background()); err != nil {
		logger.Error("failed to recover pending update jobs", "error", err)
	} else if n > 0 {
		logger.Info("recovered update jobs", "count", n)
	}

	router := h.NewRouter(h.Deps{
		Player:     controller,
		Cache:      mediaCache,
		Prefetcher: prefetcher,
		Updates:    updates,
		Logger:     logger,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	controller.Close()
	if err := audio.Close(); err != nil {
		logger.Error("audio engine close failed", "error", err)
	}
	if err := updates.Shutdown(shutdownCtx); err != nil {
		logger.Error("update service shutdown failed", "error", err)
	}
}
