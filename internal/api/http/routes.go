package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps groups the services the router exposes.
type Deps struct {
	Player     PlayerService
	Cache      CacheService
	Prefetcher Prefetcher
	Updates    UpdateServiceI
	Logger     *slog.Logger
}

// NewRouter creates the HTTP router with player, cache and update routes,
// a health check and the Prometheus metrics endpoint.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	playerHandler := NewPlayerHandler(deps.Player, deps.Logger)
	cacheHandler := NewCacheHandler(deps.Cache, deps.Prefetcher, deps.Logger)
	updateHandler := NewUpdateHandler(deps.Updates, deps.Logger)

	r.Route("/player", func(r chi.Router) {
		r.Post("/play", playerHandler.Play)
		r.Post("/pause", playerHandler.Pause)
		r.Post("/resume", playerHandler.Resume)
		r.Post("/stop", playerHandler.Stop)
		r.Post("/seek", playerHandler.Seek)
		r.Get("/state", playerHandler.State)
		r.Get("/events", playerHandler.Events)
	})

	r.Route("/cache", func(r chi.Router) {
		r.Get("/", cacheHandler.List)
		r.Delete("/", cacheHandler.Clear)
		r.Post("/prefetch", cacheHandler.Prefetch)
		r.Delete("/{key}", cacheHandler.Invalidate)
	})

	r.Route("/updates", func(r chi.Router) {
		r.Post("/", updateHandler.CreateJob)
		r.Get("/{jobID}", updateHandler.GetJob)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
