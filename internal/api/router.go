package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/MaxwellShipley/OS-zoom-app/internal/api/middleware"
	"github.com/MaxwellShipley/OS-zoom-app/internal/handlers"
	"github.com/MaxwellShipley/OS-zoom-app/internal/store"
	"github.com/MaxwellShipley/OS-zoom-app/internal/ws"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, wsHandler *ws.Handler, redisStore *store.RedisStore, rateLimitWhitelist []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting, only when Redis is configured
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, rateLimitWhitelist)
		r.Use(limiter.Middleware)
	}

	// CORS - session clients connect from the embedded meeting browser,
	// agents from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// The relay itself
	r.Get("/ws", wsHandler.Handle)

	// Health, stats and read-only meeting views
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/meetings/{id}", h.Meeting)
	r.Get("/meetings/{id}/history/{userId}", h.ScoreHistory)
	r.Get("/", serveOverlayPage)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir()))))

	return r
}

// staticDir returns the path to static files directory.
func staticDir() string {
	// Check if running from app directory (production container)
	if _, err := os.Stat("/app/public"); err == nil {
		return "/app/public"
	}
	return "public"
}

// serveOverlayPage serves the in-meeting overlay page.
func serveOverlayPage(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, staticDir()+"/index.html")
}
