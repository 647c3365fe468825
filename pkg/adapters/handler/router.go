package handler

import (
	"net/http"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
	"github.com/wadjakorntonsri/portfolio-analytics/web"
)

// Dependencies is everything the router needs from cmd/server.
type Dependencies struct {
	Tracking  ports.TrackingService
	Analytics ports.AnalyticsService
	Users     ports.UserDirectory
	// Schemas are the stores EnsureSchema runs against on /setup.
	Schemas []ports.SchemaManager
	// Pingers back /readyz.
	Pingers []ports.Pinger
	// Indexes is the dedup store's index manager; nil when it has none.
	Indexes ports.IndexManager
	Window  time.Duration
}

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	mw := NewMiddleware(cfg, deps.Users)
	th := NewTrackingHandler(deps.Tracking)
	sh := NewStatsHandler(deps.Analytics, deps.Tracking, deps.Window, deps.Schemas...).WithIndexes(deps.Indexes)
	authHandler := NewAuthHandler(cfg, deps.Users)

	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /healthz", Health)
	mux.HandleFunc("GET /readyz", Readiness(deps.Pingers...))
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(web.Static())))
	if authHandler.Enabled() {
		mux.HandleFunc("GET /auth/google/login", authHandler.Login)
		mux.HandleFunc("GET /auth/google/callback", authHandler.Callback)
		mux.HandleFunc("GET /auth/logout", authHandler.Logout)
	}

	// Tracking accepts anonymous and signed-in visitors alike.
	mux.Handle("POST /api/analytics/track", Chain(http.HandlerFunc(th.Track), mw.RateLimit, mw.Identity))

	// Admin routes
	admin := func(h http.HandlerFunc) http.Handler {
		return Chain(h, mw.Identity, mw.RequireAdmin)
	}
	mux.Handle("GET /api/analytics/stats", admin(sh.Stats))
	mux.Handle("GET /api/analytics/pages", admin(sh.Pages))
	mux.Handle("GET /api/analytics/visitors", admin(sh.Visitors))
	mux.Handle("GET /api/analytics/indexes", admin(sh.Indexes))
	mux.Handle("DELETE /api/analytics/indexes/{name}", admin(sh.DropIndex))
	mux.Handle("POST /api/analytics/setup", admin(sh.Setup))
	mux.Handle("POST /api/analytics/sweep", admin(sh.Sweep))

	return Chain(mux, mw.Logger, mw.CORS)
}
