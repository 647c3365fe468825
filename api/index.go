package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/handler"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/services"
)

var mux http.Handler

func init() {
	cfg := config.Load()

	// Note: On Vercel, a SQLite file is ephemeral; point DATABASE_URL at Turso,
	// Postgres or MongoDB. No background sweeper runs here, so use the sweep
	// endpoint from a cron job or a backend with native expiry.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	backend, err := repository.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}

	tracking := services.NewTrackingService(backend.Visits, backend.Pages, cfg.DedupWindow)
	analytics := services.NewAnalyticsService(backend.Pages, backend.Users, cfg.ActiveWindow)

	mux = handler.NewRouter(cfg, handler.Dependencies{
		Tracking:  tracking,
		Analytics: analytics,
		Users:     backend.Users,
		Schemas:   backend.Schemas,
		Pingers:   backend.Pingers,
		Indexes:   backend.Indexes,
		Window:    tracking.Window(),
	})
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}
