package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/handler"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/services"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/workers"
)

func main() {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Repository
	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	backend, err := repository.Open(connectCtx, cfg)
	connectCancel()
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// Initialize Services
	tracking := services.NewTrackingService(backend.Visits, backend.Pages, cfg.DedupWindow)
	analytics := services.NewAnalyticsService(backend.Pages, backend.Users, cfg.ActiveWindow)

	go workers.NewSweeper(tracking, cfg.SweepInterval).Run(ctx)

	// Initialize Router
	mux := handler.NewRouter(cfg, handler.Dependencies{
		Tracking:  tracking,
		Analytics: analytics,
		Users:     backend.Users,
		Schemas:   backend.Schemas,
		Pingers:   backend.Pingers,
		Indexes:   backend.Indexes,
		Window:    tracking.Window(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.AppEnv, "dedup_window", cfg.DedupWindow.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
}
