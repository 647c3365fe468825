package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/handler"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/agent"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/services"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

func TestIntegration(t *testing.T) {
	// 1. Setup DB
	repo, err := sqlite.NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	cfg := &config.Config{
		JWTSecret:      "e2e-secret",
		AuthCookie:     "token",
		FrontendURL:    "http://localhost:3000",
		TrackRateLimit: 1000,
		TrackRateBurst: 1000,
	}
	if err := repo.SaveUser(ctx, &domain.User{ID: "admin", Role: domain.RoleAdmin, IsActive: true, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	// 2. Setup Services
	tracking := services.NewTrackingService(repo, repo, time.Hour)
	analytics := services.NewAnalyticsService(repo, repo, 30*time.Minute)

	// 3. Setup Router
	mux := handler.NewRouter(cfg, handler.Dependencies{
		Tracking:  tracking,
		Analytics: analytics,
		Users:     repo,
		Schemas:   []ports.SchemaManager{repo},
		Pingers:   []ports.Pinger{repo},
		Indexes:   repo,
		Window:    time.Hour,
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// TEST 1: an anonymous browsing session driven by the Go agent
	anon := agent.New(agent.NewMemoryStorage(), agent.NewHTTPTransport(server.URL+"/api/analytics/track"))
	anon.Start()
	// Events are fire-and-forget; wait after each step so arrival order is fixed.
	anon.Navigate("/")
	anon.Wait()
	anon.Click()
	anon.Click()
	anon.Navigate("/projects")
	anon.Wait()
	anon.Click()
	anon.Navigate("/")
	anon.PageHide()
	anon.BeforeUnload()
	anon.Wait()

	// TEST 2: a signed-in visitor
	userToken, _ := handler.GenerateToken([]byte(cfg.JWTSecret), "42", time.Hour)
	transport := agent.NewHTTPTransport(server.URL + "/api/analytics/track")
	transport.Token = userToken
	member := agent.New(agent.NewMemoryStorage(), transport)
	member.Start()
	member.Navigate("/projects")
	member.Wait()

	home, _ := repo.GetPageStats(ctx, "/")
	if home == nil || home.TotalViews != 2 || home.TotalClicks != 2 || home.AnonymousUsers != 1 {
		t.Errorf("unexpected / counters: %+v", home)
	}
	projects, _ := repo.GetPageStats(ctx, "/projects")
	if projects == nil || projects.TotalViews != 2 || projects.TotalClicks != 1 || projects.RegisteredUsers != 1 || projects.AnonymousUsers != 0 {
		t.Errorf("unexpected /projects counters: %+v", projects)
	}

	// TEST 3: Dashboard
	adminToken, _ := handler.GenerateToken([]byte(cfg.JWTSecret), "admin", time.Hour)
	req, _ := http.NewRequest("GET", server.URL+"/api/analytics/stats?range=30d", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: adminToken})
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Stats expected 200, got %d", resp.StatusCode)
	}
	var report domain.Report
	json.NewDecoder(resp.Body).Decode(&report)
	if report.Stats.TotalViews != 4 || report.Stats.UniqueVisitors != 2 || report.Stats.RegisteredPercentage != 50 {
		t.Errorf("unexpected report stats: %+v", report.Stats)
	}

	// TEST 4: Export (Dump)
	pages, err := analytics.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Errorf("Expected 2 pages in export, got %d", len(pages))
	}
}
