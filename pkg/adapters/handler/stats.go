package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

type StatsHandler struct {
	analytics ports.AnalyticsService
	tracking  ports.TrackingService
	schemas   []ports.SchemaManager
	indexes   ports.IndexManager
	window    time.Duration
	now       func() time.Time
}

func NewStatsHandler(analytics ports.AnalyticsService, tracking ports.TrackingService, window time.Duration, schemas ...ports.SchemaManager) *StatsHandler {
	return &StatsHandler{
		analytics: analytics,
		tracking:  tracking,
		schemas:   schemas,
		window:    window,
		now:       time.Now,
	}
}

// WithIndexes enables the index endpoints against the dedup store.
func (h *StatsHandler) WithIndexes(indexes ports.IndexManager) *StatsHandler {
	h.indexes = indexes
	return h
}

// Stats handles GET /api/analytics/stats?range=7d.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	report, err := h.analytics.Report(r.Context(), domain.ParseTimeRange(r.URL.Query().Get("range")))
	if err != nil {
		slog.Error("build report failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Pages handles GET /api/analytics/pages?page=&range=7d.
func (h *StatsHandler) Pages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pages, err := h.analytics.Pages(r.Context(), q.Get("page"), domain.ParseTimeRange(q.Get("range")))
	if err != nil {
		slog.Error("page breakdown failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

type visitorSample struct {
	VisitorKey      string    `json:"visitorKey"`
	Page            string    `json:"page"`
	IsRegistered    bool      `json:"isRegistered"`
	VisitorType     string    `json:"visitorType"`
	LastVisit       time.Time `json:"lastVisit"`
	ExpiresInSecond int64     `json:"expiresInSeconds"`
}

// Visitors handles GET /api/analytics/visitors: the dedup store size plus a
// few sample records with their remaining lifetime.
func (h *StatsHandler) Visitors(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tracking.VisitStats(r.Context())
	if err != nil {
		slog.Error("visit stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	now := h.now()
	samples := make([]visitorSample, 0, len(stats.Samples))
	for i := range stats.Samples {
		v := &stats.Samples[i]
		kind := "anonymous"
		if v.IsRegistered {
			kind = "registered"
		}
		samples = append(samples, visitorSample{
			VisitorKey:      v.VisitorKey,
			Page:            v.Page,
			IsRegistered:    v.IsRegistered,
			VisitorType:     kind,
			LastVisit:       v.LastVisit,
			ExpiresInSecond: int64(v.ExpiresIn(now, h.window) / time.Second),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uniqueVisitorRecords": stats.Count,
		"windowSeconds":        int64(h.window / time.Second),
		"samples":              samples,
	})
}

// Setup handles POST /api/analytics/setup. Safe to call repeatedly.
func (h *StatsHandler) Setup(w http.ResponseWriter, r *http.Request) {
	results := []string{}
	for _, s := range h.schemas {
		res, err := s.EnsureSchema(r.Context())
		results = append(results, res...)
		if err != nil {
			slog.Error("ensure schema failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":   "Failed to set up indexes",
				"results": results,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Indexes ready",
		"results": results,
	})
}

// Sweep handles POST /api/analytics/sweep.
func (h *StatsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.tracking.Sweep(r.Context())
	if err != nil {
		slog.Error("manual sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	slog.Info("manual sweep", "removed", removed)
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// Indexes handles GET /api/analytics/indexes.
func (h *StatsHandler) Indexes(w http.ResponseWriter, r *http.Request) {
	if h.indexes == nil {
		writeError(w, http.StatusNotImplemented, "Index management is not supported by this store")
		return
	}
	indexes, err := h.indexes.ListIndexes(r.Context())
	if err != nil {
		slog.Error("list indexes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"indexes": indexes,
		"total":   len(indexes),
	})
}

// DropIndex handles DELETE /api/analytics/indexes/{name}. POST /setup
// recreates the managed indexes.
func (h *StatsHandler) DropIndex(w http.ResponseWriter, r *http.Request) {
	if h.indexes == nil {
		writeError(w, http.StatusNotImplemented, "Index management is not supported by this store")
		return
	}
	name := r.PathValue("name")
	err := h.indexes.DropIndex(r.Context(), name)

	var verr *domain.ValidationError
	switch {
	case err == nil:
		slog.Info("index dropped", "index", name)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Index dropped", "name": name})
	case errors.Is(err, domain.ErrIndexNotFound):
		writeError(w, http.StatusNotFound, "Index not found")
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	default:
		slog.Error("drop index failed", "index", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
