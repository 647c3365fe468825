package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

const maxEventBytes = 16 << 10

type TrackingHandler struct {
	service ports.TrackingService
}

func NewTrackingHandler(service ports.TrackingService) *TrackingHandler {
	return &TrackingHandler{service: service}
}

// Track handles POST /api/analytics/track. Beacons arrive as text/plain, so
// the body is decoded as JSON whatever the content type.
func (h *TrackingHandler) Track(w http.ResponseWriter, r *http.Request) {
	var event domain.TrackingEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identity := domain.Identity{
		UserID:    UserIDFromContext(r.Context()),
		SessionID: event.SessionID,
	}

	result, err := h.service.Track(r.Context(), event, identity)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message)
			return
		}
		slog.Error("track event failed", "page", event.Page, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	slog.Debug("tracked",
		"page", event.Page,
		"visitor", result.VisitorKey,
		"initial_view", event.IsInitialView,
		"counted_new", result.CountedNew,
		"clicks", result.Delta.Clicks,
	)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Page stats updated successfully"})
}
