package handler

import (
	"net/http"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// Readiness pings every store and reports 503 if any is down.
func Readiness(stores ...ports.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := true
		for _, s := range stores {
			if err := s.Ping(r.Context()); err != nil {
				ready = false
				break
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"ready":     ready,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
