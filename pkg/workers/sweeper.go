// Package workers runs the background jobs of the analytics service.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

// Sweeper periodically deletes visit records that left the dedup window.
// Backends with native expiry sweep nothing and report 0.
type Sweeper struct {
	tracking ports.TrackingService
	interval time.Duration
}

func NewSweeper(tracking ports.TrackingService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{tracking: tracking, interval: interval}
}

// Run blocks until ctx is cancelled. It sweeps once at start-up.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("visit sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-ctx.Done():
			slog.Info("visit sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	removed, err := s.tracking.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("visit sweep failed", "error", err)
		}
		return
	}
	if removed > 0 {
		slog.Info("swept expired visits", "removed", removed)
	}
}
