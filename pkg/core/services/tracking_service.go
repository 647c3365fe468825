package services

import (
	"context"
	"fmt"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

// DefaultDedupWindow is how long a visitor stays counted once seen.
const DefaultDedupWindow = time.Hour

type TrackingService struct {
	visits ports.VisitStore
	pages  ports.PageCounterStore
	window time.Duration
	now    func() time.Time
}

func NewTrackingService(visits ports.VisitStore, pages ports.PageCounterStore, window time.Duration) *TrackingService {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &TrackingService{
		visits: visits,
		pages:  pages,
		window: window,
		now:    time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *TrackingService) WithClock(now func() time.Time) *TrackingService {
	s.now = now
	return s
}

// Window returns the dedup window in use.
func (s *TrackingService) Window() time.Duration {
	return s.window
}

// Track attributes the event to a visitor and applies it to the counters.
//
// The dedup lookup and write are not one transaction: two first views from the
// same visitor racing each other can both count as new. Page counters are
// always a single atomic upsert.
func (s *TrackingService) Track(ctx context.Context, event domain.TrackingEvent, identity domain.Identity) (*domain.TrackResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	result := &domain.TrackResult{
		VisitorKey:   identity.VisitorKey(),
		IsRegistered: identity.Registered(),
	}

	if event.CountsForUniqueness() {
		visit := &domain.Visit{
			VisitorKey:   result.VisitorKey,
			Page:         event.Page,
			IsRegistered: result.IsRegistered,
			UserID:       identity.UserID,
			SessionID:    identity.Session(),
			LastVisit:    now,
		}
		wasNew, err := s.visits.UpsertOrRefresh(ctx, visit, now, s.window)
		if err != nil {
			return nil, fmt.Errorf("dedup visitor %s: %w", result.VisitorKey, err)
		}
		result.CountedNew = wasNew
	}

	delta := domain.PageDelta{
		Page:   event.Page,
		Clicks: event.TotalClicks,
	}
	if event.IsInitialView {
		delta.Views = 1
		if result.CountedNew {
			if result.IsRegistered {
				delta.Registered = 1
			} else {
				delta.Anonymous = 1
			}
		}
	}

	if err := s.pages.ApplyEvent(ctx, delta, now); err != nil {
		return nil, fmt.Errorf("update page %s: %w", event.Page, err)
	}
	result.Delta = delta

	return result, nil
}

// Sweep removes visit records that left the dedup window.
func (s *TrackingService) Sweep(ctx context.Context) (int64, error) {
	return s.visits.Sweep(ctx, s.now().Add(-s.window))
}

// VisitStats returns the dedup store size and a few samples.
func (s *TrackingService) VisitStats(ctx context.Context) (*domain.VisitStats, error) {
	return s.visits.VisitStats(ctx, 3)
}

var _ ports.TrackingService = (*TrackingService)(nil)
