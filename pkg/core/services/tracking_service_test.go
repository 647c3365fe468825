package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository/memory"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
)

func newTracking(t *testing.T) (*TrackingService, *memory.Store, *time.Time) {
	t.Helper()
	store := memory.NewStore()
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	svc := NewTrackingService(store, store, time.Hour).WithClock(func() time.Time { return now })
	return svc, store, &now
}

func firstView(page string) domain.TrackingEvent {
	return domain.TrackingEvent{Page: page, IsInitialView: true, IsFirstVisitToPage: true}
}

func TestTrackDeltas(t *testing.T) {
	tests := []struct {
		name       string
		event      domain.TrackingEvent
		identity   domain.Identity
		wantKey    string
		wantDelta  domain.PageDelta
		wantCounts bool
	}{
		{
			name:       "anonymous first view",
			event:      firstView("/"),
			identity:   domain.Identity{SessionID: "abc"},
			wantKey:    "session_abc",
			wantDelta:  domain.PageDelta{Page: "/", Views: 1, Anonymous: 1},
			wantCounts: true,
		},
		{
			name:       "registered first view",
			event:      firstView("/"),
			identity:   domain.Identity{UserID: "9", SessionID: "abc"},
			wantKey:    "user_9",
			wantDelta:  domain.PageDelta{Page: "/", Views: 1, Registered: 1},
			wantCounts: true,
		},
		{
			name:      "repeat view in session",
			event:     domain.TrackingEvent{Page: "/", IsInitialView: true},
			identity:  domain.Identity{SessionID: "abc"},
			wantKey:   "session_abc",
			wantDelta: domain.PageDelta{Page: "/", Views: 1},
		},
		{
			name:      "click flush",
			event:     domain.TrackingEvent{Page: "/", TotalClicks: 4},
			identity:  domain.Identity{},
			wantKey:   "session_unknown",
			wantDelta: domain.PageDelta{Page: "/", Clicks: 4},
		},
		{
			name:      "first visit flag without initial view",
			event:     domain.TrackingEvent{Page: "/", IsFirstVisitToPage: true, TotalClicks: 1},
			identity:  domain.Identity{SessionID: "abc"},
			wantKey:   "session_abc",
			wantDelta: domain.PageDelta{Page: "/", Clicks: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTracking(t)
			res, err := svc.Track(context.Background(), tt.event, tt.identity)
			if err != nil {
				t.Fatal(err)
			}
			if res.VisitorKey != tt.wantKey {
				t.Errorf("visitor key %q want %q", res.VisitorKey, tt.wantKey)
			}
			if res.Delta != tt.wantDelta {
				t.Errorf("delta %+v want %+v", res.Delta, tt.wantDelta)
			}
			if res.CountedNew != tt.wantCounts {
				t.Errorf("countedNew %v want %v", res.CountedNew, tt.wantCounts)
			}
			v, _ := store.GetVisit(context.Background(), tt.wantKey)
			if tt.event.CountsForUniqueness() != (v != nil) {
				t.Errorf("dedup store touched=%v, want %v", v != nil, tt.event.CountsForUniqueness())
			}
		})
	}
}

func TestTrackUniquenessIsPerVisitorNotPerPage(t *testing.T) {
	svc, store, now := newTracking(t)
	ctx := context.Background()
	id := domain.Identity{SessionID: "s"}

	svc.Track(ctx, firstView("/a"), id)
	*now = now.Add(59 * time.Minute)
	res, _ := svc.Track(ctx, firstView("/b"), id)
	if res.CountedNew {
		t.Error("second page inside the window counted as a new visitor")
	}

	// The refresh at 59m moved the window forward.
	*now = now.Add(59 * time.Minute)
	res, _ = svc.Track(ctx, firstView("/a"), id)
	if res.CountedNew {
		t.Error("window was not extended by the refresh")
	}

	*now = now.Add(61 * time.Minute)
	res, _ = svc.Track(ctx, firstView("/a"), id)
	if !res.CountedNew {
		t.Error("visitor should count again after the window")
	}

	a, _ := store.GetPageStats(ctx, "/a")
	if a.AnonymousUsers != 2 || a.TotalViews != 3 {
		t.Errorf("unexpected /a counters %+v", a)
	}
}

func TestTrackRegisteredAndAnonymousAreSeparate(t *testing.T) {
	svc, store, _ := newTracking(t)
	ctx := context.Background()

	svc.Track(ctx, firstView("/"), domain.Identity{SessionID: "s"})
	svc.Track(ctx, firstView("/"), domain.Identity{UserID: "1", SessionID: "s"})

	p, _ := store.GetPageStats(ctx, "/")
	if p.AnonymousUsers != 1 || p.RegisteredUsers != 1 {
		t.Errorf("identities merged: %+v", p)
	}
}

func TestTrackValidationLeavesStoresUntouched(t *testing.T) {
	svc, store, _ := newTracking(t)
	ctx := context.Background()

	_, err := svc.Track(ctx, domain.TrackingEvent{Page: "", IsInitialView: true, IsFirstVisitToPage: true}, domain.Identity{SessionID: "s"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "page" {
		t.Fatalf("expected page validation error, got %v", err)
	}
	if v, _ := store.GetVisit(ctx, "session_s"); v != nil {
		t.Error("visit recorded for invalid event")
	}
	if pages, _ := store.ListPageStats(ctx); len(pages) != 0 {
		t.Errorf("pages recorded for invalid event: %v", pages)
	}
}

func TestTrackStoreUnavailable(t *testing.T) {
	svc, store, _ := newTracking(t)
	store.FailWith = errors.New("disk full")

	_, err := svc.Track(context.Background(), firstView("/"), domain.Identity{SessionID: "s"})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSweepUsesWindow(t *testing.T) {
	svc, store, now := newTracking(t)
	ctx := context.Background()

	svc.Track(ctx, firstView("/"), domain.Identity{SessionID: "old"})
	*now = now.Add(30 * time.Minute)
	svc.Track(ctx, firstView("/"), domain.Identity{SessionID: "new"})
	*now = now.Add(45 * time.Minute)

	removed, err := svc.Sweep(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("removed=%d err=%v", removed, err)
	}
	if v, _ := store.GetVisit(ctx, "session_new"); v == nil {
		t.Error("fresh record swept")
	}
}
