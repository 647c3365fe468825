package ports

import (
	"context"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
)

// VisitStore is the visit deduplication store, keyed by visitor key.
type VisitStore interface {
	// UpsertOrRefresh refreshes a record still inside window (wasNew=false) or
	// replaces an absent/stale one (wasNew=true).
	UpsertOrRefresh(ctx context.Context, visit *domain.Visit, now time.Time, window time.Duration) (wasNew bool, err error)
	GetVisit(ctx context.Context, visitorKey string) (*domain.Visit, error)
	// Sweep deletes records last seen before cutoff. Backends with native
	// expiry may return 0.
	Sweep(ctx context.Context, cutoff time.Time) (int64, error)
	VisitStats(ctx context.Context, sampleSize int) (*domain.VisitStats, error)
}

// PageCounterStore holds the per-page cumulative counters.
type PageCounterStore interface {
	// ApplyEvent inserts or increments the page row in one atomic statement.
	ApplyEvent(ctx context.Context, delta domain.PageDelta, now time.Time) error
	GetPageStats(ctx context.Context, page string) (*domain.PageStats, error)
	// ListPageStats returns every page ordered by total views, descending.
	ListPageStats(ctx context.Context) ([]domain.PageStats, error)
}

// UserDirectory is the read side of the account store owned by the auth
// collaborator.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	CountSignupsSince(ctx context.Context, since time.Time) (int64, error)
	CountActiveSince(ctx context.Context, since time.Time) (int64, error)
	// SaveUser creates or updates an account (CLI and OAuth login).
	SaveUser(ctx context.Context, user *domain.User) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaManager ensures indexes/tables exist.
type SchemaManager interface {
	Pinger
	EnsureSchema(ctx context.Context) ([]string, error)
}

// IndexManager lists and drops the indexes on the dedup records, so an
// operator can clear an index whose options no longer match the config.
type IndexManager interface {
	ListIndexes(ctx context.Context) ([]domain.IndexInfo, error)
	DropIndex(ctx context.Context, name string) error
}

// TrackingService applies one tracking event.
type TrackingService interface {
	Track(ctx context.Context, event domain.TrackingEvent, identity domain.Identity) (*domain.TrackResult, error)
	Sweep(ctx context.Context) (int64, error)
	VisitStats(ctx context.Context) (*domain.VisitStats, error)
}

// AnalyticsService builds dashboard reports.
type AnalyticsService interface {
	Report(ctx context.Context, r domain.TimeRange) (*domain.Report, error)
	Pages(ctx context.Context, query string, r domain.TimeRange) (*domain.PageBreakdown, error)
	Export(ctx context.Context) ([]domain.PageStats, error)
}
