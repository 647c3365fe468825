package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

const topPagesLimit = 5

type AnalyticsService struct {
	pages        ports.PageCounterStore
	users        ports.UserDirectory
	activeWindow time.Duration
	now          func() time.Time
}

func NewAnalyticsService(pages ports.PageCounterStore, users ports.UserDirectory, activeWindow time.Duration) *AnalyticsService {
	if activeWindow <= 0 {
		activeWindow = 30 * time.Minute
	}
	return &AnalyticsService{
		pages:        pages,
		users:        users,
		activeWindow: activeWindow,
		now:          time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *AnalyticsService) WithClock(now func() time.Time) *AnalyticsService {
	s.now = now
	return s
}

// Report sums the page counters and adds the account figures for the range.
// The counters are cumulative; only sign-ups are filtered by the range.
func (s *AnalyticsService) Report(ctx context.Context, r domain.TimeRange) (*domain.Report, error) {
	all, err := s.pages.ListPageStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list page stats: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TotalViews > all[j].TotalViews
	})

	now := s.now()
	report := &domain.Report{
		PageViews:      make([]domain.PageView, 0, len(all)),
		UserActivities: []domain.UserActivity{},
	}
	st := &report.Stats
	st.AvgSessionDuration = domain.FormatSeconds(0)
	st.TopPages = []string{}

	for i := range all {
		p := &all[i]
		st.TotalViews += p.TotalViews
		st.RegisteredUsers += p.RegisteredUsers
		st.AnonymousUsers += p.AnonymousUsers

		report.PageViews = append(report.PageViews, domain.NewPageView(p))
		if i < topPagesLimit {
			st.TopPages = append(st.TopPages, p.Page)
		}
	}
	st.UniqueVisitors = st.RegisteredUsers + st.AnonymousUsers
	st.RegisteredPercentage = domain.Percent(st.RegisteredUsers, st.UniqueVisitors)
	st.AnonymousPercentage = domain.Percent(st.AnonymousUsers, st.UniqueVisitors)

	if s.users != nil {
		if st.SignUps, err = s.users.CountSignupsSince(ctx, now.Add(-r.Duration())); err != nil {
			return nil, fmt.Errorf("count signups: %w", err)
		}
		if st.ActiveUsers, err = s.users.CountActiveSince(ctx, now.Add(-s.activeWindow)); err != nil {
			return nil, fmt.Errorf("count active users: %w", err)
		}
	}

	return report, nil
}

// Pages lists the pages updated within the range whose path contains query,
// ignoring case, most viewed first.
func (s *AnalyticsService) Pages(ctx context.Context, query string, r domain.TimeRange) (*domain.PageBreakdown, error) {
	all, err := s.pages.ListPageStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list page stats: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].TotalViews > all[j].TotalViews
	})

	since := s.now().Add(-r.Duration())
	query = strings.ToLower(strings.TrimSpace(query))
	out := &domain.PageBreakdown{Pages: []domain.PageView{}}
	for i := range all {
		p := &all[i]
		if p.LastUpdated.Before(since) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Page), query) {
			continue
		}
		out.Pages = append(out.Pages, domain.NewPageView(p))
	}
	out.TotalPages = len(out.Pages)
	return out, nil
}

// Export returns the raw page counters, used by the CLI.
func (s *AnalyticsService) Export(ctx context.Context) ([]domain.PageStats, error) {
	return s.pages.ListPageStats(ctx)
}

var _ ports.AnalyticsService = (*AnalyticsService)(nil)
