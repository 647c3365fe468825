package domain

import (
	"fmt"
	"time"
)

// TimeRange is the window selected on the dashboard.
type TimeRange string

const (
	Range1D  TimeRange = "1d"
	Range7D  TimeRange = "7d"
	Range30D TimeRange = "30d"
	Range90D TimeRange = "90d"
)

// ParseTimeRange maps a query value to a range, defaulting to 7d.
func ParseTimeRange(s string) TimeRange {
	switch TimeRange(s) {
	case Range1D, Range7D, Range30D, Range90D:
		return TimeRange(s)
	default:
		return Range7D
	}
}

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration {
	switch r {
	case Range1D:
		return 24 * time.Hour
	case Range30D:
		return 30 * 24 * time.Hour
	case Range90D:
		return 90 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Summary holds the dashboard totals. Counters are cumulative, only SignUps
// honours the selected range.
type Summary struct {
	TotalViews           int64    `json:"totalViews"`
	UniqueVisitors       int64    `json:"uniqueVisitors"`
	SignUps              int64    `json:"signUps"`
	AvgSessionDuration   string   `json:"avgSessionDuration"`
	TopPages             []string `json:"topPages"`
	ActiveUsers          int64    `json:"activeUsers"`
	RegisteredUsers      int64    `json:"registeredUsers"`
	AnonymousUsers       int64    `json:"anonymousUsers"`
	RegisteredPercentage int64    `json:"registeredPercentage"`
	AnonymousPercentage  int64    `json:"anonymousPercentage"`
}

// PageView is one row of the per-page breakdown.
type PageView struct {
	ID              string `json:"id"`
	Page            string `json:"page"`
	Views           int64  `json:"views"`
	UniqueVisitors  int64  `json:"uniqueVisitors"`
	AvgTimeSpent    string `json:"avgTimeSpent"`
	BounceRate      string `json:"bounceRate"`
	TotalClicks     int64  `json:"totalClicks"`
	RegisteredUsers int64  `json:"registeredUsers"`
	AnonymousUsers  int64  `json:"anonymousUsers"`
}

// NewPageView renders the counters of one page as a breakdown row.
func NewPageView(p *PageStats) PageView {
	return PageView{
		ID:              p.Page,
		Page:            p.Page,
		Views:           p.TotalViews,
		UniqueVisitors:  p.UniqueVisitors(),
		AvgTimeSpent:    FormatSeconds(0),
		BounceRate:      "0%",
		TotalClicks:     p.TotalClicks,
		RegisteredUsers: p.RegisteredUsers,
		AnonymousUsers:  p.AnonymousUsers,
	}
}

// UserActivity is reserved for a live activity feed; the report always sends
// an empty list.
type UserActivity struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	SessionID    string    `json:"sessionId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	CurrentPage  string    `json:"currentPage"`
	LastActivity time.Time `json:"lastActivity"`
	TotalClicks  int64     `json:"totalClicks"`
}

// Report is the aggregate read served to the dashboard.
type Report struct {
	Stats          Summary        `json:"stats"`
	PageViews      []PageView     `json:"pageViews"`
	UserActivities []UserActivity `json:"userActivities"`
}

// PageBreakdown is the filtered per-page listing.
type PageBreakdown struct {
	Pages      []PageView `json:"pages"`
	TotalPages int        `json:"totalPages"`
}

// Percent rounds part/total to a whole percentage, 0 when total is 0.
func Percent(part, total int64) int64 {
	if total <= 0 {
		return 0
	}
	return int64(float64(part)/float64(total)*100 + 0.5)
}

// FormatSeconds renders a duration the way the dashboard expects ("0s", "1m 5s").
func FormatSeconds(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	secs := int64(d / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
