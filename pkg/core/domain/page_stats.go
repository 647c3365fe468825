package domain

import "time"

// PageStats holds the cumulative counters for one page path.
type PageStats struct {
	Page            string    `json:"page" bson:"page"`
	TotalViews      int64     `json:"totalViews" bson:"totalViews"`
	TotalClicks     int64     `json:"totalClicks" bson:"totalClicks"`
	RegisteredUsers int64     `json:"registeredUsers" bson:"registeredUsers"`
	AnonymousUsers  int64     `json:"anonymousUsers" bson:"anonymousUsers"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
	LastUpdated     time.Time `json:"lastUpdated" bson:"lastUpdated"`
}

// UniqueVisitors is a lower bound on the distinct visitors of the page.
func (p *PageStats) UniqueVisitors() int64 {
	return p.RegisteredUsers + p.AnonymousUsers
}

// PageDelta is the increment applied to a page in a single upsert.
type PageDelta struct {
	Page       string
	Views      int64
	Clicks     int64
	Registered int64
	Anonymous  int64
}

// Empty reports whether applying the delta would only touch lastUpdated.
func (d PageDelta) Empty() bool {
	return d.Views == 0 && d.Clicks == 0 && d.Registered == 0 && d.Anonymous == 0
}
