package domain

import "time"

// Visit is the dedup record kept per visitor identity, not per page.
type Visit struct {
	VisitorKey   string    `json:"visitorKey" bson:"visitorKey"`
	Page         string    `json:"page" bson:"page"`
	IsRegistered bool      `json:"isRegistered" bson:"isRegistered"`
	UserID       string    `json:"userId,omitempty" bson:"userId,omitempty"`
	SessionID    string    `json:"sessionId" bson:"sessionId"`
	LastVisit    time.Time `json:"lastVisit" bson:"lastVisit"`
}

// FreshAt reports whether the record still falls inside the dedup window at now.
// Expired records may linger until a sweep removes them, so callers check this
// instead of relying on absence.
func (v *Visit) FreshAt(now time.Time, window time.Duration) bool {
	return !v.LastVisit.Before(now.Add(-window))
}

// ExpiresIn returns how long until the record leaves the window, never negative.
func (v *Visit) ExpiresIn(now time.Time, window time.Duration) time.Duration {
	left := v.LastVisit.Add(window).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// VisitStats summarises the dedup store for the admin inspection endpoint.
type VisitStats struct {
	Count   int64   `json:"count"`
	Samples []Visit `json:"samples"`
}

// IndexInfo describes one index on the dedup records.
type IndexInfo struct {
	Name               string `json:"name"`
	Keys               string `json:"keys"`
	Unique             bool   `json:"unique,omitempty"`
	ExpireAfterSeconds int64  `json:"expireAfterSeconds,omitempty"`
	// Protected indexes back a primary key and cannot be dropped.
	Protected bool `json:"protected,omitempty"`
}
