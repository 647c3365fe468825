package domain

import (
	"fmt"
	"strings"
)

// MaxClicksPerEvent caps the clicks a single flush may add to a page.
const MaxClicksPerEvent = 10_000

// TrackingEvent is the body posted by the tracking agent.
type TrackingEvent struct {
	Page               string `json:"page"`
	TotalClicks        int64  `json:"totalClicks,omitempty"`
	SessionID          string `json:"sessionId,omitempty"`
	IsInitialView      bool   `json:"isInitialView,omitempty"`
	IsFirstVisitToPage bool   `json:"isFirstVisitToPage,omitempty"`
}

// Validate checks the fields the endpoint relies on.
func (e *TrackingEvent) Validate() error {
	if strings.TrimSpace(e.Page) == "" {
		return &ValidationError{Field: "page", Message: "Page is required"}
	}
	if e.TotalClicks < 0 {
		return &ValidationError{Field: "totalClicks", Message: "totalClicks must not be negative"}
	}
	if e.TotalClicks > MaxClicksPerEvent {
		return &ValidationError{Field: "totalClicks", Message: fmt.Sprintf("totalClicks must not exceed %d", MaxClicksPerEvent)}
	}
	return nil
}

// CountsForUniqueness reports whether the event takes part in unique visitor
// attribution: only the first initial view of a page in a client session does.
func (e *TrackingEvent) CountsForUniqueness() bool {
	return e.IsInitialView && e.IsFirstVisitToPage
}

// TrackResult describes what a tracking event did to the stores.
type TrackResult struct {
	VisitorKey   string    `json:"visitorKey"`
	IsRegistered bool      `json:"isRegistered"`
	CountedNew   bool      `json:"countedNew"`
	Delta        PageDelta `json:"-"`
}
