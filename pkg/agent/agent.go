// Package agent is a Go implementation of the client tracking agent. It keeps
// the session id, the click counter and the set of visited pages, and emits
// initial view and click flush events the same way the browser script does.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
)

const sendTimeout = 5 * time.Second

type Agent struct {
	storage   Storage
	transport Transport
	newID     func() string
	now       func() time.Time

	mu        sync.Mutex
	started   bool
	sessionID string
	visited   map[string]bool
	current   string
	clicks    int64
	flushed   bool

	inflight sync.WaitGroup
}

func New(storage Storage, transport Transport) *Agent {
	return &Agent{
		storage:   storage,
		transport: transport,
		newID:     uuid.NewString,
		now:       time.Now,
		visited:   make(map[string]bool),
	}
}

// Start loads or creates the session. A new session clears the visited pages.
func (a *Agent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}

	id, ok := a.storage.Get(KeySessionID)
	if !ok || id == "" {
		id = a.newID()
		a.storage.Set(KeySessionID, id)
		a.storage.Set(KeySessionStart, strconv.FormatInt(a.now().UnixMilli(), 10))
		a.storage.Remove(KeyVisitedPages)
	}
	a.sessionID = id

	if raw, ok := a.storage.Get(KeyVisitedPages); ok {
		var pages []string
		if err := json.Unmarshal([]byte(raw), &pages); err == nil {
			for _, p := range pages {
				a.visited[p] = true
			}
		}
	}
	a.started = true
}

func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Navigate flushes the clicks of the page being left, then emits one initial
// view for path and records it as visited. Hosts call it on every route
// change, history back/forward and replaceState included, the way
// tracker.js hooks popstate and the history API; repeating the current path
// is a no-op.
func (a *Agent) Navigate(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || path == a.current {
		return
	}

	if a.current != "" && a.clicks > 0 {
		a.dispatch(a.transport.Send, a.clickEvent(a.current))
	}
	a.clicks = 0
	a.flushed = false
	a.current = path

	a.dispatch(a.transport.Send, domain.TrackingEvent{
		Page:               path,
		SessionID:          a.sessionID,
		IsInitialView:      true,
		IsFirstVisitToPage: !a.visited[path],
	})

	// Marked whether or not the send succeeds.
	a.visited[path] = true
	a.persistVisited()
}

func (a *Agent) Click() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clicks++
}

// Clicks returns the clicks not yet flushed.
func (a *Agent) Clicks() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clicks
}

func (a *Agent) BeforeUnload() { a.flushOnExit() }

func (a *Agent) PageHide() { a.flushOnExit() }

// VisibilityChange flushes when the page is hidden and re-arms the flush when
// it becomes visible again.
func (a *Agent) VisibilityChange(hidden bool) {
	if hidden {
		a.flushOnExit()
		return
	}
	a.mu.Lock()
	a.flushed = false
	a.mu.Unlock()
}

// Wait blocks until every event handed to the transport has completed.
func (a *Agent) Wait() {
	a.inflight.Wait()
}

// flushOnExit sends at most one beacon per teardown; beforeunload, pagehide
// and visibilitychange usually all fire together.
func (a *Agent) flushOnExit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed || a.clicks == 0 || a.current == "" {
		return
	}
	a.flushed = true
	a.dispatch(a.transport.Beacon, a.clickEvent(a.current))
	a.clicks = 0
}

func (a *Agent) clickEvent(page string) domain.TrackingEvent {
	return domain.TrackingEvent{
		Page:        page,
		TotalClicks: a.clicks,
		SessionID:   a.sessionID,
	}
}

func (a *Agent) persistVisited() {
	pages := make([]string, 0, len(a.visited))
	for p := range a.visited {
		pages = append(pages, p)
	}
	raw, _ := json.Marshal(pages)
	a.storage.Set(KeyVisitedPages, string(raw))
}

// dispatch sends without waiting. Failures are logged and dropped.
func (a *Agent) dispatch(send func(context.Context, domain.TrackingEvent) error, event domain.TrackingEvent) {
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := send(ctx, event); err != nil {
			slog.Debug("analytics event dropped", "page", event.Page, "error", err)
		}
	}()
}
