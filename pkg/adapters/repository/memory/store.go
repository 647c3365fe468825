// Package memory is an in-process implementation of the analytics stores.
// Every operation takes the store mutex, so upserts are atomic within one
// process. Used by tests and the CLI simulator.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

type Store struct {
	mu     sync.RWMutex
	visits map[string]domain.Visit
	pages  map[string]domain.PageStats
	users  map[string]domain.User
	// indexes only records names; the maps above are always keyed.
	indexes map[string]domain.IndexInfo

	// FailWith, when set, is returned by every write. Tests use it to
	// simulate an unavailable store.
	FailWith error
}

func NewStore() *Store {
	return &Store{
		visits: make(map[string]domain.Visit),
		pages:  make(map[string]domain.PageStats),
		users:  make(map[string]domain.User),
		indexes: map[string]domain.IndexInfo{
			"visitorKey": {Name: "visitorKey", Keys: "visitorKey", Unique: true, Protected: true},
		},
	}
}

func (s *Store) UpsertOrRefresh(ctx context.Context, visit *domain.Visit, now time.Time, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return false, domain.StoreErr("memory upsert visit", s.FailWith)
	}

	existing, ok := s.visits[visit.VisitorKey]
	if ok && existing.FreshAt(now, window) {
		existing.LastVisit = now
		existing.Page = visit.Page
		s.visits[visit.VisitorKey] = existing
		return false, nil
	}

	v := *visit
	v.LastVisit = now
	s.visits[visit.VisitorKey] = v
	return true, nil
}

func (s *Store) GetVisit(ctx context.Context, visitorKey string) (*domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[visitorKey]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, v := range s.visits {
		if v.LastVisit.Before(cutoff) {
			delete(s.visits, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) VisitStats(ctx context.Context, sampleSize int) (*domain.VisitStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &domain.VisitStats{Count: int64(len(s.visits)), Samples: []domain.Visit{}}
	keys := make([]string, 0, len(s.visits))
	for k := range s.visits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(stats.Samples) >= sampleSize {
			break
		}
		stats.Samples = append(stats.Samples, s.visits[k])
	}
	return stats, nil
}

func (s *Store) ApplyEvent(ctx context.Context, delta domain.PageDelta, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return domain.StoreErr("memory apply event", s.FailWith)
	}

	p, ok := s.pages[delta.Page]
	if !ok {
		p = domain.PageStats{Page: delta.Page, CreatedAt: now}
	}
	p.TotalViews += delta.Views
	p.TotalClicks += delta.Clicks
	p.RegisteredUsers += delta.Registered
	p.AnonymousUsers += delta.Anonymous
	p.LastUpdated = now
	s.pages[delta.Page] = p
	return nil
}

func (s *Store) GetPageStats(ctx context.Context, page string) (*domain.PageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[page]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListPageStats(ctx context.Context) ([]domain.PageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PageStats, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalViews != out[j].TotalViews {
			return out[i].TotalViews > out[j].TotalViews
		}
		return out[i].Page < out[j].Page
	})
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *Store) CountSignupsSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, u := range s.users {
		if !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, u := range s.users {
		if u.Status == domain.StatusOnline && u.LastLogin != nil && !u.LastLogin.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) EnsureSchema(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes["lastVisit"] = domain.IndexInfo{Name: "lastVisit", Keys: "lastVisit"}
	return []string{"index lastVisit ready"}, nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]domain.IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IndexInfo, 0, len(s.indexes))
	for _, ix := range s.indexes {
		out = append(out, ix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DropIndex(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix, ok := s.indexes[name]
	if !ok {
		return domain.ErrIndexNotFound
	}
	if ix.Protected {
		return &domain.ValidationError{Field: "name", Message: "Index " + name + " backs the primary key and cannot be dropped"}
	}
	delete(s.indexes, name)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

var (
	_ ports.VisitStore       = (*Store)(nil)
	_ ports.PageCounterStore = (*Store)(nil)
	_ ports.UserDirectory    = (*Store)(nil)
	_ ports.SchemaManager    = (*Store)(nil)
	_ ports.IndexManager     = (*Store)(nil)
)
