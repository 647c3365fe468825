package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
)

// These tests need a disposable server: TEST_MONGODB_URI=mongodb://...
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI not set")
	}
	ctx := context.Background()
	dbName := fmt.Sprintf("analytics_test_%d", time.Now().UnixNano())
	s, err := NewStore(ctx, uri, dbName, time.Hour)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = s.client.Database(dbName).Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestMongoConcurrentApplyEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := s.ApplyEvent(ctx, domain.PageDelta{Page: "/projects", Views: 1, Clicks: 1}, now); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	p, err := s.GetPageStats(ctx, "/projects")
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalViews != 200 || p.TotalClicks != 200 {
		t.Errorf("lost updates: %+v", p)
	}
	if p.CreatedAt.IsZero() || p.LastUpdated.IsZero() {
		t.Errorf("timestamps not set: %+v", p)
	}
}

func TestMongoUpsertOrRefreshIgnoresStaleRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Millisecond)
	v := &domain.Visit{VisitorKey: "user_7", Page: "/", IsRegistered: true, UserID: "7"}

	if wasNew, err := s.UpsertOrRefresh(ctx, v, t0, time.Hour); err != nil || !wasNew {
		t.Fatalf("first: wasNew=%v err=%v", wasNew, err)
	}
	if wasNew, err := s.UpsertOrRefresh(ctx, v, t0.Add(10*time.Minute), time.Hour); err != nil || wasNew {
		t.Fatalf("inside window: wasNew=%v err=%v", wasNew, err)
	}
	// The TTL monitor has not removed the record yet.
	if wasNew, err := s.UpsertOrRefresh(ctx, v, t0.Add(2*time.Hour), time.Hour); err != nil || !wasNew {
		t.Fatalf("after window: wasNew=%v err=%v", wasNew, err)
	}

	stats, err := s.VisitStats(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count != 1 {
		t.Errorf("expected a single record, got %d", stats.Count)
	}
}

func TestMongoEnsureSchemaIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		results, err := s.EnsureSchema(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(results) != 3 {
			t.Errorf("run %d: unexpected results %v", i, results)
		}
	}
}

func TestMongoWindowChangeUpdatesTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dbName := s.visits.Database().Name()

	reopened, err := NewStore(ctx, os.Getenv("TEST_MONGODB_URI"), dbName, 2*time.Hour)
	if err != nil {
		t.Fatalf("reopen with a new window: %v", err)
	}
	defer reopened.Close(ctx)

	ttl, found, err := reopened.ttlSeconds(ctx)
	if err != nil || !found {
		t.Fatalf("ttl index: found=%v err=%v", found, err)
	}
	if ttl != 7200 {
		t.Errorf("expireAfterSeconds = %d, want 7200", ttl)
	}
}

func TestMongoListAndDropIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	indexes, err := s.ListIndexes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]domain.IndexInfo{}
	for _, ix := range indexes {
		names[ix.Name] = ix
	}
	if ix, ok := names[ttlIndexName]; !ok || ix.ExpireAfterSeconds != 3600 {
		t.Errorf("ttl index missing or wrong: %+v", indexes)
	}
	if !names["_id_"].Protected {
		t.Error("_id_ should be protected")
	}

	if err := s.DropIndex(ctx, ttlIndexName); err != nil {
		t.Fatal(err)
	}
	if err := s.DropIndex(ctx, ttlIndexName); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("second drop: %v", err)
	}
	var verr *domain.ValidationError
	if err := s.DropIndex(ctx, "_id_"); !errors.As(err, &verr) {
		t.Errorf("drop _id_: %v", err)
	}
	if _, err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.ttlSeconds(ctx); !found {
		t.Error("EnsureSchema did not recreate the TTL index")
	}
}
