package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
)

// These tests need a disposable database: TEST_POSTGRES_URL=postgres://...
func newTestDB(t *testing.T) *PostgresDB {
	t.Helper()
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	p, err := NewPostgresDB(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx := context.Background()
	for _, table := range []string{"page_stats", "unique_visitors", "users"} {
		if _, err := p.db.ExecContext(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPostgresConcurrentApplyEvent(t *testing.T) {
	p := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := p.ApplyEvent(ctx, domain.PageDelta{Page: "/hot", Views: 1, Clicks: 1}, now); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	s, err := p.GetPageStats(ctx, "/hot")
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalViews != 200 || s.TotalClicks != 200 {
		t.Errorf("lost updates: %+v", s)
	}
}

func TestPostgresUpsertOrRefresh(t *testing.T) {
	p := newTestDB(t)
	ctx := context.Background()
	t0 := time.Now().Truncate(time.Millisecond)

	v := &domain.Visit{VisitorKey: "user_7", Page: "/", IsRegistered: true, UserID: "7"}
	if wasNew, err := p.UpsertOrRefresh(ctx, v, t0, time.Hour); err != nil || !wasNew {
		t.Fatalf("first: %v %v", wasNew, err)
	}
	if wasNew, err := p.UpsertOrRefresh(ctx, v, t0.Add(time.Minute), time.Hour); err != nil || wasNew {
		t.Fatalf("repeat: %v %v", wasNew, err)
	}
	if wasNew, err := p.UpsertOrRefresh(ctx, v, t0.Add(2*time.Hour), time.Hour); err != nil || !wasNew {
		t.Fatalf("after window: %v %v", wasNew, err)
	}
}

func TestPostgresListAndDropIndexes(t *testing.T) {
	p := newTestDB(t)
	ctx := context.Background()
	t.Cleanup(func() { p.EnsureSchema(ctx) })

	indexes, err := p.ListIndexes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var pkey string
	found := false
	for _, ix := range indexes {
		if ix.Protected {
			pkey = ix.Name
		}
		if ix.Name == "idx_unique_visitors_last_visit" {
			found = !ix.Protected
		}
	}
	if !found || pkey == "" {
		t.Fatalf("unexpected indexes %+v", indexes)
	}

	if err := p.DropIndex(ctx, "idx_unique_visitors_last_visit"); err != nil {
		t.Fatal(err)
	}
	if err := p.DropIndex(ctx, "idx_unique_visitors_last_visit"); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("second drop: %v", err)
	}
	var verr *domain.ValidationError
	if err := p.DropIndex(ctx, pkey); !errors.As(err, &verr) {
		t.Errorf("drop %s: %v", pkey, err)
	}
}
