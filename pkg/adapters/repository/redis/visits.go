// Package redis keeps visit deduplication records as Redis hashes that expire
// on their own after the dedup window.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

const keyPrefix = "visit:"

type VisitStore struct {
	client *redis.Client
}

// NewVisitStore accepts a redis:// URL or a bare host:port.
func NewVisitStore(redisURL string) (*VisitStore, error) {
	var opt *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: redisURL}
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &VisitStore{client: client}, nil
}

func (s *VisitStore) Close() error {
	return s.client.Close()
}

func (s *VisitStore) Ping(ctx context.Context) error {
	return domain.StoreErr("redis ping", s.client.Ping(ctx).Err())
}

func visitKey(visitorKey string) string {
	return keyPrefix + visitorKey
}

func (s *VisitStore) UpsertOrRefresh(ctx context.Context, visit *domain.Visit, now time.Time, window time.Duration) (bool, error) {
	key := visitKey(visit.VisitorKey)

	current, err := s.load(ctx, key)
	if err != nil {
		return false, err
	}

	// Key expiry is lazy on replicas and clocks drift; check lastVisit too.
	if current != nil && current.FreshAt(now, window) {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "lastVisit", now.UnixMilli(), "page", visit.Page)
			pipe.PExpire(ctx, key, window)
			return nil
		})
		return false, domain.StoreErr("redis refresh visit", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"visitorKey", visit.VisitorKey,
			"page", visit.Page,
			"isRegistered", strconv.FormatBool(visit.IsRegistered),
			"userId", visit.UserID,
			"sessionId", visit.SessionID,
			"lastVisit", now.UnixMilli(),
		)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return false, domain.StoreErr("redis insert visit", err)
	}
	return true, nil
}

func (s *VisitStore) GetVisit(ctx context.Context, visitorKey string) (*domain.Visit, error) {
	return s.load(ctx, visitKey(visitorKey))
}

func (s *VisitStore) load(ctx context.Context, key string) (*domain.Visit, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, domain.StoreErr("redis get visit", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	ms, err := strconv.ParseInt(fields["lastVisit"], 10, 64)
	if err != nil {
		return nil, domain.StoreErr("redis decode visit", err)
	}
	registered, _ := strconv.ParseBool(fields["isRegistered"])
	return &domain.Visit{
		VisitorKey:   fields["visitorKey"],
		Page:         fields["page"],
		IsRegistered: registered,
		UserID:       fields["userId"],
		SessionID:    fields["sessionId"],
		LastVisit:    time.UnixMilli(ms),
	}, nil
}

// Sweep is a no-op: Redis expires the keys itself.
func (s *VisitStore) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *VisitStore) VisitStats(ctx context.Context, sampleSize int) (*domain.VisitStats, error) {
	stats := &domain.VisitStats{Samples: []domain.Visit{}}

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		stats.Count++
		if len(stats.Samples) >= sampleSize {
			continue
		}
		v, err := s.load(ctx, iter.Val())
		if err != nil {
			return nil, err
		}
		if v != nil {
			stats.Samples = append(stats.Samples, *v)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, domain.StoreErr("redis scan visits", err)
	}
	return stats, nil
}

var _ ports.VisitStore = (*VisitStore)(nil)
