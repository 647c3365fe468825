// Package repository picks the store backends from configuration.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository/memory"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository/mongo"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository/postgres"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository/redis"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

// Backend bundles the stores one process uses.
type Backend struct {
	Name    string
	Visits  ports.VisitStore
	Pages   ports.PageCounterStore
	Users   ports.UserDirectory
	Schemas []ports.SchemaManager
	Pingers []ports.Pinger
	// Indexes manages the dedup store's indexes; nil for Redis.
	Indexes ports.IndexManager

	closers []func() error
}

// Close releases every connection Open made.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// Open selects the main store from the DATABASE_URL scheme:
//
//	mongodb://, mongodb+srv://    MongoDB
//	postgres://, postgresql://    PostgreSQL
//	memory                        in-process, nothing persisted
//	anything else                 SQLite file or libsql:// (Turso)
//
// When REDIS_URL is set the dedup records move to Redis.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	b := &Backend{}
	url := cfg.DatabaseURL

	switch {
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		store, err := mongo.NewStore(ctx, url, cfg.MongoDBName, cfg.DedupWindow)
		if err != nil {
			return nil, err
		}
		b.Name = "mongo"
		b.use(store, store, store, store)
		b.closers = append(b.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(ctx)
		})

	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		store, err := postgres.NewPostgresDB(url)
		if err != nil {
			return nil, err
		}
		b.Name = "postgres"
		b.use(store, store, store, store)
		b.closers = append(b.closers, store.Close)

	case url == "memory":
		store := memory.NewStore()
		b.Name = "memory"
		b.use(store, store, store, store)

	default:
		store, err := sqlite.NewSQLiteRepository(url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.Name = "sqlite"
		b.use(store, store, store, store)
		b.closers = append(b.closers, store.Close)
	}

	if cfg.RedisURL != "" {
		visits, err := redis.NewVisitStore(cfg.RedisURL)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Visits = visits
		b.Indexes = nil
		b.Pingers = append(b.Pingers, visits)
		b.closers = append(b.closers, visits.Close)
		b.Name += "+redis"
	}

	slog.Info("stores ready", "backend", b.Name)
	return b, nil
}

func (b *Backend) use(visits ports.VisitStore, pages ports.PageCounterStore, users ports.UserDirectory, schema ports.SchemaManager) {
	b.Visits = visits
	b.Pages = pages
	b.Users = users
	b.Schemas = append(b.Schemas, schema)
	b.Pingers = append(b.Pingers, schema)
	b.Indexes, _ = visits.(ports.IndexManager)
}
