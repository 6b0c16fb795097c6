package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lmco/activitysearch/internal/stream/directory"
	"github.com/lmco/activitysearch/internal/stream/fixture"
	"github.com/lmco/activitysearch/internal/stream/handler"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/internal/stream/lists"
	"github.com/lmco/activitysearch/pkg/config"
	"github.com/lmco/activitysearch/pkg/health"
	"github.com/lmco/activitysearch/pkg/metrics"
	"github.com/lmco/activitysearch/pkg/postgres"
	pkgredis "github.com/lmco/activitysearch/pkg/redis"
)

// backend is the set of stores one search.Orchestrator reads from.
type backend struct {
	index       index.Searcher
	directory   directory.Directory
	lists       lists.Source
	loader      hydrate.Loader
	stars       hydrate.StarChecker
	invalidator lists.Invalidator      // nil when nothing is cached
	dirCache    handler.DirectoryCache // nil when the directory is uncached
	closers     []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("closing backend", "error", err)
		}
	}
}

// memoryBackend serves everything from process memory, optionally seeded
// from a fixture file. Its lists are the origin rather than a cache, so it
// has no invalidator.
func memoryBackend(ctx context.Context, seedPath string, checker *health.Checker) (*backend, error) {
	dir := directory.NewMemory()
	idx := index.NewMemory()
	store := hydrate.NewMemory()
	src := lists.NewMemory()

	if seedPath != "" {
		f, err := fixture.Load(seedPath)
		if err != nil {
			return nil, err
		}
		err = f.Apply(ctx, fixture.Targets{Directory: dir, Index: idx, Store: store, Lists: src})
		if err != nil {
			return nil, fmt.Errorf("seeding from %s: %w", seedPath, err)
		}
		slog.Info("memory backend seeded",
			"path", seedPath,
			"activities", len(f.Activities),
			"people", len(f.People),
			"groups", len(f.Groups),
		)
	}
	checker.Register("index", health.StaticCheck(health.StatusUp, "in memory"))

	return &backend{
		index:     idx,
		directory: dir,
		lists:     src,
		loader:    store,
		stars:     store,
	}, nil
}

// postgresBackend reads postgres through redis caches. Without redis every
// read goes to postgres and list invalidation is unavailable.
func postgresBackend(ctx context.Context, cfg *config.Config, m *metrics.Metrics, checker *health.Checker) (*backend, error) {
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	b := &backend{closers: []func() error{db.Close}}
	checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDown))

	idx := index.NewPostgres(db)
	dir := directory.NewPostgres(db)
	src := lists.NewPostgres(db)
	activities := hydrate.NewPostgres(db)
	for name, migrate := range map[string]func(context.Context) error{
		"index":      idx.Migrate,
		"directory":  dir.Migrate,
		"lists":      src.Migrate,
		"activities": activities.Migrate,
	} {
		if err := migrate(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("migrating %s: %w", name, err)
		}
	}
	b.index = idx
	b.stars = activities

	rdb, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, caching disabled", "addr", cfg.Redis.Addr, "error", err)
		checker.Register("redis", health.StaticCheck(health.StatusDegraded, "not connected"))
		b.directory = dir
		b.lists = src
		b.loader = activities
		return b, nil
	}
	b.closers = append(b.closers, rdb.Close)
	checker.Register("redis", health.PingCheck(rdb.Ping, health.StatusDegraded))

	cachedDir := directory.NewCached(dir, rdb, cfg.Redis.DirectoryTTL)
	cachedLists := lists.NewCached(lists.NewRedis(rdb, cfg.Redis.ListTTL), src, m)
	b.directory = cachedDir
	b.dirCache = cachedDir
	b.lists = cachedLists
	b.invalidator = cachedLists
	b.loader = hydrate.NewCached(activities, rdb, cfg.Redis.ActivityTTL)
	slog.Info("redis caches enabled",
		"addr", cfg.Redis.Addr,
		"list_ttl", cfg.Redis.ListTTL,
		"activity_ttl", cfg.Redis.ActivityTTL,
		"directory_ttl", cfg.Redis.DirectoryTTL,
	)
	return b, nil
}
