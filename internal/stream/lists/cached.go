package lists

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/lmco/activitysearch/internal/stream/scope"
	"github.com/lmco/activitysearch/pkg/metrics"
)

// Cached reads lists from redis and falls back to origin on a miss, writing
// the computed list back. A redis outage degrades to reading origin on
// every call rather than failing the search.
type Cached struct {
	cache   *Redis
	origin  Source
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCached wraps origin. m may be nil.
func NewCached(cache *Redis, origin Source, m *metrics.Metrics) *Cached {
	return &Cached{
		cache:   cache,
		origin:  origin,
		metrics: m,
		logger:  slog.Default().With("component", "list-cache"),
	}
}

func (c *Cached) IDs(ctx context.Context, kind scope.ListKind, user string) ([]int64, error) {
	ids, ok, err := c.cache.Lookup(ctx, kind, user)
	if err != nil {
		c.logger.Warn("list cache read failed", "kind", kind, "user", user, "error", err)
	}
	if ok {
		if c.metrics != nil {
			c.metrics.ListCacheHitsTotal.Inc()
		}
		return ids, nil
	}
	if c.metrics != nil {
		c.metrics.ListCacheMissesTotal.Inc()
	}

	val, err, _ := c.group.Do(key(kind, user), func() (interface{}, error) {
		ids, err := c.origin.IDs(ctx, kind, user)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Store(ctx, kind, user, ids); err != nil {
			c.logger.Warn("list cache write failed", "kind", kind, "user", user, "error", err)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]int64), nil
}

func (c *Cached) Invalidate(ctx context.Context, kind scope.ListKind, user string) error {
	return c.cache.Invalidate(ctx, kind, user)
}
