package hydrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	pkgredis "github.com/lmco/activitysearch/pkg/redis"
)

const keyPrefix = "activity:"

// Cached reads activity records from redis with one MGET and loads only the
// misses from origin, writing them back in one pipeline. Stars are per user
// and never cached here. Redis failures fall back to origin.
type Cached struct {
	origin Loader
	client *pkgredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(origin Loader, client *pkgredis.Client, ttl time.Duration) *Cached {
	return &Cached{
		origin: origin,
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "activity-cache"),
	}
}

func (c *Cached) Load(ctx context.Context, ids []int64) (map[int64]Activity, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	values, found, err := c.client.MGet(ctx, keys...)
	if err != nil {
		c.logger.Warn("activity cache read failed", "error", err)
		return c.origin.Load(ctx, ids)
	}

	out := make(map[int64]Activity, len(ids))
	var missing []int64
	for i, id := range ids {
		if found[i] {
			var a Activity
			if err := json.Unmarshal([]byte(values[i]), &a); err == nil {
				out[id] = a
				continue
			}
			c.logger.Error("cache unmarshal failed", "key", keys[i])
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.origin.Load(ctx, missing)
	if err != nil {
		return nil, err
	}
	backfill := make(map[string][]byte, len(loaded))
	for id, a := range loaded {
		out[id] = a
		data, err := json.Marshal(a)
		if err != nil {
			c.logger.Error("cache marshal failed", "id", id, "error", err)
			continue
		}
		backfill[cacheKey(id)] = data
	}
	if err := c.client.SetMany(ctx, backfill, c.ttl); err != nil {
		c.logger.Warn("activity cache write failed", "error", err)
	}
	c.logger.Debug("activities loaded", "cached", len(ids)-len(missing), "loaded", len(loaded))
	return out, nil
}

// Put writes a through to origin, which must also be a Store, and evicts
// the stale cached copy.
func (c *Cached) Put(ctx context.Context, a Activity) error {
	store, ok := c.origin.(Store)
	if !ok {
		return fmt.Errorf("activity origin %T does not accept writes", c.origin)
	}
	if err := store.Put(ctx, a); err != nil {
		return err
	}
	if err := c.Evict(ctx, a.ID); err != nil {
		c.logger.Warn("activity cache evict failed", "id", a.ID, "error", err)
	}
	return nil
}

// Evict drops one cached record, for edits and deletes.
func (c *Cached) Evict(ctx context.Context, id int64) error {
	return c.client.Del(ctx, cacheKey(id))
}

func cacheKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}
