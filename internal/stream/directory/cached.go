package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	pkgredis "github.com/lmco/activitysearch/pkg/redis"
)

const keyPrefix = "directory:"

// Cached puts redis in front of another Directory. Concurrent misses for
// the same key share one origin lookup. Not-found answers are not cached,
// so a newly created group resolves as soon as it exists.
type Cached struct {
	origin Directory
	client *pkgredis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewCached(origin Directory, client *pkgredis.Client, ttl time.Duration) *Cached {
	return &Cached{
		origin: origin,
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "directory-cache"),
	}
}

func (c *Cached) PersonID(ctx context.Context, accountID string) (int64, error) {
	return c.id(ctx, keyPrefix+"person:"+accountID, func() (int64, error) {
		return c.origin.PersonID(ctx, accountID)
	})
}

func (c *Cached) GroupID(ctx context.Context, shortName string) (int64, error) {
	return c.id(ctx, keyPrefix+"group:"+shortName, func() (int64, error) {
		return c.origin.GroupID(ctx, shortName)
	})
}

func (c *Cached) OrganizationID(ctx context.Context, shortName string) (int64, error) {
	return c.id(ctx, keyPrefix+"org:"+shortName, func() (int64, error) {
		return c.origin.OrganizationID(ctx, shortName)
	})
}

func (c *Cached) ParentOrganizationID(ctx context.Context, user string) (int64, error) {
	return c.id(ctx, parentOrgKey(user), func() (int64, error) {
		return c.origin.ParentOrganizationID(ctx, user)
	})
}

func (c *Cached) PrivateGroupIDs(ctx context.Context, user string) ([]int64, error) {
	key := privateGroupsKey(user)
	if data, ok := c.get(ctx, key); ok {
		var ids []int64
		if err := json.Unmarshal([]byte(data), &ids); err == nil {
			return ids, nil
		}
		c.logger.Error("cache unmarshal failed", "key", key)
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		ids, err := c.origin.PrivateGroupIDs(ctx, user)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("encoding private groups of %s: %w", user, err)
		}
		c.set(ctx, key, data)
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]int64), nil
}

// Invalidate drops every cached directory entry.
func (c *Cached) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating directory cache: %w", err)
	}
	c.logger.Info("directory cache invalidated", "keys_deleted", deleted)
	return nil
}

// InvalidateUser drops the entries derived from one user's memberships, so
// a private group they just joined is searchable on the next request.
func (c *Cached) InvalidateUser(ctx context.Context, user string) error {
	if err := c.client.Del(ctx, userKeys(user)...); err != nil {
		return fmt.Errorf("invalidating directory entries of %s: %w", user, err)
	}
	c.logger.Info("directory entries invalidated", "target_user", user)
	return nil
}

func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cached) id(ctx context.Context, key string, load func() (int64, error)) (int64, error) {
	if data, ok := c.get(ctx, key); ok {
		if id, err := strconv.ParseInt(data, 10, 64); err == nil {
			return id, nil
		}
		c.logger.Error("cached id is not numeric", "key", key, "value", data)
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		id, err := load()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, strconv.FormatInt(id, 10))
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return val.(int64), nil
}

func (c *Cached) get(ctx context.Context, key string) (string, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return data, true
}

func (c *Cached) set(ctx context.Context, key string, value any) {
	if err := c.client.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func privateGroupsKey(user string) string { return keyPrefix + "private-groups:" + user }

func parentOrgKey(user string) string { return keyPrefix + "parentorg:" + user }

// userKeys lists every entry keyed by a user rather than a group or account.
func userKeys(user string) []string {
	return []string{privateGroupsKey(user), parentOrgKey(user)}
}
