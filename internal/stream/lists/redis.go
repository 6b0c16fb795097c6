package lists

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmco/activitysearch/internal/stream/scope"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	pkgredis "github.com/lmco/activitysearch/pkg/redis"
)

// Redis keeps each list as a redis LIST under activity-ids:<kind>:<user>,
// newest first. Lists written through Store expire after ttl; a zero ttl
// keeps them until invalidated.
type Redis struct {
	client *pkgredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(client *pkgredis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "list-store"),
	}
}

// Lookup returns a stored list and whether one was stored at all, so an
// empty list can be told apart from a missing one.
func (r *Redis) Lookup(ctx context.Context, kind scope.ListKind, user string) ([]int64, bool, error) {
	k := key(kind, user)
	known, err := r.client.ListKnown(ctx, k)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", apperrors.ErrListUnavailable, err)
	}
	if !known {
		return nil, false, nil
	}
	ids, err := r.client.LRangeInt64(ctx, k, 0, -1)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", apperrors.ErrListUnavailable, err)
	}
	return ids, true, nil
}

// IDs treats a missing list as empty.
func (r *Redis) IDs(ctx context.Context, kind scope.ListKind, user string) ([]int64, error) {
	ids, _, err := r.Lookup(ctx, kind, user)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// Store replaces a list. ids must already be strictly descending.
func (r *Redis) Store(ctx context.Context, kind scope.ListKind, user string, ids []int64) error {
	if err := r.client.ReplaceList(ctx, key(kind, user), ids, r.ttl); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrListUnavailable, err)
	}
	r.logger.Debug("list stored", "kind", kind, "user", user, "size", len(ids))
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, kind scope.ListKind, user string) error {
	if err := r.client.DropList(ctx, key(kind, user)); err != nil {
		return fmt.Errorf("dropping %s list of %s: %w", kind, user, err)
	}
	return nil
}
