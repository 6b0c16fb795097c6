package lists

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lmco/activitysearch/internal/stream/scope"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/kafka"
)

// InvalidationEvent announces that a user's list changed, for example after
// a follow or a star. An empty Kind covers every list of the user.
type InvalidationEvent struct {
	User string         `json:"user"`
	Kind scope.ListKind `json:"kind,omitempty"`
}

// InvalidateEvent applies one event to inv.
func InvalidateEvent(ctx context.Context, inv Invalidator, event InvalidationEvent) error {
	if event.User == "" {
		return apperrors.Invalid("invalidation without user")
	}
	kinds := Kinds
	if event.Kind != "" {
		k, err := ParseKind(string(event.Kind))
		if err != nil {
			return err
		}
		kinds = []scope.ListKind{k}
	}
	for _, k := range kinds {
		if err := inv.Invalidate(ctx, k, event.User); err != nil {
			return err
		}
	}
	return nil
}

// HandleInvalidation returns a kafka handler for the cache-invalidate topic.
// Undecodable or malformed events are logged and skipped so they do not
// block the partition.
func HandleInvalidation(inv Invalidator) kafka.MessageHandler {
	logger := slog.Default().With("component", "list-invalidation")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[InvalidationEvent](value)
		if err != nil {
			logger.Error("failed to decode invalidation event", "error", err, "key", string(key))
			return nil
		}
		if event.User == "" || event.Kind != "" && !isKnownKind(event.Kind) {
			logger.Error("dropping malformed invalidation event", "user", event.User, "kind", event.Kind, "key", string(key))
			return nil
		}
		if err := InvalidateEvent(ctx, inv, event); err != nil {
			return fmt.Errorf("invalidating lists of %s: %w", event.User, err)
		}
		logger.Debug("lists invalidated", "user", event.User, "kind", event.Kind)
		return nil
	}
}

func isKnownKind(k scope.ListKind) bool {
	_, err := ParseKind(string(k))
	return err == nil
}
