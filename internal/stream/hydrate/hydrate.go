// Package hydrate turns a page of activity ids into activity records.
// Records are loaded in bulk, put back into the page's id order, and ids
// whose record is gone (deleted since it was indexed, or never committed)
// are dropped without failing the page.
package hydrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/metrics"
)

// Activity is the record returned to search callers.
type Activity struct {
	ID        int64     `json:"id"`
	StreamID  int64     `json:"stream_id"`
	Recipient string    `json:"recipient"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Public    bool      `json:"public"`
	PostedAt  time.Time `json:"posted_at"`
	Starred   bool      `json:"starred"`
}

// Loader fetches records by id. Missing ids are simply absent from the
// result; order is not significant.
type Loader interface {
	Load(ctx context.Context, ids []int64) (map[int64]Activity, error)
}

// StarChecker reports which of ids the user has starred.
type StarChecker interface {
	Starred(ctx context.Context, user string, ids []int64) (map[int64]bool, error)
}

// Store persists records written by the indexing pipeline.
type Store interface {
	Put(ctx context.Context, a Activity) error
}

// Hydrator combines a Loader with an optional StarChecker.
type Hydrator struct {
	loader  Loader
	stars   StarChecker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds a Hydrator. stars and m may be nil.
func New(loader Loader, stars StarChecker, m *metrics.Metrics) *Hydrator {
	return &Hydrator{
		loader:  loader,
		stars:   stars,
		metrics: m,
		logger:  slog.Default().With("component", "hydrator"),
	}
}

// Hydrate returns the records of ids in the same order, minus any that
// could not be found. Load failures wrap errors.ErrHydrationFailed.
func (h *Hydrator) Hydrate(ctx context.Context, user string, ids []int64) ([]Activity, error) {
	if len(ids) == 0 {
		return []Activity{}, nil
	}
	found, err := h.loader.Load(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %d activities: %w", apperrors.ErrHydrationFailed, len(ids), err)
	}
	out, dropped := Ordered(ids, found)
	if dropped > 0 {
		logger.FromContext(ctx).Warn("activities missing at hydration", "requested", len(ids), "dropped", dropped)
		if h.metrics != nil {
			h.metrics.HydrationDropped.Add(float64(dropped))
		}
	}

	if h.stars != nil && user != "" && len(out) > 0 {
		present := make([]int64, len(out))
		for i, a := range out {
			present[i] = a.ID
		}
		starred, err := h.stars.Starred(ctx, user, present)
		if err != nil {
			return nil, fmt.Errorf("%w: loading stars: %w", apperrors.ErrHydrationFailed, err)
		}
		for i := range out {
			out[i].Starred = starred[out[i].ID]
		}
	}
	return out, nil
}

// Ordered lays found out in ids order and reports how many ids had no
// record.
func Ordered(ids []int64, found map[int64]Activity) ([]Activity, int) {
	out := make([]Activity, 0, len(ids))
	for _, id := range ids {
		if a, ok := found[id]; ok {
			out = append(out, a)
		}
	}
	return out, len(ids) - len(out)
}
