package aggregator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lmco/activitysearch/internal/analytics"
)

const maxSnapshots = 100

// SnapshotLister returns the newest snapshots first.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error)
}

// Snapshots serves GET /api/v1/analytics/snapshots?limit=N.
func Snapshots(store SnapshotLister) http.HandlerFunc {
	logger := slog.Default().With("component", "analytics-snapshots")
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxSnapshots)
		}
		snapshots, err := store.ListSnapshots(r.Context(), limit)
		if err != nil {
			logger.ErrorContext(r.Context(), "listing snapshots failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list snapshots"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"snapshots": snapshots,
			"count":     len(snapshots),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
