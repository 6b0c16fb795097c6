// Package aggregator persists periodic snapshots of the analytics
// aggregator to PostgreSQL so stats survive restarts.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lmco/activitysearch/internal/analytics"
	"github.com/lmco/activitysearch/pkg/postgres"
)

const Schema = `
CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id          BIGSERIAL   PRIMARY KEY,
	data        JSONB       NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrating analytics_snapshots: %w", err)
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	stmt, args, err := insertQuery(stats, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := s.db.DB.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"total_activities_indexed", stats.TotalIndexed,
	)
	return nil
}

// LatestSnapshot returns nil, nil if no snapshot exists yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	snapshots, err := s.ListSnapshots(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}

// ListSnapshots returns up to limit snapshots, newest first. Corrupt rows
// are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	stmt, args, err := listQuery(limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building snapshot query: %w", err)
	}
	rows, err := s.db.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []analytics.AggregatedStats
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}
	return snapshots, rows.Err()
}

// StartPeriodicSave snapshots agg every interval until ctx is cancelled,
// then once more on the way out.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval)
}

func insertQuery(stats analytics.AggregatedStats, at time.Time) (string, []any, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return "", nil, fmt.Errorf("marshaling stats: %w", err)
	}
	stmt, args, err := postgres.Builder.
		Insert("analytics_snapshots").
		Columns("data", "captured_at").
		Values(data, at).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building snapshot insert: %w", err)
	}
	return stmt, args, nil
}

func listQuery(limit int) sq.SelectBuilder {
	if limit <= 0 {
		limit = 1
	}
	return postgres.Builder.
		Select("data").
		From("analytics_snapshots").
		OrderBy("captured_at DESC").
		Limit(uint64(limit))
}
