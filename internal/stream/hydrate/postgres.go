package hydrate

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/lmco/activitysearch/pkg/postgres"
)

const Schema = `
CREATE TABLE IF NOT EXISTS activities (
	id        BIGINT      PRIMARY KEY,
	stream_id BIGINT      NOT NULL,
	recipient TEXT        NOT NULL,
	author    TEXT        NOT NULL,
	content   TEXT        NOT NULL,
	is_public BOOLEAN     NOT NULL DEFAULT FALSE,
	posted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activities_stream ON activities (stream_id, id DESC);
`

// Postgres loads activities and stars from the relational store.
type Postgres struct {
	client *postgres.Client
}

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{client: client}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.client.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrating activities table: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, ids []int64) (map[int64]Activity, error) {
	stmt, args, err := loadQuery(ids).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building activity query: %w", err)
	}
	rows, err := p.client.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]Activity, len(ids))
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.StreamID, &a.Recipient, &a.Author, &a.Content, &a.Public, &a.PostedAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}
	return out, nil
}

func (p *Postgres) Starred(ctx context.Context, user string, ids []int64) (map[int64]bool, error) {
	starred, err := postgres.QueryInt64s(ctx, p.client.DB, starredQuery(user, ids))
	if err != nil {
		return nil, fmt.Errorf("querying stars of %s: %w", user, err)
	}
	out := make(map[int64]bool, len(starred))
	for _, id := range starred {
		out[id] = true
	}
	return out, nil
}

// Put upserts an activity, for the indexing pipeline.
func (p *Postgres) Put(ctx context.Context, a Activity) error {
	stmt, args, err := postgres.Builder.
		Insert("activities").
		Columns("id", "stream_id", "recipient", "author", "content", "is_public", "posted_at").
		Values(a.ID, a.StreamID, a.Recipient, a.Author, a.Content, a.Public, a.PostedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, is_public = EXCLUDED.is_public").
		ToSql()
	if err != nil {
		return fmt.Errorf("building activity upsert: %w", err)
	}
	if _, err := p.client.DB.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("storing activity %d: %w", a.ID, err)
	}
	return nil
}

func loadQuery(ids []int64) sq.SelectBuilder {
	return postgres.Builder.
		Select("id", "stream_id", "recipient", "author", "content", "is_public", "posted_at").
		From("activities").
		Where("id = ANY(?)", pq.Array(ids))
}

func starredQuery(user string, ids []int64) sq.SelectBuilder {
	return postgres.Builder.
		Select("activity_id").
		From("activity_stars").
		Where(sq.Eq{"user_key": user}).
		Where("activity_id = ANY(?)", pq.Array(ids))
}
