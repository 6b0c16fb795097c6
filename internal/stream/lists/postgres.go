package lists

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/lmco/activitysearch/internal/stream/scope"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/postgres"
)

// Schema holds the follow and star relations the lists are derived from.
// Followed-stream lists also read the activities table owned by hydration.
const Schema = `
CREATE TABLE IF NOT EXISTS stream_follows (
	user_key  TEXT   NOT NULL,
	stream_id BIGINT NOT NULL,
	PRIMARY KEY (user_key, stream_id)
);

CREATE TABLE IF NOT EXISTS activity_stars (
	user_key    TEXT   NOT NULL,
	activity_id BIGINT NOT NULL,
	PRIMARY KEY (user_key, activity_id)
);

CREATE INDEX IF NOT EXISTS idx_activity_stars_user
	ON activity_stars (user_key, activity_id DESC);
`

// Postgres computes lists from the relational store on every call.
type Postgres struct {
	client *postgres.Client
}

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{client: client}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.client.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrating list tables: %w", err)
	}
	return nil
}

func (p *Postgres) IDs(ctx context.Context, kind scope.ListKind, user string) ([]int64, error) {
	stmt, err := listStatement(kind, user)
	if err != nil {
		return nil, err
	}
	ids, err := postgres.QueryInt64s(ctx, p.client.DB, stmt)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s list: %w", apperrors.ErrListUnavailable, kind, err)
	}
	return ids, nil
}

func listStatement(kind scope.ListKind, user string) (sq.SelectBuilder, error) {
	switch kind {
	case scope.ListFollowed:
		return postgres.Builder.
			Select("a.id").
			From("activities a").
			Join("stream_follows f ON f.stream_id = a.stream_id").
			Where(sq.Eq{"f.user_key": user}).
			OrderBy("a.id DESC"), nil
	case scope.ListStarred:
		return postgres.Builder.
			Select("activity_id").
			From("activity_stars").
			Where(sq.Eq{"user_key": user}).
			OrderBy("activity_id DESC"), nil
	default:
		return sq.SelectBuilder{}, unsupported(kind)
	}
}
