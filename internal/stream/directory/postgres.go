package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/lmco/activitysearch/pkg/postgres"
)

const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id         BIGINT PRIMARY KEY,
	short_name TEXT   NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS people (
	id            BIGINT PRIMARY KEY,
	account_id    TEXT   NOT NULL UNIQUE,
	parent_org_id BIGINT REFERENCES organizations (id)
);

CREATE TABLE IF NOT EXISTS groups (
	id         BIGINT  PRIMARY KEY,
	short_name TEXT    NOT NULL UNIQUE,
	is_private BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id  BIGINT NOT NULL REFERENCES groups (id),
	person_id BIGINT NOT NULL REFERENCES people (id),
	PRIMARY KEY (group_id, person_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_person ON group_members (person_id);
`

type Postgres struct {
	client *postgres.Client
}

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{client: client}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.client.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrating directory tables: %w", err)
	}
	return nil
}

func (p *Postgres) PersonID(ctx context.Context, accountID string) (int64, error) {
	return p.queryID(ctx, personQuery(accountID), "person", accountID)
}

func (p *Postgres) GroupID(ctx context.Context, shortName string) (int64, error) {
	return p.queryID(ctx, groupQuery(shortName), "group", shortName)
}

func (p *Postgres) OrganizationID(ctx context.Context, shortName string) (int64, error) {
	return p.queryID(ctx, organizationQuery(shortName), "organization", shortName)
}

func (p *Postgres) ParentOrganizationID(ctx context.Context, user string) (int64, error) {
	return p.queryID(ctx, parentOrganizationQuery(user), "parent organization of", user)
}

func (p *Postgres) PrivateGroupIDs(ctx context.Context, user string) ([]int64, error) {
	ids, err := postgres.QueryInt64s(ctx, p.client.DB, privateGroupsQuery(user))
	if err != nil {
		return nil, fmt.Errorf("loading private groups of %s: %w", user, err)
	}
	return ids, nil
}

func (p *Postgres) queryID(ctx context.Context, query sq.SelectBuilder, kind, name string) (int64, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building %s lookup: %w", kind, err)
	}
	var id sql.NullInt64
	err = p.client.DB.QueryRowContext(ctx, stmt, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || err == nil && !id.Valid {
		return 0, notFound(kind, name)
	}
	if err != nil {
		return 0, fmt.Errorf("looking up %s %q: %w", kind, name, err)
	}
	return id.Int64, nil
}

func personQuery(accountID string) sq.SelectBuilder {
	return postgres.Builder.Select("id").From("people").Where(sq.Eq{"account_id": accountID})
}

func groupQuery(shortName string) sq.SelectBuilder {
	return postgres.Builder.Select("id").From("groups").Where(sq.Eq{"short_name": shortName})
}

func organizationQuery(shortName string) sq.SelectBuilder {
	return postgres.Builder.Select("id").From("organizations").Where(sq.Eq{"short_name": shortName})
}

func parentOrganizationQuery(user string) sq.SelectBuilder {
	return postgres.Builder.Select("parent_org_id").From("people").Where(sq.Eq{"account_id": user})
}

func privateGroupsQuery(user string) sq.SelectBuilder {
	return postgres.Builder.
		Select("g.id").
		From("groups g").
		Join("group_members m ON m.group_id = g.id").
		Join("people p ON p.id = m.person_id").
		Where(sq.Eq{"p.account_id": user, "g.is_private": true}).
		OrderBy("g.id")
}
