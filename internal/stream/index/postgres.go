package index

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/lmco/activitysearch/internal/stream/query"
	"github.com/lmco/activitysearch/pkg/postgres"
)

// Schema creates the activity_index table searched by Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS activity_index (
	activity_id             BIGINT PRIMARY KEY,
	content                 TEXT NOT NULL,
	content_tsv             TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
	recipient               TEXT NOT NULL,
	recipient_parent_org_id BIGINT NOT NULL,
	is_public               BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_index_tsv ON activity_index USING GIN (content_tsv);
CREATE INDEX IF NOT EXISTS idx_activity_index_recipient ON activity_index (recipient, activity_id DESC);
CREATE INDEX IF NOT EXISTS idx_activity_index_parent_org ON activity_index (recipient_parent_org_id, activity_id DESC);
`

// Postgres serves index queries from the activity_index table using
// postgres full-text search.
type Postgres struct {
	client *postgres.Client
}

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{client: client}
}

// Migrate applies Schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.client.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating activity_index: %w", err)
	}
	return nil
}

func (p *Postgres) Search(ctx context.Context, req Request) (Result, error) {
	stmt, args, err := searchStatement(req)
	if err != nil {
		return Result{}, err
	}
	rows, err := p.client.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, fmt.Errorf("querying activity_index: %w", err)
	}
	defer rows.Close()

	res := Result{IDs: make([]int64, 0, req.Limit)}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id, &res.Total); err != nil {
			return Result{}, fmt.Errorf("scanning activity_index row: %w", err)
		}
		res.IDs = append(res.IDs, id)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterating activity_index rows: %w", err)
	}
	// the window total is only carried on returned rows
	if len(res.IDs) == 0 && req.Offset > 0 {
		total, err := p.count(ctx, req.Query)
		if err != nil {
			return Result{}, err
		}
		res.Total = total
	}
	return res, nil
}

func (p *Postgres) count(ctx context.Context, q query.Bool) (int, error) {
	where, err := condition(q)
	if err != nil {
		return 0, err
	}
	stmt, args, err := postgres.Builder.Select("COUNT(*)").From("activity_index").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	var total int
	if err := p.client.DB.QueryRowContext(ctx, stmt, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting activity_index matches: %w", err)
	}
	return total, nil
}

// Index upserts a document.
func (p *Postgres) Index(ctx context.Context, doc Document) error {
	return p.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, args, err := postgres.Builder.
			Insert("activity_index").
			Columns("activity_id", "content", "recipient", "recipient_parent_org_id", "is_public").
			Values(doc.ID, doc.Content, doc.Recipient, doc.ParentOrgID, doc.Public).
			Suffix(`ON CONFLICT (activity_id) DO UPDATE SET
				content = EXCLUDED.content,
				recipient = EXCLUDED.recipient,
				recipient_parent_org_id = EXCLUDED.recipient_parent_org_id,
				is_public = EXCLUDED.is_public`).
			ToSql()
		if err != nil {
			return fmt.Errorf("building upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("upserting activity %d: %w", doc.ID, err)
		}
		return nil
	})
}

func searchStatement(req Request) (string, []interface{}, error) {
	if req.Limit <= 0 {
		return "", nil, invalidQuery("limit must be positive, got %d", req.Limit)
	}
	where, err := condition(req.Query)
	if err != nil {
		return "", nil, err
	}
	stmt, args, err := postgres.Builder.
		Select("activity_id", "COUNT(*) OVER () AS total").
		From("activity_index").
		Where(where).
		OrderBy("activity_id DESC").
		Limit(uint64(req.Limit)).
		Offset(uint64(req.Offset)).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building search query: %w", err)
	}
	return stmt, args, nil
}

// condition translates a query into a WHERE expression with the same
// Must/MustNot/Should semantics the memory index applies.
func condition(c query.Clause) (sq.Sqlizer, error) {
	switch c := c.(type) {
	case query.Term:
		return termCondition(c)
	case query.Bool:
		var must sq.And
		var should sq.Or
		hasMust := false
		for _, occ := range c.Clauses {
			if inert(occ.Clause) {
				continue
			}
			sub, err := condition(occ.Clause)
			if err != nil {
				return nil, err
			}
			switch occ.Occur {
			case query.Must:
				hasMust = true
				must = append(must, sub)
			case query.MustNot:
				must = append(must, sq.Expr("NOT (?)", sub))
			default:
				should = append(should, sub)
			}
		}
		if len(should) > 0 && !hasMust {
			must = append(must, should)
		}
		return must, nil
	default:
		return nil, invalidQuery("unsupported clause %T", c)
	}
}

func termCondition(t query.Term) (sq.Sqlizer, error) {
	switch t.Field {
	case query.FieldContent:
		if strings.ContainsAny(t.Value, "*?") {
			return sq.Expr("content ~* ?", wordPattern(t.Value)), nil
		}
		return sq.Expr("content_tsv @@ plainto_tsquery('english', ?)", t.Value), nil
	case query.FieldRecipient:
		return sq.Eq{"recipient": t.Value}, nil
	case query.FieldRecipientParentOrg:
		id, err := strconv.ParseInt(t.Value, 10, 64)
		if err != nil {
			return nil, invalidQuery("bad %s value %q: %v", t.Field, t.Value, err)
		}
		return sq.Eq{"recipient_parent_org_id": id}, nil
	case query.FieldPublic:
		return sq.Eq{"is_public": t.Value == "t"}, nil
	default:
		return nil, invalidQuery("unknown field %q", t.Field)
	}
}

// wordPattern turns a wildcard value into a case-insensitive regular
// expression anchored at word boundaries, so "rep*" matches "report" but
// not "prepare", as in the memory index.
func wordPattern(value string) string {
	var b strings.Builder
	b.WriteString(`\m`)
	for _, r := range strings.ToLower(value) {
		switch r {
		case '*':
			b.WriteString(`[[:alnum:]]*`)
		case '?':
			b.WriteString(`[[:alnum:]]`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`\M`)
	return b.String()
}
