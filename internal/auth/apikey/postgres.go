package apikey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/lmco/activitysearch/pkg/postgres"
)

const Schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id         UUID        PRIMARY KEY,
	key_hash   TEXT        NOT NULL UNIQUE,
	name       TEXT        NOT NULL,
	user_key   TEXT        NOT NULL,
	is_admin   BOOLEAN     NOT NULL DEFAULT FALSE,
	rate_limit INTEGER     NOT NULL,
	is_active  BOOLEAN     NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ
);
`

var keyColumns = []string{"id", "name", "user_key", "is_admin", "rate_limit", "is_active", "created_at", "expires_at"}

// Postgres keeps keys in the api_keys table.
type Postgres struct {
	client *postgres.Client
	logger *slog.Logger
}

var _ Store = (*Postgres)(nil)

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{
		client: client,
		logger: slog.Default().With("component", "apikey-store"),
	}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.client.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrating api_keys: %w", err)
	}
	return nil
}

func (p *Postgres) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	stmt, args, err := validateQuery(HashKey(rawKey)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building key query: %w", err)
	}
	info, err := scanKey(p.client.DB.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if err := checkExpiry(info, time.Now()); err != nil {
		return nil, err
	}
	return info, nil
}

// CreateKey stores a new key and returns the raw key. The raw key is not
// recoverable afterwards.
func (p *Postgres) CreateKey(ctx context.Context, k NewKey) (string, *KeyInfo, error) {
	if err := validateNew(k); err != nil {
		return "", nil, err
	}
	raw := generateRawKey()
	info := &KeyInfo{
		ID:        uuid.NewString(),
		Name:      k.Name,
		UserKey:   k.UserKey,
		Admin:     k.Admin,
		RateLimit: k.RateLimit,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: k.ExpiresAt,
	}
	stmt, args, err := insertQuery(HashKey(raw), info).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building insert: %w", err)
	}
	if _, err := p.client.DB.ExecContext(ctx, stmt, args...); err != nil {
		return "", nil, fmt.Errorf("creating api key: %w", err)
	}
	p.logger.Info("api key created", "id", info.ID, "name", k.Name, "user", k.UserKey, "rate_limit", k.RateLimit)
	return raw, info, nil
}

func (p *Postgres) RevokeKey(ctx context.Context, rawKey string) error {
	stmt, args, err := revokeQuery(HashKey(rawKey)).ToSql()
	if err != nil {
		return fmt.Errorf("building revoke: %w", err)
	}
	result, err := p.client.DB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrInvalidKey
	}
	p.logger.Info("api key revoked")
	return nil
}

func (p *Postgres) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	stmt, args, err := listQuery().ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}
	rows, err := p.client.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]KeyInfo, 0)
	for rows.Next() {
		info, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, *info)
	}
	return keys, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(s scanner) (*KeyInfo, error) {
	var info KeyInfo
	var expiresAt sql.NullTime
	if err := s.Scan(&info.ID, &info.Name, &info.UserKey, &info.Admin, &info.RateLimit,
		&info.IsActive, &info.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

func validateQuery(hash string) sq.SelectBuilder {
	return postgres.Builder.Select(keyColumns...).
		From("api_keys").
		Where(sq.Eq{"key_hash": hash, "is_active": true})
}

func insertQuery(hash string, info *KeyInfo) sq.InsertBuilder {
	var expiry sql.NullTime
	if info.ExpiresAt != nil {
		expiry = sql.NullTime{Time: *info.ExpiresAt, Valid: true}
	}
	return postgres.Builder.Insert("api_keys").
		Columns("id", "key_hash", "name", "user_key", "is_admin", "rate_limit", "created_at", "expires_at").
		Values(info.ID, hash, info.Name, info.UserKey, info.Admin, info.RateLimit, info.CreatedAt, expiry)
}

func revokeQuery(hash string) sq.UpdateBuilder {
	return postgres.Builder.Update("api_keys").
		Set("is_active", false).
		Where(sq.Eq{"key_hash": hash, "is_active": true})
}

func listQuery() sq.SelectBuilder {
	return postgres.Builder.Select(keyColumns...).
		From("api_keys").
		Where(sq.Eq{"is_active": true}).
		OrderBy("created_at DESC")
}
