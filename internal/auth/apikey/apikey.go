// Package apikey binds API keys to stream users. The gateway resolves the
// presented key to a user key and forwards it to the searcher, so clients
// never choose whose visibility a search runs under.
//
// Raw keys are generated with crypto/rand and only their SHA-256 digest is
// stored.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// KeyInfo describes a stored key. UserKey is the stream user every request
// made with the key acts as.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	UserKey   string     `json:"user_key"`
	Admin     bool       `json:"admin"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewKey is a request to mint a key.
type NewKey struct {
	Name      string
	UserKey   string
	Admin     bool
	RateLimit int
	ExpiresAt *time.Time
}

// Store is the key registry the gateway authenticates against.
type Store interface {
	Validate(ctx context.Context, rawKey string) (*KeyInfo, error)
	CreateKey(ctx context.Context, k NewKey) (raw string, info *KeyInfo, err error)
	RevokeKey(ctx context.Context, rawKey string) error
	ListKeys(ctx context.Context) ([]KeyInfo, error)
}

func checkExpiry(info *KeyInfo, now time.Time) error {
	if info.ExpiresAt != nil && info.ExpiresAt.Before(now) {
		return ErrExpiredKey
	}
	return nil
}

func validateNew(k NewKey) error {
	if k.Name == "" {
		return errors.New("key name is required")
	}
	if k.UserKey == "" {
		return errors.New("user key is required")
	}
	if k.RateLimit < 1 {
		return fmt.Errorf("rate limit must be positive, got %d", k.RateLimit)
	}
	return nil
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

func generateRawKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
