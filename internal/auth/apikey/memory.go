package apikey

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu     sync.RWMutex
	byHash map[string]*KeyInfo
	now    func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{byHash: make(map[string]*KeyInfo), now: time.Now}
}

// Seed registers a known raw key. It is how development deployments get
// their first admin key without a database.
func (m *Memory) Seed(rawKey string, k NewKey) (*KeyInfo, error) {
	if err := validateNew(k); err != nil {
		return nil, err
	}
	info := m.newInfo(k)
	m.mu.Lock()
	m.byHash[HashKey(rawKey)] = info
	m.mu.Unlock()
	return info, nil
}

func (m *Memory) Validate(_ context.Context, rawKey string) (*KeyInfo, error) {
	m.mu.RLock()
	info, ok := m.byHash[HashKey(rawKey)]
	m.mu.RUnlock()
	if !ok || !info.IsActive {
		return nil, ErrInvalidKey
	}
	if err := checkExpiry(info, m.now()); err != nil {
		return nil, err
	}
	cp := *info
	return &cp, nil
}

func (m *Memory) CreateKey(_ context.Context, k NewKey) (string, *KeyInfo, error) {
	if err := validateNew(k); err != nil {
		return "", nil, err
	}
	raw := generateRawKey()
	info := m.newInfo(k)
	m.mu.Lock()
	m.byHash[HashKey(raw)] = info
	m.mu.Unlock()
	cp := *info
	return raw, &cp, nil
}

func (m *Memory) RevokeKey(_ context.Context, rawKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.byHash[HashKey(rawKey)]
	if !ok || !info.IsActive {
		return ErrInvalidKey
	}
	info.IsActive = false
	return nil
}

func (m *Memory) ListKeys(_ context.Context) ([]KeyInfo, error) {
	m.mu.RLock()
	keys := make([]KeyInfo, 0, len(m.byHash))
	for _, info := range m.byHash {
		if info.IsActive {
			keys = append(keys, *info)
		}
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].ID < keys[j].ID
	})
	return keys, nil
}

func (m *Memory) newInfo(k NewKey) *KeyInfo {
	return &KeyInfo{
		ID:        uuid.NewString(),
		Name:      k.Name,
		UserKey:   k.UserKey,
		Admin:     k.Admin,
		RateLimit: k.RateLimit,
		IsActive:  true,
		CreatedAt: m.now().UTC(),
		ExpiresAt: k.ExpiresAt,
	}
}
