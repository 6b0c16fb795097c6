package hydrate

import (
	"context"
	"sync"
)

// Memory stores activities and stars in process.
type Memory struct {
	mu         sync.RWMutex
	activities map[int64]Activity
	stars      map[string]map[int64]bool
}

func NewMemory() *Memory {
	return &Memory{
		activities: make(map[int64]Activity),
		stars:      make(map[string]map[int64]bool),
	}
}

func (m *Memory) Put(_ context.Context, a Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Starred = false
	m.activities[a.ID] = a
	return nil
}

func (m *Memory) Delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activities, id)
}

func (m *Memory) Star(user string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stars[user] == nil {
		m.stars[user] = make(map[int64]bool)
	}
	m.stars[user][id] = true
}

func (m *Memory) Load(ctx context.Context, ids []int64) (map[int64]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]Activity, len(ids))
	for _, id := range ids {
		if a, ok := m.activities[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (m *Memory) Starred(_ context.Context, user string, ids []int64) (map[int64]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]bool)
	for _, id := range ids {
		if m.stars[user][id] {
			out[id] = true
		}
	}
	return out, nil
}
