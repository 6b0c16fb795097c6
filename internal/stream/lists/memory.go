package lists

import (
	"context"
	"slices"
	"sync"

	"github.com/lmco/activitysearch/internal/stream/scope"
)

// Memory holds lists in process. Only the kinds it was created with are
// served; asking for any other kind is a configuration error.
type Memory struct {
	mu    sync.RWMutex
	kinds map[scope.ListKind]bool
	lists map[string][]int64
}

// NewMemory serves the given kinds, or every kind when none are given.
func NewMemory(kinds ...scope.ListKind) *Memory {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	m := &Memory{
		kinds: make(map[scope.ListKind]bool, len(kinds)),
		lists: make(map[string][]int64),
	}
	for _, k := range kinds {
		m.kinds[k] = true
	}
	return m
}

// Set replaces a list. ids may be in any order and contain duplicates.
func (m *Memory) Set(kind scope.ListKind, user string, ids []int64) {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b int64) int { return compareDesc(a, b) })
	sorted = slices.Compact(sorted)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key(kind, user)] = sorted
}

// Add inserts one id into a list, keeping it descending.
func (m *Memory) Add(kind scope.ListKind, user string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(kind, user)
	ids := m.lists[k]
	i, found := slices.BinarySearchFunc(ids, id, compareDesc)
	if found {
		return
	}
	m.lists[k] = slices.Insert(slices.Clone(ids), i, id)
}

func (m *Memory) IDs(ctx context.Context, kind scope.ListKind, user string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.kinds[kind] {
		return nil, unsupported(kind)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.lists[key(kind, user)]), nil
}

func compareDesc(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
