package directory

import (
	"context"
	"slices"
	"sync"
)

// Memory is a directory held in process, used by tests and the memory
// backend.
type Memory struct {
	mu            sync.RWMutex
	people        map[string]int64
	groups        map[string]int64
	privateGroups map[int64]bool
	orgs          map[string]int64
	parentOrg     map[string]int64
	members       map[string][]int64
}

func NewMemory() *Memory {
	return &Memory{
		people:        make(map[string]int64),
		groups:        make(map[string]int64),
		privateGroups: make(map[int64]bool),
		orgs:          make(map[string]int64),
		parentOrg:     make(map[string]int64),
		members:       make(map[string][]int64),
	}
}

// AddPerson registers an account and the organization it belongs to; an
// orgID of zero leaves the person without one.
func (m *Memory) AddPerson(accountID string, id, orgID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[accountID] = id
	if orgID != 0 {
		m.parentOrg[accountID] = orgID
	}
}

func (m *Memory) AddGroup(shortName string, id int64, private bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[shortName] = id
	m.privateGroups[id] = private
}

func (m *Memory) AddOrganization(shortName string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[shortName] = id
}

// Join makes user a member of the group.
func (m *Memory) Join(user string, groupID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.members[user]
	if i, found := slices.BinarySearch(ids, groupID); !found {
		m.members[user] = slices.Insert(ids, i, groupID)
	}
}

func (m *Memory) PersonID(_ context.Context, accountID string) (int64, error) {
	return m.lookup(m.people, "person", accountID)
}

func (m *Memory) GroupID(_ context.Context, shortName string) (int64, error) {
	return m.lookup(m.groups, "group", shortName)
}

func (m *Memory) OrganizationID(_ context.Context, shortName string) (int64, error) {
	return m.lookup(m.orgs, "organization", shortName)
}

func (m *Memory) ParentOrganizationID(_ context.Context, user string) (int64, error) {
	return m.lookup(m.parentOrg, "parent organization of", user)
}

func (m *Memory) PrivateGroupIDs(_ context.Context, user string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.members[user]))
	for _, id := range m.members[user] {
		if m.privateGroups[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) lookup(table map[string]int64, kind, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := table[name]
	if !ok {
		return 0, notFound(kind, name)
	}
	return id, nil
}
