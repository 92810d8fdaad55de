package verification

import (
	"context"
	"sync"
)

// MemoryStore is a process-lifetime Store.
type MemoryStore struct {
	mu        sync.Mutex
	verifiers map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{verifiers: make(map[string]map[string]struct{})}
}

func (m *MemoryStore) AddVerifier(_ context.Context, reportID, actorID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.verifiers[reportID]
	if !ok {
		set = make(map[string]struct{})
		m.verifiers[reportID] = set
	}
	if _, seen := set[actorID]; seen {
		return len(set), false, nil
	}
	set[actorID] = struct{}{}
	return len(set), true, nil
}

func (m *MemoryStore) CountVerifiers(_ context.Context, reportID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verifiers[reportID]), nil
}
