package flags

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory override store for demo/development.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]map[string]bool // tenant to flag to value
}

// NewMemoryStore creates a new in-memory override store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overrides: make(map[string]map[string]bool)}
}

func (m *MemoryStore) Set(_ context.Context, tenantID, flag string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byFlag, ok := m.overrides[tenantID]
	if !ok {
		byFlag = make(map[string]bool)
		m.overrides[tenantID] = byFlag
	}
	byFlag[flag] = enabled
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, flag string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.overrides[tenantID][flag]
	if !ok {
		return false, ErrOverrideNotFound
	}
	return v, nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.overrides[tenantID]))
	for k, v := range m.overrides[tenantID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID, flag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.overrides[tenantID], flag)
	return nil
}

var _ Store = (*MemoryStore)(nil)
