package billing

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory event store for demo/development.
type MemoryStore struct {
	mu        sync.RWMutex
	processed map[string]Result
	archived  []*Event
}

// NewMemoryStore creates a new in-memory billing event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{processed: make(map[string]Result)}
}

func (m *MemoryStore) IsProcessed(_ context.Context, externalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.processed[externalID]
	return ok, nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, externalID string, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[externalID] = result
	return nil
}

func (m *MemoryStore) Archive(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.archived = append(m.archived, &cp)
	return nil
}

func (m *MemoryStore) ListArchived(_ context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Event, 0, len(m.archived))
	for i := len(m.archived) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *m.archived[i]
		out = append(out, &cp)
	}
	return out, nil
}

var _ EventStore = (*MemoryStore)(nil)
