package usage

import (
	"context"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/syncutil"
)

// tenantArena holds one tenant's events. Events are stored in append order,
// so events[i] has sequence i+1.
type tenantArena struct {
	events []*Event
	byIdem map[string]*Event
}

// MemoryStore is an in-memory ledger store for demo/development. Appends for
// the same tenant are serialized by a sharded per-tenant mutex so sequence
// assignment never races.
type MemoryStore struct {
	mu     sync.RWMutex
	arenas map[string]*tenantArena
	append syncutil.ShardedMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{arenas: make(map[string]*tenantArena)}
}

func (m *MemoryStore) arena(tenantID string) *tenantArena {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.arenas[tenantID]
	if !ok {
		a = &tenantArena{byIdem: make(map[string]*Event)}
		m.arenas[tenantID] = a
	}
	return a
}

func (m *MemoryStore) Append(_ context.Context, e *Event) (AppendResult, error) {
	unlock := m.append.Lock(e.TenantID)
	defer unlock()

	a := m.arena(e.TenantID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := a.byIdem[e.IdempotencyKey]; ok {
		return AppendResult{Seq: prev.Seq, Accepted: false}, nil
	}

	cp := *e
	cp.Seq = int64(len(a.events)) + 1
	a.events = append(a.events, &cp)
	a.byIdem[cp.IdempotencyKey] = &cp

	e.Seq = cp.Seq
	return AppendResult{Seq: cp.Seq, Accepted: true}, nil
}

func (m *MemoryStore) GetByIdemKey(_ context.Context, tenantID, key string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.arenas[tenantID]
	if !ok {
		return nil, ErrEventNotFound
	}
	e, ok := a.byIdem[key]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ListFrom(_ context.Context, tenantID string, afterSeq int64, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.arenas[tenantID]
	if !ok {
		return nil, nil
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(a.events)) {
		return nil, nil
	}

	out := make([]*Event, 0, limit)
	for _, e := range a.events[afterSeq:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SumRange(_ context.Context, tenantID, metric string, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.arenas[tenantID]
	if !ok {
		return 0, nil
	}
	var total int64
	for _, e := range a.events {
		if e.Metric != metric {
			continue
		}
		if e.OccurredAt.Before(start) || !e.OccurredAt.Before(end) {
			continue
		}
		total += e.Quantity
	}
	return total, nil
}

func (m *MemoryStore) LastSeq(_ context.Context, tenantID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.arenas[tenantID]
	if !ok {
		return 0, nil
	}
	return int64(len(a.events)), nil
}

var _ Store = (*MemoryStore)(nil)
