package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/idgen"
)

// MemoryStore is an in-memory subscription store for demo/development.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription // by tenant ID
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[s.TenantID]; exists {
		return ErrAlreadyExists
	}
	cp := *s
	m.subs[s.TenantID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ApplyTransition(_ context.Context, tenantID string, to Status) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	if !CanTransition(s.Status, to) {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	s.Status = to
	if to == StatusPastDue {
		s.PastDueSince = now
	} else {
		s.PastDueSince = time.Time{}
	}
	s.UpdatedAt = now

	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ApplyProviderUpdate(_ context.Context, u ProviderUpdate) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s, ok := m.subs[u.TenantID]
	if !ok {
		s = &Subscription{
			ID:        idgen.WithPrefix("sub_"),
			TenantID:  u.TenantID,
			CreatedAt: now,
		}
		m.subs[u.TenantID] = s
	} else if !u.ProviderTS.After(s.LastProviderTS) {
		return nil, ErrStaleUpdate
	}

	s.PlanID = u.PlanID
	s.Status = u.Status
	s.CurrentPeriodStart = u.PeriodStart
	s.CurrentPeriodEnd = u.PeriodEnd
	if u.Status == StatusPastDue {
		if s.PastDueSince.IsZero() {
			s.PastDueSince = now
		}
	} else {
		s.PastDueSince = time.Time{}
	}
	s.LastProviderTS = u.ProviderTS
	s.UpdatedAt = now

	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListPastDue(_ context.Context, before time.Time) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, s := range m.subs {
		if s.Status == StatusPastDue && !s.PastDueSince.IsZero() && s.PastDueSince.Before(before) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
