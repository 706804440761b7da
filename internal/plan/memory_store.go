package plan

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory plan store for demo/development.
type MemoryStore struct {
	mu       sync.RWMutex
	plans    map[string]*Plan         // by ID
	versions map[string]map[int]*Plan // name to version to plan
}

// NewMemoryStore creates a new in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:    make(map[string]*Plan),
		versions: make(map[string]map[int]*Plan),
	}
}

func (m *MemoryStore) Create(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byVersion := m.versions[p.Name]
	if byVersion == nil {
		byVersion = make(map[int]*Plan)
		m.versions[p.Name] = byVersion
	}
	if _, exists := byVersion[p.Version]; exists {
		return ErrVersionConflict
	}

	cp := clone(p)
	m.plans[p.ID] = cp
	byVersion[p.Version] = cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return clone(p), nil
}

func (m *MemoryStore) Latest(_ context.Context, name string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byVersion := m.versions[name]
	if len(byVersion) == 0 {
		return nil, ErrPlanNotFound
	}
	var best *Plan
	for _, p := range byVersion {
		if best == nil || p.Version > best.Version {
			best = p
		}
	}
	return clone(best), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Plan, 0, len(m.versions))
	for name := range m.versions {
		var best *Plan
		for _, p := range m.versions[name] {
			if best == nil || p.Version > best.Version {
				best = p
			}
		}
		out = append(out, clone(best))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// clone deep-copies a plan so callers cannot mutate stored state.
func clone(p *Plan) *Plan {
	cp := *p
	cp.QuotaRules = append([]QuotaRule(nil), p.QuotaRules...)
	cp.Features = append([]string(nil), p.Features...)
	if p.Surcharge != nil {
		s := *p.Surcharge
		cp.Surcharge = &s
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
