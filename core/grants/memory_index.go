package grants

import (
	"context"
	"sync"
	"time"
)

// MemoryIndex keeps grants in process memory. This is the default backend:
// all service state lives in the working directory tree plus this map.
type MemoryIndex struct {
	mu     sync.RWMutex
	grants map[string]Grant
	now    func() time.Time
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{grants: make(map[string]Grant), now: time.Now}
}

// SetClock overrides the time source, for tests.
func (m *MemoryIndex) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryIndex) Put(ctx context.Context, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[g.ID] = g
	return nil
}

func (m *MemoryIndex) Get(ctx context.Context, id string) (Grant, error) {
	m.mu.RLock()
	g, ok := m.grants[id]
	m.mu.RUnlock()
	if !ok {
		return Grant{}, ErrNotFound
	}
	if !m.now().Before(g.ExpiresAt) {
		return Grant{}, ErrNotFound
	}
	return g, nil
}

func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, id)
	return nil
}

func (m *MemoryIndex) Close() error { return nil }

// Len reports live entries, expired ones included until cleanup fires.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.grants)
}
