package cache

import (
	"context"
	"sync"
	"time"

	"github.com/af-corp/meridian-gateway/internal/types"
)

// Memory is the default single-process cache backend.
type Memory struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, fingerprint string) (*types.Response, bool) {
	m.mu.RLock()
	e, ok := m.entries[fingerprint]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if m.now().After(e.expiresAt) {
		// Lazy eviction: purge on the lookup that finds it expired.
		m.mu.Lock()
		if cur, ok := m.entries[fingerprint]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, fingerprint)
		}
		m.mu.Unlock()
		return nil, false
	}

	return e.resp, true
}

func (m *Memory) Put(_ context.Context, fingerprint string, resp *types.Response) {
	m.mu.Lock()
	m.entries[fingerprint] = entry{resp: resp, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

// Len reports the number of entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
