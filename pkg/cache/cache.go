package cache

import (
	"context"
	"sync"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// Memory is a bounded in-process Cacher placed in front of an optional
// persistent Cacher. Entries are evicted oldest-first once max is reached.
type Memory struct {
	mu    sync.Mutex
	max   int
	items map[string][]byte
	order []string
	next  Cacher
}

// NewMemory creates a memory cache holding at most max entries.
// next may be nil.
func NewMemory(max int, next Cacher) *Memory {
	if max < 1 {
		max = 1
	}
	return &Memory{
		max:   max,
		items: make(map[string][]byte, max),
		next:  next,
	}
}

func (m *Memory) GetCache(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	val, ok := m.items[key]
	m.mu.Unlock()
	if ok {
		return val, true
	}
	if m.next == nil {
		return nil, false
	}
	val, ok = m.next.GetCache(ctx, key)
	if ok {
		m.remember(key, val)
	}
	return val, ok
}

func (m *Memory) SetCache(ctx context.Context, key string, val []byte) error {
	if m.next != nil {
		if err := m.next.SetCache(ctx, key, val); err != nil {
			return err
		}
	}
	m.remember(key, val)
	return nil
}

// Len returns the number of entries held in memory.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) remember(key string, val []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[key]; !exists {
		for len(m.order) >= m.max {
			delete(m.items, m.order[0])
			m.order = m.order[1:]
		}
		m.order = append(m.order, key)
	}
	m.items[key] = val
}
