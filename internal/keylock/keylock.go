// Package keylock provides one read/write lock per event key. A key's lock
// exists only while someone holds or waits for it, so looking up events that
// were never written leaves nothing behind.
package keylock

import (
	"sync"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/domain"
)

type entry struct {
	mu   sync.RWMutex
	refs int
}

// Map hands out per-key locks. The zero value is ready to use.
type Map struct {
	mu    sync.Mutex
	locks map[domain.EventKey]*entry
}

// Lock takes the key's exclusive lock and returns its release func.
func (m *Map) Lock(key domain.EventKey) func() {
	e := m.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.release(key, e)
	}
}

// RLock takes the key's shared lock and returns its release func.
func (m *Map) RLock(key domain.EventKey) func() {
	e := m.acquire(key)
	e.mu.RLock()
	return func() {
		e.mu.RUnlock()
		m.release(key, e)
	}
}

// Len returns the number of keys currently locked or waited on.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) acquire(key domain.EventKey) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[domain.EventKey]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key domain.EventKey, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
