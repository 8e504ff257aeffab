package join

import (
	"sync"
	"sync/atomic"
)

// Memo caches evaluated feature values per example. It is owned by one
// tree build; ensemble members each get their own.
type Memo struct {
	entries map[int]map[string]interface{}
	mu      sync.RWMutex

	// Statistics
	hits   int64
	misses int64
}

// NewMemo creates an empty memo.
func NewMemo() *Memo {
	return &Memo{entries: make(map[int]map[string]interface{})}
}

// Get returns the cached value of key for the example.
func (m *Memo) Get(example int, key string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[example][key]
	if !ok {
		atomic.AddInt64(&m.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&m.hits, 1)
	return v, true
}

// Set stores the value of key for the example.
func (m *Memo) Set(example int, key string, value interface{}) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byKey, ok := m.entries[example]
	if !ok {
		byKey = make(map[string]interface{})
		m.entries[example] = byKey
	}
	byKey[key] = value
}

// Clear drops every entry and resets the counters.
func (m *Memo) Clear() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[int]map[string]interface{})
	atomic.StoreInt64(&m.hits, 0)
	atomic.StoreInt64(&m.misses, 0)
}

// Stats returns the hit and miss counts and the number of cached values.
func (m *Memo) Stats() (hits, misses int64, size int) {
	if m == nil {
		return 0, 0, 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, byKey := range m.entries {
		size += len(byKey)
	}
	return atomic.LoadInt64(&m.hits), atomic.LoadInt64(&m.misses), size
}
