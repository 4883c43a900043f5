// Package registry provides a lock-protected map whose entries expire.
package registry

import (
	"sync"
	"time"
)

type entry[V comparable] struct {
	value     V
	expiresAt time.Time
}

// Map is a concurrency-safe key/value store with per-entry expiry. Every
// method is atomic with respect to the others. An entry whose expiry is at
// or before the current time reads as absent. A zero expiresAt never expires.
type Map[K, V comparable] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	now     func() time.Time
}

// New creates an empty map. now may be nil, in which case time.Now is used.
func New[K, V comparable](now func() time.Time) *Map[K, V] {
	if now == nil {
		now = time.Now
	}
	return &Map[K, V]{
		entries: make(map[K]entry[V]),
		now:     now,
	}
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Get returns the live value stored under k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[k]
	if !ok || e.expired(m.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores v under k, overwriting any previous value.
func (m *Map[K, V]) Put(k K, v V, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[k] = entry[V]{value: v, expiresAt: expiresAt}
}

// PutIfAbsent stores v under k unless k already holds a live value. It
// reports whether v was stored.
func (m *Map[K, V]) PutIfAbsent(k K, v V, expiresAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[k]; ok && !e.expired(m.now()) {
		return false
	}
	m.entries[k] = entry[V]{value: v, expiresAt: expiresAt}
	return true
}

// DeleteIfPresent removes k and returns the live value it held. Of several
// concurrent callers for the same key at most one observes ok == true.
func (m *Map[K, V]) DeleteIfPresent(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	delete(m.entries, k)
	if e.expired(m.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// CompareAndDelete removes k only when it holds a live value equal to expected.
func (m *Map[K, V]) CompareAndDelete(k K, expected V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[k]
	if !ok || e.value != expected || e.expired(m.now()) {
		return false
	}
	delete(m.entries, k)
	return true
}

// Sweep evicts every entry expired at now and returns how many were removed.
func (m *Map[K, V]) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
