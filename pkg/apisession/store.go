// Package apisession keeps per-session values for API handlers and evicts
// them once they have been idle longer than a TTL.
package apisession

import (
	"sync"
	"time"
)

// cleanupInterval is how many writes trigger a lazy eviction pass.
const cleanupInterval = 64

type entry[T any] struct {
	value   T
	touched time.Time
}

// Store is a typed, thread-safe map of session ID to T.
type Store[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	ttl     time.Duration
	keep    func(T) bool
	now     func() time.Time
	writes  int
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithKeep exempts values for which keep returns true from eviction
// (e.g. sessions still running).
func WithKeep[T any](keep func(T) bool) Option[T] {
	return func(s *Store[T]) { s.keep = keep }
}

// WithClock overrides time.Now (tests).
func WithClock[T any](now func() time.Time) Option[T] {
	return func(s *Store[T]) { s.now = now }
}

// New creates a Store evicting entries untouched for longer than ttl.
// A ttl <= 0 disables eviction.
func New[T any](ttl time.Duration, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		entries: make(map[string]*entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put stores v under id, replacing any previous value.
func (s *Store[T]) Put(id string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry[T]{value: v, touched: s.now()}
	s.wroteLocked()
}

// Update applies fn to the value of id in place. It reports false when id
// is unknown.
func (s *Store[T]) Update(id string, fn func(*T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	fn(&e.value)
	e.touched = s.now()
	s.wroteLocked()
	return true
}

// Get returns a copy of the value of id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || s.expiredLocked(e) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Delete removes id.
func (s *Store[T]) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Cleanup evicts expired entries and returns how many were removed.
func (s *Store[T]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

// Len returns the number of stored entries, expired ones included until
// the next cleanup.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store[T]) wroteLocked() {
	s.writes++
	if s.writes%cleanupInterval == 0 {
		s.cleanupLocked()
	}
}

func (s *Store[T]) expiredLocked(e *entry[T]) bool {
	if s.ttl <= 0 {
		return false
	}
	if s.keep != nil && s.keep(e.value) {
		return false
	}
	return s.now().Sub(e.touched) > s.ttl
}

func (s *Store[T]) cleanupLocked() int {
	n := 0
	for id, e := range s.entries {
		if s.expiredLocked(e) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}
