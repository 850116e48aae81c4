// Package cache holds response data for domain hooks. Entries scoped to the
// signed-in identity are dropped whenever the credential changes hands.
package cache

import (
	"sync"
	"time"
)

type Scope int

const (
	// Shared entries do not depend on who is signed in.
	Shared Scope = iota
	// Identity entries belong to the current session and are purged on refresh, login and logout.
	Identity
)

// IdentityPurger is implemented by anything holding per-identity data.
type IdentityPurger interface {
	PurgeIdentity() int
}

type entry struct {
	value   []byte
	scope   Scope
	expires time.Time // zero means no expiry
}

// Store is an in-memory TTL cache
type Store struct {
	entries map[string]entry
	nowFunc func() time.Time
	mu      sync.RWMutex
}

var _ IdentityPurger = (*Store)(nil)

func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		nowFunc: time.Now,
	}
}

// NewWithClock is New with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.nowFunc = now
	return s
}

func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || s.expired(e) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A ttl of zero keeps the entry until it is deleted or purged.
func (s *Store) Set(key string, value []byte, scope Scope, ttl time.Duration) {
	e := entry{value: value, scope: scope}
	if ttl > 0 {
		e.expires = s.nowFunc().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// PurgeIdentity drops every identity-scoped entry and returns how many were removed.
func (s *Store) PurgeIdentity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.scope == Identity {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Cleanup removes expired entries
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, k)
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) expired(e entry) bool {
	return !e.expires.IsZero() && s.nowFunc().After(e.expires)
}
