// Package cache provides a bounded LRU store with per-entry TTLs.
//
// Eviction and expiry are opportunistic: expired entries are dropped
// when a lookup finds them and eviction happens on insert, so no
// background sweeper goroutine is needed for the small working sets
// this engine deals with.
package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultMaxSize = 100
	DefaultTTL     = 3600 * time.Second
)

// Stats is a point-in-time snapshot of the store's lifetime counters.
type Stats struct {
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	HitRate        float64 `json:"hit_rate"`
	TotalAccesses  uint64  `json:"total_accesses"`
	ExpiredItems   uint64  `json:"expired_items"`
	EvictedEntries uint64  `json:"evicted_entries"`
}

type entry[V any] struct {
	key            string
	value          V
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
}

// Store is a string-keyed LRU+TTL cache. Safe for concurrent use; a Get
// racing an evicting Put observes either the old or the new value, never
// a partially constructed entry.
type Store[V any] struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	hits       uint64
	misses     uint64
	expired    uint64
	evicted    uint64
	now        func() time.Time
}

// New builds a Store with the given capacity and default TTL.
// Non-positive arguments fall back to the package defaults.
func New[V any](maxSize int, defaultTTL time.Duration) *Store[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Store[V]{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*list.Element, maxSize),
		order:      list.New(),
		now:        time.Now,
	}
}

// SetClock overrides the time source. Tests use this to step through TTL
// boundaries without sleeping.
func (s *Store[V]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns the live value for key. An entry past its expiry is
// treated as absent and removed on the spot.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		s.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if s.now().After(e.expiresAt) {
		s.removeLocked(el)
		s.expired++
		s.misses++
		return zero, false
	}
	e.lastAccessedAt = s.now()
	s.order.MoveToFront(el)
	s.hits++
	return e.value, true
}

// Put inserts or overwrites key with the default TTL.
func (s *Store[V]) Put(key string, value V) {
	s.PutTTL(key, value, 0)
}

// PutTTL inserts or overwrites key with an explicit TTL (non-positive
// means the default). Inserting a new key beyond capacity evicts the
// least-recently-accessed entry first, oldest createdAt breaking ties.
func (s *Store[V]) PutTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		e.lastAccessedAt = now
		s.order.MoveToFront(el)
		return
	}

	if len(s.entries) >= s.maxSize {
		s.evictLocked()
	}
	el := s.order.PushFront(&entry[V]{
		key:            key,
		value:          value,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
	})
	s.entries[key] = el
}

// evictLocked removes the least-recently-used entry. Entries that share
// the victim's access time are disambiguated by oldest createdAt.
func (s *Store[V]) evictLocked() {
	victim := s.order.Back()
	if victim == nil {
		return
	}
	ve := victim.Value.(*entry[V])
	for el := victim.Prev(); el != nil; el = el.Prev() {
		e := el.Value.(*entry[V])
		if !e.lastAccessedAt.Equal(ve.lastAccessedAt) {
			break
		}
		if e.createdAt.Before(ve.createdAt) {
			victim, ve = el, e
		}
	}
	s.removeLocked(victim)
	s.evicted++
}

func (s *Store[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	s.order.Remove(el)
	delete(s.entries, e.key)
}

// Invalidate removes key if present.
func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
}

// Clear drops all entries and resets the lifetime counters.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element, s.maxSize)
	s.order.Init()
	s.hits, s.misses, s.expired, s.evicted = 0, 0, 0, 0
}

// Len returns the current entry count.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats reports the store's lifetime counters. HitRate is hits over all
// accesses; counters reset only on Clear.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.hits + s.misses
	rate := 0.0
	if total > 0 {
		rate = float64(s.hits) / float64(total)
	}
	return Stats{
		Size:           len(s.entries),
		MaxSize:        s.maxSize,
		HitRate:        rate,
		TotalAccesses:  total,
		ExpiredItems:   s.expired,
		EvictedEntries: s.evicted,
	}
}
