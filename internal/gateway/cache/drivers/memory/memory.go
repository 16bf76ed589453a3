// Package memory is the in-process cache.Store, used by default and for a
// single gateway replica.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
)

type item struct {
	entry     cache.Entry
	tags      []string
	expiresAt time.Time
}

type Store struct {
	mu      sync.Mutex
	items   map[string]item
	tagKeys map[string]map[string]struct{}

	// Now is replaceable in tests.
	Now func() time.Time
}

var _ cache.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		items:   make(map[string]item),
		tagKeys: make(map[string]map[string]struct{}),
		Now:     time.Now,
	}
}

func (s *Store) Get(_ context.Context, key string) (cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return cache.Entry{}, cache.ErrMiss
	}
	if !s.Now().Before(it.expiresAt) {
		s.remove(key)
		return cache.Entry{}, cache.ErrMiss
	}

	e := it.entry
	e.Body = append([]byte(nil), it.entry.Body...)
	return e, nil
}

func (s *Store) Set(_ context.Context, key string, e cache.Entry, tags []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key)

	e.Body = append([]byte(nil), e.Body...)
	s.items[key] = item{entry: e, tags: append([]string(nil), tags...), expiresAt: s.Now().Add(ttl)}
	for _, tag := range tags {
		keys, ok := s.tagKeys[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tagKeys[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (s *Store) ExpireTag(_ context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.tagKeys[tag] {
		s.remove(key)
	}
	delete(s.tagKeys, tag)
	return nil
}

func (s *Store) MarkStale(_ context.Context, tag string, maxStale time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.Now().Add(maxStale)
	for key := range s.tagKeys[tag] {
		it := s.items[key]
		if it.expiresAt.After(deadline) {
			it.expiresAt = deadline
			s.items[key] = it
		}
	}
	return nil
}

func (s *Store) Purge(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	n := 0
	for key, it := range s.items {
		if !now.Before(it.expiresAt) {
			s.remove(key)
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// remove drops key and its tag index entries. s.mu must be held.
func (s *Store) remove(key string) {
	it, ok := s.items[key]
	if !ok {
		return
	}
	delete(s.items, key)
	for _, tag := range it.tags {
		keys := s.tagKeys[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.tagKeys, tag)
		}
	}
}
