package correlation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("correlation: not found")

// Store is a concurrency-safe key/value store with per-key expiry.
// A zero ttl means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Scan calls fn for every live key with the prefix until fn returns false.
	Scan(ctx context.Context, prefix string, fn func(key string, val []byte) bool) error
}

type memoryItem struct {
	val       []byte
	expiresAt time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// MemoryStore is the in-process Store. Expired keys are hidden on read and
// removed by PurgeExpired.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]memoryItem{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || it.expired(s.now()) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(it.val))
	copy(out, it.val)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	it := memoryItem{val: append([]byte(nil), val...)}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = it
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.items, k)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, prefix string, fn func(key string, val []byte) bool) error {
	now := s.now()
	s.mu.RLock()
	type kv struct {
		k string
		v []byte
	}
	matched := make([]kv, 0)
	for k, it := range s.items {
		if strings.HasPrefix(k, prefix) && !it.expired(now) {
			matched = append(matched, kv{k: k, v: it.val})
		}
	}
	s.mu.RUnlock()

	for _, m := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(m.k, m.v) {
			return nil
		}
	}
	return nil
}

// PurgeExpired drops expired keys and returns how many were removed.
func (s *MemoryStore) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, it := range s.items {
		if it.expired(now) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
