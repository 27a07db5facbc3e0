package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sessionauth/ports"
)

// MemoryStore is an in-memory sliding-window implementation of RateLimitStore.
// Counts are lost on restart; use RedisStore when running more than one instance.
type MemoryStore struct {
	events map[string][]time.Time
	now    func() time.Time
	mu     sync.Mutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

var _ ports.RateLimitStore = (*MemoryStore)(nil)

// RecordAndCount records a request and counts the requests inside window
func (s *MemoryStore) RecordAndCount(ctx context.Context, salt common.Hash, alias string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, fmt.Errorf("invalid rate limit window %s", window)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cut := now.Add(-window)
	key := rateLimitKey(salt, alias, window)

	kept := s.events[key][:0]
	for _, t := range s.events[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.events[key] = kept

	return len(kept), nil
}

// Clear removes all recorded requests
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(map[string][]time.Time)
}

func rateLimitKey(salt common.Hash, alias string, window time.Duration) string {
	return fmt.Sprintf("%s:%s:%d", alias, salt.Hex(), int64(window/time.Second))
}
