package featurestore

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotency is an in-process IdempotencyCache for tests and
// single-instance deployments. Entries expire after the configured TTL
// so the set does not grow without bound.
type MemoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewMemoryIdempotency creates an in-memory idempotency cache.
func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	return &MemoryIdempotency{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// FirstSeen implements IdempotencyCache.
func (m *MemoryIdempotency) FirstSeen(_ context.Context, txID string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if expires, ok := m.seen[txID]; ok && now.Before(expires) {
		return false, nil
	}

	// Opportunistic cleanup once the set gets large.
	if len(m.seen) > 1<<16 {
		for id, expires := range m.seen {
			if now.After(expires) {
				delete(m.seen, id)
			}
		}
	}

	m.seen[txID] = now.Add(m.ttl)
	return true, nil
}
