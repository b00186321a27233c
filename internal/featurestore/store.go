// Package featurestore maintains per-user rolling aggregates with
// bounded memory. Updates for one user are serialized; updates for
// distinct users proceed in parallel across shards.
package featurestore

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
	"github.com/banking/fraud-detection/internal/pkg/metrics"
)

// IdempotencyCache records which transaction ids have already been
// applied, so at-least-once redelivery never double-counts a
// transaction in the rolling statistics.
type IdempotencyCache interface {
	// FirstSeen returns true exactly once per transaction id.
	FirstSeen(ctx context.Context, txID string) (bool, error)
}

// Store is the sharded feature store. Sharding by user id keeps the
// "sequential per user, parallel across users" property without a
// global lock.
type Store struct {
	shards      []*shard
	capPerShard int
	resident    atomic.Int64
	cfg         *config.FeatureStoreConfig
	idem        IdempotencyCache
	log         *logger.Logger
}

// New creates a feature store with the configured shard count and
// memory cap.
func New(cfg *config.FeatureStoreConfig, idem IdempotencyCache, log *logger.Logger) *Store {
	capPerShard := cfg.MemoryCap / cfg.Shards
	if capPerShard < 1 {
		capPerShard = 1
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = newShard()
	}

	return &Store{
		shards:      shards,
		capPerShard: capPerShard,
		cfg:         cfg,
		idem:        idem,
		log:         log.Named("feature_store"),
	}
}

// UpdateAndSnapshot atomically incorporates the transaction into the
// user's rolling statistics and returns a snapshot of post-update
// state. Redelivered transactions are detected via the idempotency
// cache and returned as duplicates without touching the aggregates.
func (s *Store) UpdateAndSnapshot(ctx context.Context, tx *domain.Transaction) (*domain.UserProfileSnapshot, error) {
	first, err := s.idem.FirstSeen(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check for transaction %s: %w", tx.ID, err)
	}

	sh := s.shardFor(tx.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.profiles[tx.UserID]
	if !ok {
		if !first {
			// Redelivery of a transaction whose profile was since
			// evicted: rebuilding partial state would skew the
			// statistics, so report a cold duplicate snapshot.
			return (&profile{userID: tx.UserID}).snapshot(0, true), nil
		}
		p = s.insertLocked(sh, tx.UserID)
	}

	if !first {
		p.pruneVelocity(tx.Timestamp, s.cfg.VelocityWindow)
		return p.snapshot(0, true), nil
	}

	distance := p.apply(tx, s.cfg.VelocityWindow)
	sh.lru.MoveToFront(p.lruElem)

	return p.snapshot(distance, false), nil
}

// ProfileCount returns the number of resident profiles.
func (s *Store) ProfileCount() int {
	return int(s.resident.Load())
}

// RunSweeper periodically evicts profiles idle beyond the lookback
// window. It runs until the context is cancelled and never blocks
// foreground updates for longer than one shard pass.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.evictIdle(time.Now())
			if evicted > 0 {
				s.log.Info("idle profile sweep complete",
					logger.IntField("evicted", evicted),
					logger.IntField("resident", s.ProfileCount()),
				)
			}
		}
	}
}

// evictIdle removes profiles whose last transaction predates the
// lookback window relative to ref. Returns the eviction count.
func (s *Store) evictIdle(ref time.Time) int {
	cutoff := ref.Add(-s.cfg.Lookback())
	evicted := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for userID, p := range sh.profiles {
			if p.lastTxTime.Before(cutoff) {
				s.removeLocked(sh, p)
				evicted++
				metrics.ProfileEvictionsTotal.WithLabelValues("idle").Inc()
				s.log.ProfileEvicted(userID, "idle")
			}
		}
		sh.mu.Unlock()
	}

	return evicted
}

func (s *Store) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// insertLocked creates a profile, evicting least-recently-used entries
// if the shard is at its memory cap. Forgetting cold users' history is
// an accepted approximation: their next transaction starts a fresh
// profile with count=1.
func (s *Store) insertLocked(sh *shard, userID string) *profile {
	for len(sh.profiles) >= s.capPerShard {
		oldest := sh.lru.Back()
		if oldest == nil {
			break
		}
		victim := oldest.Value.(*profile)
		s.removeLocked(sh, victim)
		metrics.ProfileEvictionsTotal.WithLabelValues("memory_cap").Inc()
		s.log.ProfileEvicted(victim.userID, "memory_cap")
	}

	p := newProfile(userID)
	p.lruElem = sh.lru.PushFront(p)
	sh.profiles[userID] = p
	metrics.TrackedProfiles.Set(float64(s.resident.Add(1)))
	return p
}

func (s *Store) removeLocked(sh *shard, p *profile) {
	delete(sh.profiles, p.userID)
	sh.lru.Remove(p.lruElem)
	metrics.TrackedProfiles.Set(float64(s.resident.Add(-1)))
}

// shard owns a disjoint subset of user profiles.
type shard struct {
	mu       sync.Mutex
	profiles map[string]*profile
	lru      *list.List // front = most recently updated
}

func newShard() *shard {
	return &shard{
		profiles: make(map[string]*profile),
		lru:      list.New(),
	}
}
