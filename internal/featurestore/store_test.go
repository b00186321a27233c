package featurestore

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
)

func testConfig() *config.FeatureStoreConfig {
	return &config.FeatureStoreConfig{
		LookbackDays:    30,
		VelocityWindow:  time.Hour,
		MinTransactions: 5,
		MemoryCap:       1024,
		Shards:          4,
		SweepInterval:   time.Minute,
	}
}

func newTestStore(t *testing.T, cfg *config.FeatureStoreConfig) *Store {
	t.Helper()
	return New(cfg, NewMemoryIdempotency(time.Hour), logger.NewNop())
}

func makeTx(id, userID string, amount float64, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:               id,
		UserID:           userID,
		Amount:           amount,
		Currency:         "USD",
		MerchantCategory: "grocery",
		Timestamp:        ts,
		Location:         domain.Location{Lat: 40.7128, Lon: -74.0060},
	}
}

func TestUpdateAndSnapshot_WelfordMatchesDirectComputation(t *testing.T) {
	store := newTestStore(t, testConfig())
	ctx := context.Background()

	amounts := []float64{12.50, 99.99, 3.20, 450.00, 27.84, 1850.01, 0.99, 64.00}
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	var snap *domain.UserProfileSnapshot
	for i, amount := range amounts {
		var err error
		snap, err = store.UpdateAndSnapshot(ctx, makeTx(fmt.Sprintf("tx-%d", i), "user-1", amount, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	mean := 0.0
	for _, a := range amounts {
		mean += a
	}
	mean /= float64(len(amounts))

	variance := 0.0
	for _, a := range amounts {
		variance += (a - mean) * (a - mean)
	}
	variance /= float64(len(amounts) - 1)

	assert.Equal(t, int64(len(amounts)), snap.Count)
	assert.InDelta(t, mean, snap.Mean, 1e-9)
	assert.InDelta(t, variance, snap.Variance, 1e-6)
	assert.InDelta(t, math.Sqrt(variance), snap.StdDev, 1e-6)
}

func TestUpdateAndSnapshot_SingleTransactionHasZeroVariance(t *testing.T) {
	store := newTestStore(t, testConfig())

	snap, err := store.UpdateAndSnapshot(context.Background(),
		makeTx("tx-1", "user-1", 42.00, time.Now().UTC()))
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.Count)
	assert.Equal(t, 42.00, snap.Mean)
	assert.Zero(t, snap.Variance)
	assert.Zero(t, snap.StdDev)
}

func TestUpdateAndSnapshot_RedeliveryDoesNotDoubleCount(t *testing.T) {
	store := newTestStore(t, testConfig())
	ctx := context.Background()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	first, err := store.UpdateAndSnapshot(ctx, makeTx("tx-1", "user-1", 100.00, ts))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(1), first.Count)

	second, err := store.UpdateAndSnapshot(ctx, makeTx("tx-1", "user-1", 100.00, ts))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(1), second.Count)
	assert.Equal(t, 100.00, second.Mean)
}

func TestUpdateAndSnapshot_RedeliveryAfterEvictionIsColdDuplicate(t *testing.T) {
	store := newTestStore(t, testConfig())
	ctx := context.Background()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := store.UpdateAndSnapshot(ctx, makeTx("tx-1", "user-1", 100.00, ts))
	require.NoError(t, err)

	evicted := store.evictIdle(ts.Add(31 * 24 * time.Hour))
	require.Equal(t, 1, evicted)

	snap, err := store.UpdateAndSnapshot(ctx, makeTx("tx-1", "user-1", 100.00, ts))
	require.NoError(t, err)
	assert.True(t, snap.Duplicate)
	assert.Zero(t, snap.Count)
	assert.Zero(t, store.ProfileCount())
}

func TestEvictIdle_RemovesOnlyStaleProfiles(t *testing.T) {
	store := newTestStore(t, testConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := store.UpdateAndSnapshot(ctx, makeTx("tx-old", "stale-user", 10.00, base))
	require.NoError(t, err)
	_, err = store.UpdateAndSnapshot(ctx, makeTx("tx-new", "active-user", 10.00, base.Add(29*24*time.Hour)))
	require.NoError(t, err)

	evicted := store.evictIdle(base.Add(30*24*time.Hour + time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, store.ProfileCount())

	// The evicted user's next transaction starts a fresh profile.
	snap, err := store.UpdateAndSnapshot(ctx, makeTx("tx-fresh", "stale-user", 25.00, base.Add(31*24*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Count)
	assert.Equal(t, 25.00, snap.Mean)
}

func TestMemoryCap_EvictsLeastRecentlyUpdated(t *testing.T) {
	cfg := testConfig()
	cfg.MemoryCap = 4
	cfg.Shards = 1
	store := newTestStore(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := store.UpdateAndSnapshot(ctx,
			makeTx(fmt.Sprintf("tx-%d", i), fmt.Sprintf("user-%d", i), 10.00, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	require.Equal(t, 4, store.ProfileCount())

	// user-0 is the coldest entry and must be the victim.
	_, err := store.UpdateAndSnapshot(ctx, makeTx("tx-4", "user-4", 10.00, base.Add(5*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 4, store.ProfileCount())

	snap, err := store.UpdateAndSnapshot(ctx, makeTx("tx-5", "user-0", 77.00, base.Add(6*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Count)
	assert.Equal(t, 77.00, snap.Mean)
}

func TestVelocityWindow_PrunesByEventTime(t *testing.T) {
	store := newTestStore(t, testConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	times := []time.Duration{0, 10 * time.Minute, 50 * time.Minute, 70 * time.Minute}
	var snap *domain.UserProfileSnapshot
	for i, offset := range times {
		var err error
		snap, err = store.UpdateAndSnapshot(ctx,
			makeTx(fmt.Sprintf("tx-%d", i), "user-1", 10.00, base.Add(offset)))
		require.NoError(t, err)
	}

	// At t=70m the cutoff is t=10m. The boundary entry is pruned,
	// leaving t=50m and t=70m.
	assert.Equal(t, 2, snap.VelocityCount)
	assert.Equal(t, int64(4), snap.Count)
}

func TestUpdateAndSnapshot_DistanceFromLastLocation(t *testing.T) {
	store := newTestStore(t, testConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	nyc := makeTx("tx-1", "user-1", 10.00, base)
	first, err := store.UpdateAndSnapshot(ctx, nyc)
	require.NoError(t, err)
	assert.False(t, first.HasPriorLocation)
	assert.Zero(t, first.DistanceFromLastKm)

	london := makeTx("tx-2", "user-1", 10.00, base.Add(time.Hour))
	london.Location = domain.Location{Lat: 51.5074, Lon: -0.1278}
	second, err := store.UpdateAndSnapshot(ctx, london)
	require.NoError(t, err)
	assert.True(t, second.HasPriorLocation)
	// Great-circle NYC to London is roughly 5570 km.
	assert.InDelta(t, 5570, second.DistanceFromLastKm, 20)
}

func TestUpdateAndSnapshot_ConcurrentDistinctUsers(t *testing.T) {
	store := newTestStore(t, testConfig())
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	const users = 16
	const perUser = 50

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", u)
			for i := 0; i < perUser; i++ {
				_, err := store.UpdateAndSnapshot(context.Background(),
					makeTx(fmt.Sprintf("tx-%d-%d", u, i), userID, float64(i+1), base.Add(time.Duration(i)*time.Second)))
				assert.NoError(t, err)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, users, store.ProfileCount())

	// Every user saw the same amounts, so every profile agrees.
	for u := 0; u < users; u++ {
		snap, err := store.UpdateAndSnapshot(context.Background(),
			makeTx(fmt.Sprintf("tx-%d-final", u), fmt.Sprintf("user-%d", u), 25.5, base.Add(time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, int64(perUser+1), snap.Count)
	}
}

func TestMemoryIdempotency_FirstSeenOncePerID(t *testing.T) {
	idem := NewMemoryIdempotency(time.Hour)
	ctx := context.Background()

	first, err := idem.FirstSeen(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := idem.FirstSeen(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := idem.FirstSeen(ctx, "tx-2")
	require.NoError(t, err)
	assert.True(t, other)
}
