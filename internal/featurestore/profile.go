package featurestore

import (
	"container/list"
	"math"
	"time"

	"github.com/banking/fraud-detection/internal/domain"
)

// profile holds one user's rolling aggregates. Access is serialized by
// the owning shard; nothing in here locks.
type profile struct {
	userID string

	// Welford running statistics over transaction amounts.
	count int64
	mean  float64
	m2    float64

	lastTxTime  time.Time
	lastLoc     domain.Location
	hasLocation bool

	// Time-ordered transaction timestamps inside the velocity window.
	// Older entries are pruned lazily on each update.
	velocity []time.Time

	lruElem *list.Element
}

func newProfile(userID string) *profile {
	return &profile{userID: userID}
}

// apply incorporates one transaction and returns the haversine distance
// from the previous transaction's location (0 for a cold user).
func (p *profile) apply(tx *domain.Transaction, velocityWindow time.Duration) float64 {
	distance := 0.0
	if p.hasLocation {
		distance = haversineKm(p.lastLoc, tx.Location)
	}

	// Welford's online update, numerically stable for long-lived users.
	p.count++
	delta := tx.Amount - p.mean
	p.mean += delta / float64(p.count)
	p.m2 += delta * (tx.Amount - p.mean)

	p.pruneVelocity(tx.Timestamp, velocityWindow)
	p.velocity = append(p.velocity, tx.Timestamp)

	p.lastTxTime = tx.Timestamp
	p.lastLoc = tx.Location
	p.hasLocation = true

	return distance
}

// variance returns the sample variance, 0 below two observations.
func (p *profile) variance() float64 {
	if p.count < 2 {
		return 0
	}
	return p.m2 / float64(p.count-1)
}

func (p *profile) pruneVelocity(ref time.Time, window time.Duration) {
	cutoff := ref.Add(-window)
	i := 0
	for i < len(p.velocity) && !p.velocity[i].After(cutoff) {
		i++
	}
	if i > 0 {
		p.velocity = p.velocity[i:]
	}
}

// snapshot builds an immutable view of post-update state.
func (p *profile) snapshot(distanceKm float64, duplicate bool) *domain.UserProfileSnapshot {
	variance := p.variance()
	return &domain.UserProfileSnapshot{
		UserID:             p.userID,
		Count:              p.count,
		Mean:               p.mean,
		Variance:           variance,
		StdDev:             math.Sqrt(variance),
		LastTxTime:         p.lastTxTime,
		LastLocation:       p.lastLoc,
		HasPriorLocation:   p.hasLocation,
		VelocityCount:      len(p.velocity),
		DistanceFromLastKm: distanceKm,
		Duplicate:          duplicate,
	}
}

const earthRadiusKm = 6371.0

// haversineKm computes the great-circle distance between two points.
func haversineKm(a, b domain.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
