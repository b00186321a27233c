// Package features derives model inputs from transactions and feature
// store snapshots.
package features

import (
	"github.com/banking/fraud-detection/internal/domain"
)

// stddevEpsilon floors the standard deviation when computing amount
// deviation, so cold users with zero variance never divide by zero.
const stddevEpsilon = 1e-6

// LocationRiskTable resolves a static risk score for a coordinate. The
// table itself is maintained outside the core and injected here.
type LocationRiskTable interface {
	RiskScore(loc domain.Location) float64
}

// ZeroLocationRisk is the neutral table used when no external risk
// table is configured.
type ZeroLocationRisk struct{}

// RiskScore implements LocationRiskTable.
func (ZeroLocationRisk) RiskScore(domain.Location) float64 { return 0 }

// Extractor converts a transaction plus its post-update profile
// snapshot into a fixed-shape feature vector. Extract is pure:
// deterministic, no side effects.
type Extractor struct {
	riskTable       LocationRiskTable
	minObservations int64
}

// NewExtractor creates an extractor backed by the given risk table.
// minObservations is the profile size below which amount deviation is
// suppressed; a one-transaction profile has no meaningful baseline.
func NewExtractor(riskTable LocationRiskTable, minObservations int) *Extractor {
	if riskTable == nil {
		riskTable = ZeroLocationRisk{}
	}
	return &Extractor{
		riskTable:       riskTable,
		minObservations: int64(minObservations),
	}
}

// SchemaVersion returns the feature schema version this extractor
// produces. A loaded model artifact must declare the same version.
func (e *Extractor) SchemaVersion() string {
	return domain.FeatureSchemaVersion
}

// FeatureNames returns the ordered component names of the produced
// vectors.
func (e *Extractor) FeatureNames() []string {
	return domain.FeatureNames
}

// Extract builds the feature vector for one transaction. The snapshot
// must be the post-update state for this same transaction.
func (e *Extractor) Extract(tx *domain.Transaction, snap *domain.UserProfileSnapshot) *domain.FeatureVector {
	deviation := 0.0
	if snap.Count >= e.minObservations {
		stddev := snap.StdDev
		if stddev < stddevEpsilon {
			stddev = stddevEpsilon
		}
		deviation = (tx.Amount - snap.Mean) / stddev
	}

	return &domain.FeatureVector{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		SchemaVersion: domain.FeatureSchemaVersion,
		Values: []float64{
			tx.Amount,
			deviation,
			float64(tx.HourOfDay()),
			float64(tx.DayOfWeek()),
			float64(snap.VelocityCount),
			snap.DistanceFromLastKm,
			e.riskTable.RiskScore(tx.Location),
		},
	}
}
