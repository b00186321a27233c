package domain

import "time"

// FeatureSchemaVersion identifies the shape of FeatureVector. A model
// artifact trained against a different version cannot be loaded.
const FeatureSchemaVersion = "v1"

// FeatureNames lists the vector components in order. The order is part
// of the schema: models consume positional vectors.
var FeatureNames = []string{
	"amount",
	"amount_deviation",
	"hour_of_day",
	"day_of_week",
	"tx_velocity_1h",
	"distance_from_last_km",
	"location_risk",
}

// UserProfileSnapshot is an immutable view of a user's rolling
// aggregates taken after a transaction has been applied. The
// transaction's own amount and timestamp are already reflected.
type UserProfileSnapshot struct {
	UserID           string
	Count            int64
	Mean             float64
	Variance         float64
	StdDev           float64
	LastTxTime       time.Time
	LastLocation     Location
	HasPriorLocation bool

	// VelocityCount is the number of transactions by this user inside
	// the trailing velocity window, including this one.
	VelocityCount int

	// DistanceFromLastKm is the haversine distance between this
	// transaction and the user's previous one. Zero for a cold user.
	DistanceFromLastKm float64

	// Duplicate is set when the transaction had already been applied
	// (at-least-once redelivery); the aggregates were not re-counted.
	Duplicate bool
}

// FeatureVector is the fixed-shape model input derived from one
// transaction. Consumed once by the scoring adapter; never persisted.
type FeatureVector struct {
	TransactionID string
	UserID        string
	SchemaVersion string
	Values        []float64
}
