// Package metrics provides Prometheus instrumentation for the fraud
// detection pipeline. Metric names are contractual: the operational
// alerting rules reference them directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FraudAlertsTotal counts created fraud alerts by risk tier.
	FraudAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_alerts_total",
			Help: "Total fraud alerts created, by risk tier.",
		},
		[]string{"risk_tier"},
	)

	// ModelPredictionLatency observes end-to-end model invocation time.
	ModelPredictionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_prediction_latency_seconds",
			Help:    "Model prediction latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
	)

	// FeatureDriftScore tracks the rolling drift of feature
	// distributions against the model's reference statistics.
	FeatureDriftScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feature_drift_score",
			Help: "Aggregate drift of incoming features vs. training reference.",
		},
	)

	// TransactionsProcessedTotal counts pipeline outcomes.
	TransactionsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_transactions_processed_total",
			Help: "Total transactions processed by the pipeline, by result.",
		},
		[]string{"result"}, // "scored", "duplicate", "dead_letter"
	)

	// DeadLetterTotal counts dead-lettered transactions by reason.
	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_dead_letter_total",
			Help: "Total transactions routed to the dead-letter topic, by reason.",
		},
		[]string{"reason"}, // "corrupt", "scoring_failure", "store_failure"
	)

	// ScoringFailuresTotal counts transient scoring failures, including
	// those that later succeed on retry.
	ScoringFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fraud_scoring_failures_total",
			Help: "Total transient model scoring failures.",
		},
	)

	// TrackedProfiles tracks the number of user profiles held in memory.
	TrackedProfiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fraud_tracked_profiles",
			Help: "User profiles currently resident in the feature store.",
		},
	)

	// ProfileEvictionsTotal counts profile evictions by cause.
	ProfileEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_profile_evictions_total",
			Help: "Total user profile evictions, by cause.",
		},
		[]string{"cause"}, // "idle", "memory_cap"
	)
)

func init() {
	prometheus.MustRegister(
		FraudAlertsTotal,
		ModelPredictionLatency,
		FeatureDriftScore,
		TransactionsProcessedTotal,
		DeadLetterTotal,
		ScoringFailuresTotal,
		TrackedProfiles,
		ProfileEvictionsTotal,
	)
}
