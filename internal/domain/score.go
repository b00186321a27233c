package domain

import "time"

// ScoreResult is the normalized output of the scoring adapter for one
// transaction. AnomalyScore is unbounded with higher meaning more
// anomalous regardless of model family; FraudProbability is in [0,1].
type ScoreResult struct {
	TransactionID    string    `json:"transaction_id"`
	UserID           string    `json:"user_id"`
	AnomalyScore     float64   `json:"anomaly_score"`
	FraudProbability float64   `json:"fraud_probability"`
	ModelVersion     string    `json:"model_version"`
	ScoredAt         time.Time `json:"scored_at"`
}
