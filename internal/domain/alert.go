package domain

import (
	"time"

	"github.com/google/uuid"
)

// RiskTier buckets an alert by fraud probability.
type RiskTier string

const (
	RiskTierHigh   RiskTier = "HIGH"
	RiskTierMedium RiskTier = "MEDIUM"
)

// AlertStatus represents the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "OPEN"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusClosed       AlertStatus = "CLOSED"
)

// statusRank orders statuses along the lifecycle. Transitions may only
// move forward; CLOSED is terminal.
var statusRank = map[AlertStatus]int{
	AlertStatusOpen:         0,
	AlertStatusAcknowledged: 1,
	AlertStatusClosed:       2,
}

// ValidStatus reports whether s is a known alert status.
func ValidStatus(s AlertStatus) bool {
	_, ok := statusRank[s]
	return ok
}

// ValidateTransition checks an alert status transition. It is a pure
// function so the state machine can be tested independent of storage.
func ValidateTransition(from, to AlertStatus) error {
	fromRank, ok := statusRank[from]
	if !ok {
		return &InvalidTransitionError{From: from, To: to}
	}
	toRank, ok := statusRank[to]
	if !ok {
		return &InvalidTransitionError{From: from, To: to}
	}
	// Same-state updates and regressions are both rejected; alerts are
	// never reopened, only closed.
	if toRank <= fromRank {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Alert is a fraud alert raised for a single transaction. At most one
// alert exists per transaction id. Alerts are never deleted.
type Alert struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	TransactionID string      `json:"transaction_id" db:"transaction_id"`
	UserID        string      `json:"user_id" db:"user_id"`
	RiskTier      RiskTier    `json:"risk_tier" db:"risk_tier"`
	Status        AlertStatus `json:"status" db:"status"`

	// Scoring context captured at creation time.
	AnomalyScore     float64 `json:"anomaly_score" db:"anomaly_score"`
	FraudProbability float64 `json:"fraud_probability" db:"fraud_probability"`

	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsOpen returns true while the alert awaits operator action.
func (a *Alert) IsOpen() bool {
	return a.Status == AlertStatusOpen
}

// IsClosed returns true once the alert has reached its terminal state.
func (a *Alert) IsClosed() bool {
	return a.Status == AlertStatusClosed
}

// Transition applies a validated status change and appends operator
// notes. The caller persists the result.
func (a *Alert) Transition(to AlertStatus, notes string) error {
	if err := ValidateTransition(a.Status, to); err != nil {
		return err
	}
	a.Status = to
	if notes != "" {
		if a.Notes != "" {
			a.Notes += "\n"
		}
		a.Notes += notes
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// StatusUpdateRequest is an operator request to move an alert through
// its lifecycle.
type StatusUpdateRequest struct {
	Status AlertStatus `json:"status"`
	Notes  string      `json:"notes,omitempty"`
}
