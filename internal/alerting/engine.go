// Package alerting applies the threshold policy to score results and
// drives the alert lifecycle.
package alerting

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
	"github.com/banking/fraud-detection/internal/pkg/metrics"
)

// AlertStore persists alerts. Create must be idempotent on transaction
// id: at most one alert ever exists per transaction.
type AlertStore interface {
	// Create stores the alert unless one already exists for its
	// transaction id, in which case the existing alert is returned
	// with created=false.
	Create(ctx context.Context, alert *domain.Alert) (stored *domain.Alert, created bool, err error)

	// GetByTransactionID returns domain.ErrAlertNotFound when absent.
	GetByTransactionID(ctx context.Context, txID string) (*domain.Alert, error)

	// Update persists a status/notes change.
	Update(ctx context.Context, alert *domain.Alert) error
}

// Notifier receives alerts that open at tier HIGH. Delivery (email,
// chat, pager) happens outside the core.
type Notifier interface {
	NotifyHighRisk(ctx context.Context, alert *domain.Alert) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// NotifyHighRisk implements Notifier.
func (NopNotifier) NotifyHighRisk(context.Context, *domain.Alert) error { return nil }

// Engine evaluates score results against the threshold policy and
// exposes the operator-facing status transitions.
type Engine struct {
	store    AlertStore
	notifier Notifier
	policy   atomic.Pointer[Policy]
	log      *logger.Logger
}

// NewEngine creates an alert engine with the given policy.
func NewEngine(policy *Policy, store AlertStore, notifier Notifier, log *logger.Logger) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		log:      log.Named("alert_engine"),
	}
	e.policy.Store(policy)
	return e
}

// UpdateThresholds atomically swaps the threshold policy. Used by the
// config hot-reload hook; in-flight evaluations finish on the old
// table.
func (e *Engine) UpdateThresholds(thresholds []config.TierThreshold) error {
	policy, err := NewPolicy(thresholds)
	if err != nil {
		return err
	}
	e.policy.Swap(policy)
	e.log.Info("alert thresholds updated", logger.IntField("tiers", len(thresholds)))
	return nil
}

// Evaluate applies the threshold policy to a score result. Below the
// lowest threshold no alert is created and the result is only recorded
// for monitoring. Returns the alert if one exists after evaluation.
func (e *Engine) Evaluate(ctx context.Context, result *domain.ScoreResult) (*domain.Alert, error) {
	tier, alertable := e.policy.Load().TierFor(result.FraudProbability)
	if !alertable {
		return nil, nil
	}

	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:               uuid.New(),
		TransactionID:    result.TransactionID,
		UserID:           result.UserID,
		RiskTier:         tier,
		Status:           domain.AlertStatusOpen,
		AnomalyScore:     result.AnomalyScore,
		FraudProbability: result.FraudProbability,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	stored, created, err := e.store.Create(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("store alert for transaction %s: %w", result.TransactionID, err)
	}
	if !created {
		// Redelivered transaction; the original alert stands.
		return stored, nil
	}

	metrics.FraudAlertsTotal.WithLabelValues(string(tier)).Inc()
	e.log.AlertCreated(stored.ID.String(), stored.TransactionID, stored.UserID,
		string(tier), result.FraudProbability)

	if tier == domain.RiskTierHigh {
		if err := e.notifier.NotifyHighRisk(ctx, stored); err != nil {
			// Notification delivery is best-effort; the alert itself
			// is already persisted.
			e.log.Warn("high-risk notification failed", logger.ErrorField(err))
		}
	}

	return stored, nil
}

// ApplyStatusUpdate performs an operator-driven lifecycle transition.
// Returns domain.ErrAlertNotFound for unknown transactions and
// *domain.InvalidTransitionError for regressions; in both cases no
// state changes.
func (e *Engine) ApplyStatusUpdate(ctx context.Context, txID string, status domain.AlertStatus, notes string) (*domain.Alert, error) {
	alert, err := e.store.GetByTransactionID(ctx, txID)
	if err != nil {
		return nil, err
	}

	from := alert.Status
	if err := alert.Transition(status, notes); err != nil {
		return nil, err
	}

	if err := e.store.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert for transaction %s: %w", txID, err)
	}

	e.log.AlertStatusChanged(txID, string(from), string(status))
	return alert, nil
}

// Get returns the alert for a transaction id.
func (e *Engine) Get(ctx context.Context, txID string) (*domain.Alert, error) {
	return e.store.GetByTransactionID(ctx, txID)
}
