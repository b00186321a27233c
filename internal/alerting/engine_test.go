package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
)

type recordingNotifier struct {
	alerts []*domain.Alert
}

func (n *recordingNotifier) NotifyHighRisk(_ context.Context, alert *domain.Alert) error {
	n.alerts = append(n.alerts, alert)
	return nil
}

func defaultThresholds() []config.TierThreshold {
	return []config.TierThreshold{
		{Threshold: 0.8, Tier: domain.RiskTierHigh},
		{Threshold: 0.6, Tier: domain.RiskTierMedium},
	}
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *recordingNotifier) {
	t.Helper()
	policy, err := NewPolicy(defaultThresholds())
	require.NoError(t, err)
	store := NewMemoryStore()
	notifier := &recordingNotifier{}
	return NewEngine(policy, store, notifier, logger.NewNop()), store, notifier
}

func scoreResult(txID string, probability float64) *domain.ScoreResult {
	return &domain.ScoreResult{
		TransactionID:    txID,
		UserID:           "user-1",
		AnomalyScore:     0.5,
		FraudProbability: probability,
		ModelVersion:     "test-v1",
		ScoredAt:         time.Now().UTC(),
	}
}

func TestEvaluate_HighProbabilityOpensHighAlert(t *testing.T) {
	engine, _, notifier := newTestEngine(t)

	alert, err := engine.Evaluate(context.Background(), scoreResult("tx-1", 0.85))
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, domain.RiskTierHigh, alert.RiskTier)
	assert.Equal(t, domain.AlertStatusOpen, alert.Status)
	assert.Equal(t, 0.85, alert.FraudProbability)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, alert.TransactionID, notifier.alerts[0].TransactionID)
}

func TestEvaluate_MediumProbabilityDoesNotNotify(t *testing.T) {
	engine, _, notifier := newTestEngine(t)

	alert, err := engine.Evaluate(context.Background(), scoreResult("tx-1", 0.65))
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, domain.RiskTierMedium, alert.RiskTier)
	assert.Empty(t, notifier.alerts)
}

func TestEvaluate_BelowLowestThresholdCreatesNoAlert(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	alert, err := engine.Evaluate(context.Background(), scoreResult("tx-1", 0.3))
	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.Zero(t, store.Len())
}

func TestEvaluate_BoundaryScoreGetsHigherTier(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	alert, err := engine.Evaluate(context.Background(), scoreResult("tx-1", 0.8))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, domain.RiskTierHigh, alert.RiskTier)
}

func TestEvaluate_RedeliveryKeepsOriginalAlert(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Evaluate(ctx, scoreResult("tx-1", 0.9))
	require.NoError(t, err)

	second, err := engine.Evaluate(ctx, scoreResult("tx-1", 0.9))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.Len())
	assert.Len(t, notifier.alerts, 1, "redelivery must not re-notify")
}

func TestApplyStatusUpdate_Acknowledge(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Evaluate(ctx, scoreResult("tx-1", 0.9))
	require.NoError(t, err)

	alert, err := engine.ApplyStatusUpdate(ctx, "tx-1", domain.AlertStatusAcknowledged, "looking into it")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusAcknowledged, alert.Status)
	assert.Contains(t, alert.Notes, "looking into it")

	stored, err := engine.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusAcknowledged, stored.Status)
}

func TestApplyStatusUpdate_DirectClose(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Evaluate(ctx, scoreResult("tx-1", 0.9))
	require.NoError(t, err)

	alert, err := engine.ApplyStatusUpdate(ctx, "tx-1", domain.AlertStatusClosed, "false positive")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusClosed, alert.Status)
}

func TestApplyStatusUpdate_RejectsRegression(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Evaluate(ctx, scoreResult("tx-1", 0.9))
	require.NoError(t, err)
	_, err = engine.ApplyStatusUpdate(ctx, "tx-1", domain.AlertStatusClosed, "")
	require.NoError(t, err)

	_, err = engine.ApplyStatusUpdate(ctx, "tx-1", domain.AlertStatusOpen, "")
	require.Error(t, err)
	var invalid *domain.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)

	// The failed transition must not have touched stored state.
	stored, err := engine.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusClosed, stored.Status)
}

func TestApplyStatusUpdate_UnknownTransaction(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.ApplyStatusUpdate(context.Background(), "missing", domain.AlertStatusClosed, "")
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
}

func TestUpdateThresholds_SwapsPolicy(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	err := engine.UpdateThresholds([]config.TierThreshold{
		{Threshold: 0.95, Tier: domain.RiskTierHigh},
		{Threshold: 0.9, Tier: domain.RiskTierMedium},
	})
	require.NoError(t, err)

	alert, err := engine.Evaluate(ctx, scoreResult("tx-1", 0.85))
	require.NoError(t, err)
	assert.Nil(t, alert, "0.85 falls below the reloaded thresholds")
}

func TestUpdateThresholds_RejectsInvalidTableAndKeepsOld(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	err := engine.UpdateThresholds([]config.TierThreshold{
		{Threshold: 0.6, Tier: domain.RiskTierMedium},
		{Threshold: 0.8, Tier: domain.RiskTierHigh}, // not decreasing
	})
	require.Error(t, err)

	alert, err := engine.Evaluate(ctx, scoreResult("tx-1", 0.85))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, domain.RiskTierHigh, alert.RiskTier)
}

func TestPolicy_TierForBoundaries(t *testing.T) {
	policy, err := NewPolicy(defaultThresholds())
	require.NoError(t, err)

	tier, ok := policy.TierFor(0.81)
	assert.True(t, ok)
	assert.Equal(t, domain.RiskTierHigh, tier)

	tier, ok = policy.TierFor(0.6)
	assert.True(t, ok)
	assert.Equal(t, domain.RiskTierMedium, tier)

	_, ok = policy.TierFor(0.59)
	assert.False(t, ok)
}
