package scoring

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
	"github.com/banking/fraud-detection/internal/pkg/metrics"
)

// Adapter wraps the model capability with a latency budget, a circuit
// breaker, and score-convention normalization so downstream code always
// sees "higher = more anomalous".
type Adapter struct {
	model   Model
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	log     *logger.Logger
}

// NewAdapter creates a scoring adapter around the loaded model.
func NewAdapter(model Model, cfg *config.ScoringConfig, log *logger.Logger) *Adapter {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "model-scoring",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
	})

	return &Adapter{
		model:   model,
		breaker: breaker,
		timeout: cfg.Timeout,
		log:     log.Named("scoring_adapter"),
	}
}

// ModelVersion reports the loaded artifact version.
func (a *Adapter) ModelVersion() string {
	return a.model.Version()
}

type rawScore struct {
	anomaly float64
	proba   float64
}

// Score invokes the model under the configured timeout. Timeouts,
// breaker rejections, and model errors all surface as
// TransientScoringFailure; the coordinator owns the retry/dead-letter
// decision.
func (a *Adapter) Score(ctx context.Context, fv *domain.FeatureVector) (*domain.ScoreResult, error) {
	start := time.Now()

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.invoke(ctx, fv.Values)
	})

	elapsed := time.Since(start)
	metrics.ModelPredictionLatency.Observe(elapsed.Seconds())
	if elapsed > a.timeout {
		a.log.LatencyWarning("model_prediction", elapsed.Milliseconds(), a.timeout.Milliseconds())
	}

	if err != nil {
		metrics.ScoringFailuresTotal.Inc()
		return nil, &domain.TransientScoringFailure{TransactionID: fv.TransactionID, Cause: err}
	}

	raw := out.(rawScore)
	return &domain.ScoreResult{
		TransactionID:    fv.TransactionID,
		UserID:           fv.UserID,
		AnomalyScore:     raw.anomaly,
		FraudProbability: raw.proba,
		ModelVersion:     a.model.Version(),
		ScoredAt:         time.Now().UTC(),
	}, nil
}

// invoke runs both model calls off the caller's goroutine so a hung
// model cannot stall the pipeline past the latency budget.
func (a *Adapter) invoke(ctx context.Context, values []float64) (rawScore, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		score rawScore
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		o.score.anomaly, o.err = a.model.Predict(values)
		if o.err == nil {
			o.score.proba, o.err = a.model.PredictProba(values)
		}
		done <- o
	}()

	select {
	case <-ctx.Done():
		return rawScore{}, ctx.Err()
	case o := <-done:
		if o.err != nil {
			return rawScore{}, o.err
		}
		o.score.anomaly = normalizeAnomaly(a.model.Family(), o.score.anomaly)
		return o.score, nil
	}
}

// normalizeAnomaly flips family-specific score conventions so that
// higher always means more anomalous.
func normalizeAnomaly(family ModelFamily, raw float64) float64 {
	if family == FamilyIsolationForest {
		return -raw
	}
	return raw
}
