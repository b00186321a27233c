// Package scoring invokes the trained anomaly model and normalizes its
// output for the alerting policy.
package scoring

import (
	"fmt"
	"math"
)

// ModelFamily identifies how a model's raw score must be interpreted.
type ModelFamily string

const (
	// FamilyIsolationForest produces decision-function scores where
	// negative means anomalous (sklearn convention).
	FamilyIsolationForest ModelFamily = "isolation_forest"

	// FamilyGradientBoosted produces log-odds where higher means more
	// likely fraudulent.
	FamilyGradientBoosted ModelFamily = "gradient_boosted"
)

// Model is the externally supplied scoring capability. Implementations
// are resolved from the artifact at configuration load time, never by
// inspecting an opaque object at call sites.
type Model interface {
	// Predict returns the raw anomaly score in the model family's
	// native convention.
	Predict(values []float64) (float64, error)

	// PredictProba returns a fraud probability in [0,1].
	PredictProba(values []float64) (float64, error)

	// Family reports the score convention for normalization.
	Family() ModelFamily

	// Version identifies the loaded artifact.
	Version() string
}

// linearModel scores a standardized feature vector with a linear
// decision function. Both supported families reduce to this form once
// their trees are distilled into the artifact.
type linearModel struct {
	artifact *Artifact
}

func (m *linearModel) Family() ModelFamily { return m.artifact.Family }
func (m *linearModel) Version() string     { return m.artifact.ModelVersion }

func (m *linearModel) decision(values []float64) (float64, error) {
	if len(values) != len(m.artifact.Weights) {
		return 0, fmt.Errorf("feature vector length %d does not match model weights %d",
			len(values), len(m.artifact.Weights))
	}

	score := m.artifact.Intercept
	for i, v := range values {
		stddev := m.artifact.FeatureStdDevs[i]
		if stddev == 0 {
			stddev = 1
		}
		score += m.artifact.Weights[i] * (v - m.artifact.FeatureMeans[i]) / stddev
	}
	return score, nil
}

// Predict implements Model.
func (m *linearModel) Predict(values []float64) (float64, error) {
	return m.decision(values)
}

// PredictProba implements Model. The probability is a logistic
// transform of the decision score, oriented so higher probability
// always means more likely fraud regardless of family.
func (m *linearModel) PredictProba(values []float64) (float64, error) {
	raw, err := m.decision(values)
	if err != nil {
		return 0, err
	}

	anomaly := raw
	if m.artifact.Family == FamilyIsolationForest {
		anomaly = -raw
	}
	return sigmoid(m.artifact.ProbabilityScale * anomaly), nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
