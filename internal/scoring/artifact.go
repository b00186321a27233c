package scoring

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/banking/fraud-detection/internal/domain"
)

// Artifact is the versioned, serialized form of a trained model.
// Swapping the file at the configured path changes the model without a
// code change; training itself happens elsewhere.
type Artifact struct {
	ModelVersion  string      `json:"model_version"`
	Family        ModelFamily `json:"family"`
	SchemaVersion string      `json:"schema_version"`
	FeatureNames  []string    `json:"feature_names"`

	// Reference statistics from the training set. Used both for
	// feature standardization and as the drift baseline.
	FeatureMeans   []float64 `json:"feature_means"`
	FeatureStdDevs []float64 `json:"feature_stddevs"`

	Weights          []float64 `json:"weights"`
	Intercept        float64   `json:"intercept"`
	ProbabilityScale float64   `json:"probability_scale"`
}

// LoadArtifact reads and validates a model artifact. Any mismatch with
// the extractor's feature schema is a ConfigurationError: the service
// must not start with a model that disagrees about vector shape.
func LoadArtifact(path string, featureNames []string, schemaVersion string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact %s: %w", path, err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse model artifact %s: %w", path, err)
	}

	if err := a.validate(featureNames, schemaVersion); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *Artifact) validate(featureNames []string, schemaVersion string) error {
	switch a.Family {
	case FamilyIsolationForest, FamilyGradientBoosted:
	default:
		return domain.NewConfigurationError("model artifact %s: unknown family %q", a.ModelVersion, a.Family)
	}

	if a.SchemaVersion != schemaVersion {
		return domain.NewConfigurationError(
			"model artifact %s built for feature schema %s, extractor produces %s",
			a.ModelVersion, a.SchemaVersion, schemaVersion)
	}

	if len(a.FeatureNames) != len(featureNames) {
		return domain.NewConfigurationError(
			"model artifact %s expects %d features, extractor produces %d",
			a.ModelVersion, len(a.FeatureNames), len(featureNames))
	}
	for i, name := range featureNames {
		if a.FeatureNames[i] != name {
			return domain.NewConfigurationError(
				"model artifact %s: feature %d is %q, extractor produces %q",
				a.ModelVersion, i, a.FeatureNames[i], name)
		}
	}

	n := len(a.FeatureNames)
	if len(a.Weights) != n || len(a.FeatureMeans) != n || len(a.FeatureStdDevs) != n {
		return domain.NewConfigurationError(
			"model artifact %s: weights/means/stddevs length must equal feature count %d",
			a.ModelVersion, n)
	}

	if a.ProbabilityScale <= 0 {
		return domain.NewConfigurationError("model artifact %s: probability_scale must be positive", a.ModelVersion)
	}
	return nil
}

// NewModel builds the scoring capability for the artifact's family.
func NewModel(a *Artifact) Model {
	return &linearModel{artifact: a}
}
