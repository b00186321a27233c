package alerting

import (
	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/domain"
)

// Policy maps fraud probabilities to risk tiers. Thresholds are
// validated strictly decreasing at load, so the first match wins and
// boundary values land in the higher tier (0.8 is HIGH, not MEDIUM).
type Policy struct {
	thresholds []config.TierThreshold
}

// NewPolicy builds a tier policy from a validated threshold table.
func NewPolicy(thresholds []config.TierThreshold) (*Policy, error) {
	if err := config.ValidateThresholds(thresholds); err != nil {
		return nil, err
	}
	table := make([]config.TierThreshold, len(thresholds))
	copy(table, thresholds)
	return &Policy{thresholds: table}, nil
}

// TierFor returns the risk tier for a fraud probability, or false when
// the probability falls below every threshold and no alert is due.
func (p *Policy) TierFor(fraudProbability float64) (domain.RiskTier, bool) {
	for _, t := range p.thresholds {
		if fraudProbability >= t.Threshold {
			return t.Tier, true
		}
	}
	return "", false
}
