package features

import "github.com/banking/fraud-detection/internal/domain"

// riskZone is a bounding box with a static risk score. Coarse boxes
// are intentional: the table flags regions, the model decides.
type riskZone struct {
	name   string
	minLat float64
	maxLat float64
	minLon float64
	maxLon float64
	score  float64
}

func (z *riskZone) contains(loc domain.Location) bool {
	return loc.Lat >= z.minLat && loc.Lat <= z.maxLat &&
		loc.Lon >= z.minLon && loc.Lon <= z.maxLon
}

// StaticRiskTable resolves location risk from a fixed set of zones.
// Overlapping zones resolve to the highest score.
type StaticRiskTable struct {
	zones []riskZone
}

// RiskScore implements LocationRiskTable.
func (t *StaticRiskTable) RiskScore(loc domain.Location) float64 {
	score := 0.0
	for i := range t.zones {
		if t.zones[i].contains(loc) && t.zones[i].score > score {
			score = t.zones[i].score
		}
	}
	return score
}

// DefaultRiskTable returns the built-in zone table, sourced from the
// fraud operations team's chargeback concentration review.
func DefaultRiskTable() *StaticRiskTable {
	return &StaticRiskTable{
		zones: []riskZone{
			{name: "west-africa", minLat: 4, maxLat: 15, minLon: -18, maxLon: 4, score: 0.85},
			{name: "eastern-europe", minLat: 44, maxLat: 53, minLon: 22, maxLon: 40, score: 0.6},
			{name: "southeast-asia", minLat: -11, maxLat: 21, minLon: 95, maxLon: 127, score: 0.5},
			{name: "south-america-north", minLat: -5, maxLat: 13, minLon: -82, maxLon: -60, score: 0.45},
		},
	}
}
