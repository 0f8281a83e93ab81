package arbitrator

import "github.com/skyops-ai/irops/core"

// Impact is the model's estimate of a candidate solution's operational
// footprint. Scores are derived from it deterministically so identical
// estimates always produce identical rankings.
type Impact struct {
	EstimatedCostUSD     float64  `json:"estimated_cost_usd"`
	PassengersAffected   int      `json:"passengers_affected"`
	DelayHours           float64  `json:"delay_hours"`
	CancellationRequired bool     `json:"cancellation_required"`
	DownstreamFlights    int      `json:"downstream_flights_affected"`
	MissedConnections    int      `json:"missed_connections"`
	SafetyMargin         float64  `json:"safety_margin"`
	ConstraintViolations []string `json:"constraint_violations,omitempty"`
}

// SafetyScore is 0 on any binding-constraint violation, otherwise a linear
// function of the margin above the minimum required safety level.
func SafetyScore(impact Impact) float64 {
	if len(impact.ConstraintViolations) > 0 {
		return 0
	}
	margin := impact.SafetyMargin
	if margin < 0 {
		margin = 0
	} else if margin > 1 {
		margin = 1
	}
	return 60 + 40*margin
}

// CostScore tiers the incremental cost estimate; higher is cheaper.
func CostScore(impact Impact) float64 {
	cost := impact.EstimatedCostUSD
	switch {
	case cost < 10_000:
		return 95
	case cost < 50_000:
		return 80
	case cost < 150_000:
		return 60
	case cost < 300_000:
		return 40
	default:
		return 20
	}
}

// PassengerScore tiers the affected passenger count, penalized by delay
// hours and by a cancellation.
func PassengerScore(impact Impact) float64 {
	var base float64
	switch {
	case impact.PassengersAffected == 0:
		base = 100
	case impact.PassengersAffected < 50:
		base = 90
	case impact.PassengersAffected < 150:
		base = 75
	case impact.PassengersAffected < 300:
		base = 55
	default:
		base = 35
	}
	base -= 2 * impact.DelayHours
	if impact.CancellationRequired {
		base -= 15
	}
	return clampScore(base)
}

// NetworkScore tiers the downstream flight count, penalized by missed
// connections.
func NetworkScore(impact Impact) float64 {
	var base float64
	switch {
	case impact.DownstreamFlights == 0:
		base = 100
	case impact.DownstreamFlights < 3:
		base = 85
	case impact.DownstreamFlights < 8:
		base = 65
	case impact.DownstreamFlights < 15:
		base = 45
	default:
		base = 25
	}
	base -= 2 * float64(impact.MissedConnections)
	return clampScore(base)
}

// applyScores fills the four dimension scores and the composite on a
// solution from its impact estimate.
func applyScores(s *core.RecoverySolution, impact Impact) {
	s.SafetyScore = SafetyScore(impact)
	s.CostScore = CostScore(impact)
	s.PassengerScore = PassengerScore(impact)
	s.NetworkScore = NetworkScore(impact)
	s.CompositeScore = core.Composite(s.SafetyScore, s.CostScore, s.PassengerScore, s.NetworkScore)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
