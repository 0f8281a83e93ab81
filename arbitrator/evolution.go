package arbitrator

import (
	"fmt"
	"strings"

	"github.com/skyops-ai/irops/core"
)

// computeEvolution classifies how each agent's position moved between the
// two phases. A changed recommendation with confidence holding or rising
// counts as convergence toward a firmer position; a changed recommendation
// with falling confidence as divergence.
func computeEvolution(c1, c2 *core.Collation, addedConstraints, removedConstraints []string) *core.RecommendationEvolution {
	if c1 == nil || c2 == nil {
		return nil
	}

	evolution := &core.RecommendationEvolution{
		AgentChanges:       make(map[string]core.AgentEvolution),
		NewConstraints:     addedConstraints,
		RemovedConstraints: removedConstraints,
	}

	for _, name := range core.AllAgents() {
		r1, in1 := c1.Responses[name]
		r2, in2 := c2.Responses[name]
		if !in1 && !in2 {
			continue
		}

		change := core.AgentEvolution{AgentName: name}
		switch {
		case in1 && !in2:
			change.Change = core.EvolutionDroppedInPhase2
			change.Phase1Recommendation = r1.Recommendation
			change.Summary = "present in the initial round only"
		case !in1 && in2:
			change.Change = core.EvolutionNewInPhase2
			change.Phase2Recommendation = r2.Recommendation
			change.Summary = "first appeared in the revision round"
		default:
			change.Phase1Recommendation = r1.Recommendation
			change.Phase2Recommendation = r2.Recommendation
			if sameRecommendation(r1.Recommendation, r2.Recommendation) {
				change.Change = core.EvolutionUnchanged
				evolution.UnchangedCount++
			} else if r2.Confidence >= r1.Confidence {
				change.Change = core.EvolutionConverged
				change.Summary = fmt.Sprintf("revised position with confidence %.2f -> %.2f", r1.Confidence, r2.Confidence)
				evolution.ChangedCount++
				evolution.ConvergenceDetected = true
			} else {
				change.Change = core.EvolutionDiverged
				change.Summary = fmt.Sprintf("revised position with confidence falling %.2f -> %.2f", r1.Confidence, r2.Confidence)
				evolution.ChangedCount++
				evolution.DivergenceDetected = true
			}
		}
		evolution.AgentChanges[name] = change
	}
	return evolution
}

func sameRecommendation(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
