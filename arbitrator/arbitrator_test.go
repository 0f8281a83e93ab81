package arbitrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/model"
	"github.com/skyops-ai/irops/retrieval"
)

func successResp(name string, phase core.Phase, rec string, confidence float64, constraints ...string) core.AnalyzerResponse {
	return core.AnalyzerResponse{
		AgentName:          name,
		Phase:              phase,
		Status:             core.StatusSuccess,
		Recommendation:     rec,
		Reasoning:          "because",
		Confidence:         confidence,
		BindingConstraints: constraints,
	}
}

func failedResp(name string, phase core.Phase, status core.AnalyzerStatus) core.AnalyzerResponse {
	return core.AnalyzerResponse{AgentName: name, Phase: phase, Status: status}
}

func collationOf(phase core.Phase, resps ...core.AnalyzerResponse) *core.Collation {
	c := &core.Collation{Phase: phase, Responses: make(map[string]core.AnalyzerResponse)}
	for _, r := range resps {
		c.Responses[r.AgentName] = r
	}
	return c
}

// fullCollation gives all seven agents a successful response.
func fullCollation(phase core.Phase) *core.Collation {
	c := &core.Collation{Phase: phase, Responses: make(map[string]core.AnalyzerResponse)}
	for _, name := range core.AllAgents() {
		c.Responses[name] = successResp(name, phase, "proceed with swap", 0.8)
	}
	return c
}

func validCandidate(title string, impact Impact) candidate {
	return candidate{
		Title:           title,
		Description:     "execute " + title,
		Recommendations: []string{"do " + title},
		Confidence:      0.8,
		Impact:          impact,
		Steps: []proposedStep{
			{StepName: "prepare", Description: "prepare", ResponsibleAgent: core.AgentNetwork, EstimatedDurationMinutes: 30, ActionType: "operational", SuccessCriteria: "ready"},
			{StepName: "execute", Description: "execute", ResponsibleAgent: core.AgentNetwork, Dependencies: []int{1}, EstimatedDurationMinutes: 60, ActionType: "operational", SuccessCriteria: "done"},
		},
	}
}

const threeCandidateAnswer = `{
  "candidate_solutions": [
    {
      "title": "aircraft swap",
      "description": "swap to the spare A321 and depart 90 minutes late",
      "recommendations": ["assign spare tail", "notify crew scheduling"],
      "confidence": 0.85,
      "estimated_duration": "3h",
      "impact": {"estimated_cost_usd": 20000, "passengers_affected": 100, "delay_hours": 0,
                 "cancellation_required": false, "downstream_flights_affected": 5,
                 "missed_connections": 0, "safety_margin": 1.0},
      "steps": [
        {"step_name": "assign spare", "description": "assign spare tail", "responsible_agent": "maintenance",
         "dependencies": [], "estimated_duration_minutes": 30, "automation_possible": false,
         "action_type": "operational", "success_criteria": "tail assigned", "rollback_procedure": "release tail"},
        {"step_name": "board and depart", "description": "reboard and depart", "responsible_agent": "network",
         "dependencies": [1], "estimated_duration_minutes": 60, "automation_possible": false,
         "action_type": "operational", "success_criteria": "airborne", "rollback_procedure": ""}
      ],
      "contingency_plans": ["cancel if spare unavailable"]
    },
    {
      "title": "delay in place",
      "description": "hold the original aircraft until repairs complete",
      "recommendations": ["hold departure"],
      "confidence": 0.7,
      "estimated_duration": "5h",
      "impact": {"estimated_cost_usd": 5000, "passengers_affected": 0, "delay_hours": 0,
                 "cancellation_required": false, "downstream_flights_affected": 0,
                 "missed_connections": 0, "safety_margin": 0.0},
      "steps": [
        {"step_name": "hold", "description": "hold flight", "responsible_agent": "regulatory",
         "dependencies": [], "estimated_duration_minutes": 120, "automation_possible": true,
         "action_type": "hold", "success_criteria": "flight held", "rollback_procedure": ""}
      ]
    },
    {
      "title": "partial rebooking",
      "description": "rebook connecting passengers and delay the rest",
      "recommendations": ["rebook connections"],
      "confidence": 0.6,
      "estimated_duration": "4h",
      "impact": {"estimated_cost_usd": 9000, "passengers_affected": 200, "delay_hours": 0,
                 "cancellation_required": false, "downstream_flights_affected": 2,
                 "missed_connections": 0, "safety_margin": 0.5},
      "steps": [
        {"step_name": "rebook", "description": "rebook", "responsible_agent": "guest_experience",
         "dependencies": [], "estimated_duration_minutes": 90, "automation_possible": true,
         "action_type": "rebooking", "success_criteria": "rebooked", "rollback_procedure": ""}
      ]
    }
  ],
  "business_conflicts": [],
  "justification": "the swap protects the schedule at acceptable cost",
  "reasoning": "weighed swap against holding",
  "confidence": 0.8
}`

func TestArbitrateRanksAndPopulatesBackCompat(t *testing.T) {
	gw := model.NewScriptedGateway().RespondDefault(threeCandidateAnswer)
	arb := New(gw)

	output, err := arb.Arbitrate(context.Background(), Input{
		Disruption: "UA42 hydraulic failure at SFO",
		Collation1: fullCollation(core.PhaseInitial),
		Collation2: fullCollation(core.PhaseRevision),
	})
	require.NoError(t, err)
	require.Empty(t, output.Validate())

	// swap: 0.4*100+0.2*(80+75+65) = 84; hold: 83; rebook: 79.
	require.Len(t, output.SolutionOptions, 3)
	assert.Equal(t, "aircraft swap", output.SolutionOptions[0].Title)
	assert.Equal(t, 84.0, output.SolutionOptions[0].CompositeScore)
	assert.Equal(t, "delay in place", output.SolutionOptions[1].Title)
	assert.Equal(t, "partial rebooking", output.SolutionOptions[2].Title)
	for i, s := range output.SolutionOptions {
		assert.Equal(t, i+1, s.SolutionID)
	}

	assert.Equal(t, 1, output.RecommendedSolutionID)
	assert.Equal(t, output.SolutionOptions[0].Description, output.FinalDecision)
	assert.Equal(t, output.SolutionOptions[0].Recommendations, output.Recommendations)
	assert.Equal(t, []core.Phase{core.PhaseInitial, core.PhaseRevision}, output.PhasesConsidered)
	assert.Equal(t, "scripted-high_capacity", output.ModelUsed)
}

func TestBuildSolutionsDropsConstraintViolators(t *testing.T) {
	arb := New(model.NewScriptedGateway())
	solutions := arb.buildSolutions([]candidate{
		validCandidate("violator", Impact{SafetyMargin: 1, ConstraintViolations: []string{"crew duty limit exceeded"}}),
		validCandidate("clean", Impact{SafetyMargin: 0.5, EstimatedCostUSD: 5000}),
	}, constraintSet{})

	require.Len(t, solutions, 1)
	assert.Equal(t, "clean", solutions[0].Title)
	// A zero safety score never reaches the output.
	for _, s := range solutions {
		assert.Greater(t, s.SafetyScore, 0.0)
	}
}

func TestBuildSolutionsParetoFilter(t *testing.T) {
	arb := New(model.NewScriptedGateway())
	solutions := arb.buildSolutions([]candidate{
		// Dominates the second on every dimension.
		validCandidate("strong", Impact{SafetyMargin: 1, EstimatedCostUSD: 5000}),
		validCandidate("dominated", Impact{SafetyMargin: 0.2, EstimatedCostUSD: 200_000, PassengersAffected: 400, DownstreamFlights: 20}),
	}, constraintSet{})

	require.Len(t, solutions, 1)
	assert.Equal(t, "strong", solutions[0].Title)
}

func TestBuildSolutionsTieBreaksBySafety(t *testing.T) {
	arb := New(model.NewScriptedGateway())
	solutions := arb.buildSolutions([]candidate{
		// 0.4*80+0.2*(95+75+65) = 79.
		validCandidate("balanced", Impact{SafetyMargin: 0.5, EstimatedCostUSD: 5000, PassengersAffected: 100, DownstreamFlights: 5}),
		// 0.4*100+0.2*(95+55+45) = 79 too, with higher safety.
		validCandidate("safest", Impact{SafetyMargin: 1, EstimatedCostUSD: 5000, PassengersAffected: 200, DownstreamFlights: 10}),
	}, constraintSet{})

	require.Len(t, solutions, 2)
	assert.Equal(t, solutions[0].CompositeScore, solutions[1].CompositeScore)
	assert.Equal(t, "safest", solutions[0].Title)
	assert.Equal(t, 1, solutions[0].SolutionID)
}

func TestArbitrateFallbackWhenNoCandidateSurvives(t *testing.T) {
	answer := `{
	  "candidate_solutions": [
	    {"title": "bad", "description": "violates constraints", "recommendations": ["x"],
	     "confidence": 0.9,
	     "impact": {"safety_margin": 1, "constraint_violations": ["crew duty limit exceeded"]},
	     "steps": []}
	  ],
	  "justification": "j", "reasoning": "r", "confidence": 0.9
	}`
	gw := model.NewScriptedGateway().RespondDefault(answer)
	arb := New(gw)

	output, err := arb.Arbitrate(context.Background(), Input{
		Disruption: "d",
		Collation2: fullCollation(core.PhaseRevision),
	})
	require.NoError(t, err)
	require.Empty(t, output.Validate())

	require.Len(t, output.SolutionOptions, 1)
	assert.Contains(t, output.SolutionOptions[0].Description, "manual review")
	assert.Zero(t, output.Confidence)
}

func TestArbitrateConfidencePenaltyForFailedAgents(t *testing.T) {
	c2 := fullCollation(core.PhaseRevision)
	c2.Responses[core.AgentCargo] = failedResp(core.AgentCargo, core.PhaseRevision, core.StatusTimeout)
	c2.Responses[core.AgentFinance] = failedResp(core.AgentFinance, core.PhaseRevision, core.StatusError)

	gw := model.NewScriptedGateway().RespondDefault(threeCandidateAnswer)
	arb := New(gw)

	output, err := arb.Arbitrate(context.Background(), Input{Disruption: "d", Collation2: c2})
	require.NoError(t, err)

	assert.InDelta(t, 0.6, output.Confidence, 1e-9)
	assert.Contains(t, output.Reasoning, core.AgentCargo)
	assert.Contains(t, output.Reasoning, core.AgentFinance)
}

func TestArbitrateDetectsSafetyConflictsAndOverrides(t *testing.T) {
	c2 := collationOf(core.PhaseRevision,
		successResp(core.AgentCrewCompliance, core.PhaseRevision, "replace crew", 0.9, "crew duty limit exceeded"),
		successResp(core.AgentMaintenance, core.PhaseRevision, "ground aircraft", 0.9, "aircraft AOG"),
		successResp(core.AgentRegulatory, core.PhaseRevision, "no issues", 0.8),
		successResp(core.AgentNetwork, core.PhaseRevision, "depart immediately", 0.7),
		successResp(core.AgentFinance, core.PhaseRevision, "avoid hotel costs", 0.6),
	)

	gw := model.NewScriptedGateway().RespondDefault(threeCandidateAnswer)
	arb := New(gw)
	output, err := arb.Arbitrate(context.Background(), Input{Disruption: "d", Collation2: c2})
	require.NoError(t, err)

	var types []core.ConflictType
	for _, c := range output.ConflictsIdentified {
		types = append(types, c.ConflictType)
		assert.Empty(t, c.Validate())
	}
	assert.Contains(t, types, core.ConflictSafetyVsBusiness)
	assert.Contains(t, types, core.ConflictSafetyVsSafety)
	assert.Len(t, output.ConflictResolutions, len(output.ConflictsIdentified))

	require.NotEmpty(t, output.SafetyOverrides)
	constraints := make(map[string]bool)
	for _, o := range output.SafetyOverrides {
		constraints[o.Constraint] = true
		assert.NotEmpty(t, o.BusinessAgents)
	}
	assert.True(t, constraints["crew duty limit exceeded"])
	assert.True(t, constraints["aircraft AOG"])
}

func TestArbitrateSurfacesModelBusinessConflicts(t *testing.T) {
	answer := `{
	  "candidate_solutions": [
	    {"title": "swap", "description": "swap aircraft", "recommendations": ["swap"],
	     "confidence": 0.8, "impact": {"safety_margin": 1},
	     "steps": [{"step_name": "s", "description": "d", "responsible_agent": "network",
	                "dependencies": [], "estimated_duration_minutes": 10,
	                "action_type": "operational", "success_criteria": "ok"}]}
	  ],
	  "business_conflicts": [
	    {"agents": ["network", "finance"],
	     "description": "protecting the bank costs more than the revenue at risk",
	     "resolution": "protect the bank; the network effect compounds"}
	  ],
	  "justification": "j", "reasoning": "r", "confidence": 0.8
	}`
	gw := model.NewScriptedGateway().RespondDefault(answer)
	arb := New(gw)

	output, err := arb.Arbitrate(context.Background(), Input{Disruption: "d", Collation2: fullCollation(core.PhaseRevision)})
	require.NoError(t, err)

	require.Len(t, output.ConflictsIdentified, 1)
	assert.Equal(t, core.ConflictBusinessVsBusiness, output.ConflictsIdentified[0].ConflictType)
	assert.Equal(t, []string{"network", "finance"}, output.ConflictsIdentified[0].AgentsInvolved)
}

func TestArbitrateRetrievalFailureContinues(t *testing.T) {
	gw := model.NewScriptedGateway().RespondDefault(threeCandidateAnswer)
	arb := New(gw, WithRetriever(&retrieval.Static{Err: errors.New("knowledge base unreachable")}))

	output, err := arb.Arbitrate(context.Background(), Input{Disruption: "d", Collation2: fullCollation(core.PhaseRevision)})
	require.NoError(t, err)
	assert.NotEmpty(t, output.SolutionOptions)
}

func TestArbitrateRetrievalPassagesReachPrompt(t *testing.T) {
	gw := model.NewScriptedGateway().RespondDefault(threeCandidateAnswer)
	arb := New(gw, WithRetriever(&retrieval.Static{
		Passages: []retrieval.Passage{{Content: "IROPS playbook section 7: hydraulic failures"}},
	}))

	_, err := arb.Arbitrate(context.Background(), Input{Disruption: "d", Collation2: fullCollation(core.PhaseRevision)})
	require.NoError(t, err)

	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "IROPS playbook section 7")
}

func TestArbitrateRequiresRevisionCollation(t *testing.T) {
	arb := New(model.NewScriptedGateway())
	_, err := arb.Arbitrate(context.Background(), Input{Disruption: "d"})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestArbitrateModelFailureIsInternal(t *testing.T) {
	gw := model.NewScriptedGateway().FailWith(errors.New("throttled hard"))
	arb := New(gw)
	_, err := arb.Arbitrate(context.Background(), Input{Disruption: "d", Collation2: fullCollation(core.PhaseRevision)})
	assert.ErrorIs(t, err, core.ErrInternal)
}

func TestEvolutionClassification(t *testing.T) {
	c1 := collationOf(core.PhaseInitial,
		successResp(core.AgentCrewCompliance, core.PhaseInitial, "replace crew", 0.6),
		successResp(core.AgentMaintenance, core.PhaseInitial, "ground aircraft", 0.9),
		successResp(core.AgentNetwork, core.PhaseInitial, "depart now", 0.8),
		successResp(core.AgentCargo, core.PhaseInitial, "offload freight", 0.5),
	)
	c2 := collationOf(core.PhaseRevision,
		// Same recommendation: unchanged.
		successResp(core.AgentCrewCompliance, core.PhaseRevision, "Replace Crew", 0.7),
		// Changed with confidence rising: converged.
		successResp(core.AgentMaintenance, core.PhaseRevision, "swap to spare tail", 0.95),
		// Changed with confidence falling: diverged.
		successResp(core.AgentNetwork, core.PhaseRevision, "hold departure", 0.4),
		// Cargo missing: dropped_in_phase2. Finance new.
		successResp(core.AgentFinance, core.PhaseRevision, "minimize compensation", 0.6),
	)

	ev := computeEvolution(c1, c2, []string{"new constraint"}, []string{"old constraint"})
	require.NotNil(t, ev)

	assert.Equal(t, core.EvolutionUnchanged, ev.AgentChanges[core.AgentCrewCompliance].Change)
	assert.Equal(t, core.EvolutionConverged, ev.AgentChanges[core.AgentMaintenance].Change)
	assert.Equal(t, core.EvolutionDiverged, ev.AgentChanges[core.AgentNetwork].Change)
	assert.Equal(t, core.EvolutionDroppedInPhase2, ev.AgentChanges[core.AgentCargo].Change)
	assert.Equal(t, core.EvolutionNewInPhase2, ev.AgentChanges[core.AgentFinance].Change)

	assert.Equal(t, 2, ev.ChangedCount)
	assert.Equal(t, 1, ev.UnchangedCount)
	assert.True(t, ev.ConvergenceDetected)
	assert.True(t, ev.DivergenceDetected)
	assert.Equal(t, []string{"new constraint"}, ev.NewConstraints)
	assert.Equal(t, []string{"old constraint"}, ev.RemovedConstraints)
}
