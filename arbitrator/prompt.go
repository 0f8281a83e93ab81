package arbitrator

import (
	"fmt"
	"strings"

	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/retrieval"
)

// candidate is one solution proposal parsed from the model.
type candidate struct {
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Recommendations   []string       `json:"recommendations"`
	Pros              []string       `json:"pros"`
	Cons              []string       `json:"cons"`
	Risks             []string       `json:"risks"`
	Confidence        float64        `json:"confidence"`
	EstimatedDuration string         `json:"estimated_duration"`
	Impact            Impact         `json:"impact"`
	Steps             []proposedStep `json:"steps"`
	Contingencies     []string       `json:"contingency_plans"`
}

type proposedStep struct {
	StepName                 string  `json:"step_name"`
	Description              string  `json:"description"`
	ResponsibleAgent         string  `json:"responsible_agent"`
	Dependencies             []int   `json:"dependencies"`
	EstimatedDurationMinutes float64 `json:"estimated_duration_minutes"`
	AutomationPossible       bool    `json:"automation_possible"`
	ActionType               string  `json:"action_type"`
	SuccessCriteria          string  `json:"success_criteria"`
	RollbackProcedure        string  `json:"rollback_procedure"`
}

// modelConflict is a business trade-off conflict the model surfaces itself.
type modelConflict struct {
	Agents      []string `json:"agents"`
	Description string   `json:"description"`
	Resolution  string   `json:"resolution"`
}

// arbitrationAnswer is the full structured output requested from the model.
type arbitrationAnswer struct {
	Candidates        []candidate     `json:"candidate_solutions"`
	BusinessConflicts []modelConflict `json:"business_conflicts"`
	Justification     string          `json:"justification"`
	Reasoning         string          `json:"reasoning"`
	Confidence        float64         `json:"confidence"`
}

const arbitrationSchema = `{
  "candidate_solutions": [
    {
      "title": "string",
      "description": "string, the course of action",
      "recommendations": ["string, high-level actions"],
      "pros": ["string"],
      "cons": ["string"],
      "risks": ["string"],
      "confidence": "number in [0,1]",
      "estimated_duration": "string, e.g. 4h30m",
      "impact": {
        "estimated_cost_usd": "number",
        "passengers_affected": "integer",
        "delay_hours": "number",
        "cancellation_required": "boolean",
        "downstream_flights_affected": "integer",
        "missed_connections": "integer",
        "safety_margin": "number in [0,1], headroom above the minimum required safety level",
        "constraint_violations": ["string, binding constraints this option violates; MUST be empty for viable options"]
      },
      "steps": [
        {
          "step_name": "string",
          "description": "string",
          "responsible_agent": "string, one of the seven analyzer names",
          "dependencies": ["integer, 1-based numbers of earlier steps"],
          "estimated_duration_minutes": "number",
          "automation_possible": "boolean",
          "action_type": "string",
          "success_criteria": "string",
          "rollback_procedure": "string"
        }
      ],
      "contingency_plans": ["string"]
    }
  ],
  "business_conflicts": [
    {"agents": ["string, two or more business analyzer names"], "description": "string", "resolution": "string"}
  ],
  "justification": "string",
  "reasoning": "string",
  "confidence": "number in [0,1]"
}`

// buildPrompt renders the full arbitration prompt: disruption, both
// collations, the constraint picture, detected conflicts, the phase
// comparison and any retrieved reference passages.
func buildPrompt(input Input, constraints constraintSet, added, removed []string, conflicts []core.ConflictDetail, evolution *core.RecommendationEvolution, passages []retrieval.Passage) string {
	var sb strings.Builder
	sb.WriteString("You are the arbitrator of an airline irregular-operations decision engine. ")
	sb.WriteString("Produce 1 to 3 distinct recovery solutions with materially different trade-off profiles. ")
	sb.WriteString("Every solution must satisfy every binding constraint listed below.\n\n")
	fmt.Fprintf(&sb, "Disruption: %s\n", input.Disruption)

	if len(constraints.all) > 0 {
		sb.WriteString("\nBinding constraints (non-negotiable):\n")
		for _, name := range core.SafetyAgents {
			for _, c := range constraints.byAgent[name] {
				fmt.Fprintf(&sb, "- [%s] %s\n", name, c)
			}
		}
	} else {
		sb.WriteString("\nNo binding constraints were issued.\n")
	}
	for _, c := range added {
		fmt.Fprintf(&sb, "Newly discovered in the revision round: %s\n", c)
	}
	for _, c := range removed {
		fmt.Fprintf(&sb, "Lifted after the revision round (informational): %s\n", c)
	}

	writeCollation := func(label string, c *core.Collation) {
		if c == nil {
			return
		}
		fmt.Fprintf(&sb, "\n%s:\n", label)
		for _, name := range core.AllAgents() {
			resp, ok := c.Responses[name]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "[%s] status=%s confidence=%.2f\n", name, resp.Status, resp.Confidence)
			if resp.Recommendation != "" {
				fmt.Fprintf(&sb, "  recommendation: %s\n", resp.Recommendation)
			}
			if resp.Reasoning != "" {
				fmt.Fprintf(&sb, "  reasoning: %s\n", resp.Reasoning)
			}
		}
	}
	writeCollation("Initial analysis round", input.Collation1)
	writeCollation("Revision round", input.Collation2)

	if len(conflicts) > 0 {
		sb.WriteString("\nDetected conflicts:\n")
		for _, c := range conflicts {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", c.ConflictType, strings.Join(c.AgentsInvolved, " vs "), c.Description)
		}
	}

	if evolution != nil {
		sb.WriteString("\nPhase comparison:\n")
		fmt.Fprintf(&sb, "%d analyzers changed position, %d held.\n", evolution.ChangedCount, evolution.UnchangedCount)
		for _, name := range core.AllAgents() {
			change, ok := evolution.AgentChanges[name]
			if !ok || change.Change == core.EvolutionUnchanged {
				continue
			}
			fmt.Fprintf(&sb, "- %s: %s", name, change.Change)
			if change.Summary != "" {
				fmt.Fprintf(&sb, " (%s)", change.Summary)
			}
			sb.WriteByte('\n')
		}
		sb.WriteString("Weigh stability: positions that converged across rounds are more reliable than ones that diverged.\n")
	}

	if len(passages) > 0 {
		sb.WriteString("\nReference material:\n")
		for _, p := range passages {
			fmt.Fprintf(&sb, "- %s\n", p.Content)
		}
	}

	sb.WriteString("\nIf two business analyzers recommend incompatible trade-offs, report that under business_conflicts with your resolution.\n")
	return sb.String()
}
