// Package arbitrator turns the two analysis collations into 1-3 ranked,
// Pareto-distinct recovery solutions. Scores are derived deterministically
// from the model's impact estimates; the model never assigns its own ranks.
package arbitrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/model"
	"github.com/skyops-ai/irops/retrieval"
)

// Input carries everything one arbitration needs. Collation1 is optional;
// when present it participates in the phase comparison.
type Input struct {
	Disruption string
	Collation1 *core.Collation
	Collation2 *core.Collation
}

// Arbitrator produces the final arbitrated output for a disruption.
type Arbitrator struct {
	gateway   model.Gateway
	retriever retrieval.Client

	logger    core.Logger
	telemetry core.Telemetry
	now       func() time.Time
}

// Option configures an Arbitrator.
type Option func(*Arbitrator)

// WithRetriever attaches an optional retrieval client. Retrieval failures
// are logged and never fail arbitration.
func WithRetriever(r retrieval.Client) Option {
	return func(a *Arbitrator) { a.retriever = r }
}

// WithLogger injects a logger.
func WithLogger(logger core.Logger) Option {
	return func(a *Arbitrator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTelemetry injects a telemetry provider.
func WithTelemetry(t core.Telemetry) Option {
	return func(a *Arbitrator) {
		if t != nil {
			a.telemetry = t
		}
	}
}

// New creates an Arbitrator over the model gateway.
func New(gateway model.Gateway, opts ...Option) *Arbitrator {
	a := &Arbitrator{
		gateway:   gateway,
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Arbitrate runs the dual-phase analysis and returns the ranked output. A
// hard model failure is the only error path; partial analyzer data lowers
// confidence instead of failing.
func (a *Arbitrator) Arbitrate(ctx context.Context, input Input) (*core.ArbitratorOutput, error) {
	ctx, span := a.telemetry.StartSpan(ctx, "arbitrator.arbitrate")
	defer span.End()

	if input.Collation2 == nil {
		return nil, fmt.Errorf("arbitration requires the revision collation: %w", core.ErrInvalidRequest)
	}
	start := a.now()

	phase1 := extractConstraints(input.Collation1)
	phase2 := extractConstraints(input.Collation2)
	added, removed := diffConstraints(phase1, phase2)
	span.SetAttribute("arbitrator.binding_constraints", len(phase2.all))

	conflicts, resolutions, overrides := detectConflicts(input.Collation2, phase2)
	evolution := computeEvolution(input.Collation1, input.Collation2, added, removed)

	passages := a.retrievePassages(ctx, input.Disruption)

	prompt := buildPrompt(input, phase2, added, removed, conflicts, evolution, passages)
	raw, err := a.gateway.Complete(ctx, prompt, arbitrationSchema, core.TierHighCapacity)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("arbitration model call failed: %v: %w", err, core.ErrInternal)
	}

	var answer arbitrationAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("arbitration output did not match schema: %v: %w", err, core.ErrInternal)
	}

	for _, mc := range answer.BusinessConflicts {
		if len(mc.Agents) < 2 {
			continue
		}
		conflicts = append(conflicts, core.ConflictDetail{
			AgentsInvolved: mc.Agents,
			ConflictType:   core.ConflictBusinessVsBusiness,
			Description:    mc.Description,
		})
		resolutions = append(resolutions, core.ResolutionDetail{
			ConflictType: core.ConflictBusinessVsBusiness,
			Resolution:   mc.Resolution,
			ResolvedBy:   "arbitrator",
		})
	}

	solutions := a.buildSolutions(answer.Candidates, phase2)
	confidence := clamp01(answer.Confidence)
	reasoning := answer.Reasoning

	failed := input.Collation2.FailedAgents()
	if len(failed) > 0 {
		confidence = clamp01(confidence - 0.1*float64(len(failed)))
		reasoning = fmt.Sprintf("%s\nDecided without input from: %s.", reasoning, strings.Join(failed, ", "))
	}

	if len(solutions) == 0 {
		a.logger.Warn("No candidate survived constraint and plan validation, emitting conservative fallback", map[string]interface{}{
			"operation":  "arbitrate",
			"candidates": len(answer.Candidates),
		})
		solutions = []core.RecoverySolution{conservativeFallback(phase2)}
		confidence = 0
	}

	output := &core.ArbitratorOutput{
		SolutionOptions:         solutions,
		RecommendedSolutionID:   solutions[0].SolutionID,
		ConflictsIdentified:     conflicts,
		ConflictResolutions:     resolutions,
		SafetyOverrides:         overrides,
		RecommendationEvolution: evolution,
		PhasesConsidered:        phasesConsidered(input),
		FinalDecision:           solutions[0].Description,
		Recommendations:         solutions[0].Recommendations,
		Justification:           answer.Justification,
		Reasoning:               reasoning,
		Confidence:              confidence,
		Timestamp:               a.now().UTC(),
		ModelUsed:               a.gateway.ModelID(core.TierHighCapacity),
		DurationSeconds:         a.now().Sub(start).Seconds(),
	}

	if violations := output.Validate(); len(violations) > 0 {
		span.RecordError(fmt.Errorf("arbitrator output invalid: %s", strings.Join(violations, "; ")))
		return nil, fmt.Errorf("arbitrator output invalid: %s: %w", strings.Join(violations, "; "), core.ErrInternal)
	}

	span.SetAttribute("arbitrator.solutions", len(solutions))
	span.SetAttribute("arbitrator.confidence", confidence)
	return output, nil
}

// buildSolutions scores, filters, Pareto-prunes and ranks the model's
// candidates. At most three survive.
func (a *Arbitrator) buildSolutions(candidates []candidate, constraints constraintSet) []core.RecoverySolution {
	var pool []core.RecoverySolution
	for _, c := range candidates {
		if len(pool) == 3 {
			break
		}
		if len(c.Impact.ConstraintViolations) > 0 {
			a.logger.Info("Candidate rejected for constraint violations", map[string]interface{}{
				"operation":  "arbitrate",
				"candidate":  c.Title,
				"violations": len(c.Impact.ConstraintViolations),
			})
			continue
		}

		s := core.RecoverySolution{
			Title:             c.Title,
			Description:       c.Description,
			Recommendations:   c.Recommendations,
			Pros:              c.Pros,
			Cons:              c.Cons,
			Risks:             c.Risks,
			Confidence:        clamp01(c.Confidence),
			EstimatedDuration: c.EstimatedDuration,
		}
		applyScores(&s, c.Impact)
		if s.SafetyScore == 0 {
			continue
		}

		plan := BuildPlan(proposedToSteps(c.Steps), c.Contingencies)
		if len(plan.Validate()) > 0 {
			plan = RepairPlan(plan)
			if violations := plan.Validate(); len(violations) > 0 {
				a.logger.Warn("Candidate dropped after failed plan repair", map[string]interface{}{
					"operation": "arbitrate",
					"candidate": c.Title,
					"reasons":   strings.Join(violations, "; "),
				})
				continue
			}
		}
		s.RecoveryPlan = plan
		pool = append(pool, s)
	}

	pool = paretoFilter(pool)

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].CompositeScore != pool[j].CompositeScore {
			return pool[i].CompositeScore > pool[j].CompositeScore
		}
		return pool[i].SafetyScore > pool[j].SafetyScore
	})
	for i := range pool {
		pool[i].SolutionID = i + 1
	}
	return pool
}

// paretoFilter removes candidates dominated by a sibling.
func paretoFilter(pool []core.RecoverySolution) []core.RecoverySolution {
	var out []core.RecoverySolution
	for i, s := range pool {
		dominated := false
		for j, other := range pool {
			if i != j && other.Dominates(s) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, s)
		}
	}
	return out
}

// conservativeFallback is the solution of last resort: hold and hand the
// disruption to a human.
func conservativeFallback(constraints constraintSet) core.RecoverySolution {
	description := "Hold all affected flights and route the disruption to the operations duty manager for manual review."
	recommendations := []string{
		"Hold departure of affected flights",
		"Escalate to the operations duty manager",
		"Re-run the analysis once analyzer availability recovers",
	}
	steps := []core.RecoveryStep{
		{
			StepNumber:               1,
			StepName:                 "Hold affected flights",
			Description:              "Place a ground hold on every flight named in the disruption.",
			ResponsibleAgent:         core.AgentRegulatory,
			EstimatedDurationMinutes: 10,
			ActionType:               "hold",
			SuccessCriteria:          "No affected flight departs",
		},
		{
			StepNumber:               2,
			StepName:                 "Escalate for manual review",
			Description:              "Brief the operations duty manager with the collations and constraints gathered so far.",
			ResponsibleAgent:         core.AgentNetwork,
			Dependencies:             []int{1},
			EstimatedDurationMinutes: 30,
			ActionType:               "escalate",
			SuccessCriteria:          "Duty manager acknowledges ownership",
		},
	}
	s := core.RecoverySolution{
		SolutionID:        1,
		Title:             "Manual review",
		Description:       description,
		Recommendations:   recommendations,
		Confidence:        0,
		EstimatedDuration: "until manual review completes",
		RecoveryPlan: core.RecoveryPlan{
			Steps:        steps,
			CriticalPath: []int{1, 2},
		},
	}
	impact := Impact{SafetyMargin: 1}
	if len(constraints.all) > 0 {
		impact.SafetyMargin = 0.5
	}
	// Holding everything is safe but expensive for passengers and network.
	impact.PassengersAffected = 300
	impact.DownstreamFlights = 15
	impact.EstimatedCostUSD = 150_000
	applyScores(&s, impact)
	return s
}

// retrievePassages issues the optional retrieval call. Failures degrade to
// an empty result.
func (a *Arbitrator) retrievePassages(ctx context.Context, disruption string) []retrieval.Passage {
	if a.retriever == nil {
		return nil
	}
	passages, err := a.retriever.Retrieve(ctx, disruption)
	if err != nil {
		a.logger.Warn("Retrieval failed, continuing without reference material", map[string]interface{}{
			"operation": "arbitrate",
			"error":     err.Error(),
		})
		return nil
	}
	return passages
}

func proposedToSteps(proposed []proposedStep) []core.RecoveryStep {
	steps := make([]core.RecoveryStep, len(proposed))
	for i, p := range proposed {
		steps[i] = core.RecoveryStep{
			StepName:                 p.StepName,
			Description:              p.Description,
			ResponsibleAgent:         p.ResponsibleAgent,
			Dependencies:             p.Dependencies,
			EstimatedDurationMinutes: p.EstimatedDurationMinutes,
			AutomationPossible:       p.AutomationPossible,
			ActionType:               p.ActionType,
			SuccessCriteria:          p.SuccessCriteria,
			RollbackProcedure:        p.RollbackProcedure,
		}
	}
	return steps
}

func phasesConsidered(input Input) []core.Phase {
	if input.Collation1 != nil {
		return []core.Phase{core.PhaseInitial, core.PhaseRevision}
	}
	return []core.Phase{core.PhaseRevision}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
