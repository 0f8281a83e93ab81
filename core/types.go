package core

import (
	"fmt"
	"math"
	"time"
)

// Phase identifies one of the two analysis passes of a run.
type Phase string

const (
	PhaseInitial  Phase = "initial"
	PhaseRevision Phase = "revision"
)

// TaskTag carried in the prompt envelope of each phase.
const (
	TaskInitialAnalysis = "initial_analysis"
	TaskRevision        = "revision"
)

// AnalyzerStatus is the settled outcome of one analyzer invocation.
type AnalyzerStatus string

const (
	StatusSuccess AnalyzerStatus = "success"
	StatusTimeout AnalyzerStatus = "timeout"
	StatusError   AnalyzerStatus = "error"
)

// The seven domain analyzers. Crew, maintenance and regulatory form the
// safety tier; network, guest experience, cargo and finance the business tier.
const (
	AgentCrewCompliance  = "crew_compliance"
	AgentMaintenance     = "maintenance"
	AgentRegulatory      = "regulatory"
	AgentNetwork         = "network"
	AgentGuestExperience = "guest_experience"
	AgentCargo           = "cargo"
	AgentFinance         = "finance"
)

// SafetyAgents lists the analyzers whose binding constraints are
// non-negotiable for the arbitrator.
var SafetyAgents = []string{AgentCrewCompliance, AgentMaintenance, AgentRegulatory}

// BusinessAgents lists the analyzers that trade off cost, passengers,
// cargo and network impact. They never emit binding constraints.
var BusinessAgents = []string{AgentNetwork, AgentGuestExperience, AgentCargo, AgentFinance}

// AllAgents returns the seven analyzer names, safety tier first.
func AllAgents() []string {
	out := make([]string, 0, len(SafetyAgents)+len(BusinessAgents))
	out = append(out, SafetyAgents...)
	out = append(out, BusinessAgents...)
	return out
}

// IsSafetyAgent reports whether name belongs to the safety tier.
func IsSafetyAgent(name string) bool {
	for _, s := range SafetyAgents {
		if s == name {
			return true
		}
	}
	return false
}

// ModelTier selects which model the gateway routes a call to.
type ModelTier string

const (
	TierFast         ModelTier = "fast"
	TierBalanced     ModelTier = "balanced"
	TierHighCapacity ModelTier = "high_capacity"
)

// TierForAgent maps an analyzer name to its model tier. Safety analyzers
// and the arbitrator get the higher-capacity model; business analyzers the
// faster one. The choice is a pure function of the agent name.
func TierForAgent(name string) ModelTier {
	if IsSafetyAgent(name) {
		return TierHighCapacity
	}
	return TierFast
}

// AnalyzerResponse is the settled result of one analyzer in one phase.
type AnalyzerResponse struct {
	AgentName          string         `json:"agent_name"`
	Phase              Phase          `json:"phase"`
	Status             AnalyzerStatus `json:"status"`
	Recommendation     string         `json:"recommendation"`
	Confidence         float64        `json:"confidence"`
	BindingConstraints []string       `json:"binding_constraints,omitempty"`
	Reasoning          string         `json:"reasoning"`
	DurationSeconds    float64        `json:"duration_seconds"`
}

// Validate returns the list of invariant violations, empty when valid.
func (r AnalyzerResponse) Validate() []string {
	var violations []string
	if r.AgentName == "" {
		violations = append(violations, "agent_name is empty")
	}
	if r.Phase != PhaseInitial && r.Phase != PhaseRevision {
		violations = append(violations, fmt.Sprintf("phase %q is not initial or revision", r.Phase))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		violations = append(violations, fmt.Sprintf("confidence %.3f outside [0,1]", r.Confidence))
	}
	if r.Status != StatusSuccess && r.Confidence != 0 {
		violations = append(violations, "confidence must be 0 when status is not success")
	}
	if len(r.BindingConstraints) > 0 && !IsSafetyAgent(r.AgentName) {
		violations = append(violations, fmt.Sprintf("business analyzer %s carries binding constraints", r.AgentName))
	}
	if r.DurationSeconds < 0 {
		violations = append(violations, "duration_seconds is negative")
	}
	return violations
}

// Collation is the immutable set of responses produced by one phase,
// at most one per agent name.
type Collation struct {
	Phase         Phase                       `json:"phase"`
	Timestamp     time.Time                   `json:"timestamp"`
	Responses     map[string]AnalyzerResponse `json:"responses"`
	TotalDuration float64                     `json:"total_duration_seconds"`
}

// SuccessCount returns how many analyzers settled with status success.
func (c Collation) SuccessCount() int {
	n := 0
	for _, r := range c.Responses {
		if r.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// FailedAgents returns the names of analyzers that did not succeed,
// in the canonical agent order.
func (c Collation) FailedAgents() []string {
	var out []string
	for _, name := range AllAgents() {
		if r, ok := c.Responses[name]; ok && r.Status != StatusSuccess {
			out = append(out, name)
		}
	}
	return out
}

// AllSafetyFailed reports whether every safety analyzer is in a
// non-success status in this collation.
func (c Collation) AllSafetyFailed() bool {
	for _, name := range SafetyAgents {
		if r, ok := c.Responses[name]; ok && r.Status == StatusSuccess {
			return false
		}
	}
	return true
}

// ConflictType classifies a detected conflict between analyzers.
type ConflictType string

const (
	ConflictSafetyVsBusiness   ConflictType = "safety_vs_business"
	ConflictSafetyVsSafety     ConflictType = "safety_vs_safety"
	ConflictBusinessVsBusiness ConflictType = "business_vs_business"
)

// ConflictDetail records a conflict between two or more analyzers.
type ConflictDetail struct {
	AgentsInvolved []string     `json:"agents_involved"`
	ConflictType   ConflictType `json:"conflict_type"`
	Description    string       `json:"description"`
}

// Validate returns the list of invariant violations, empty when valid.
func (c ConflictDetail) Validate() []string {
	var violations []string
	if len(c.AgentsInvolved) < 2 {
		violations = append(violations, "conflict must involve at least 2 agents")
	}
	switch c.ConflictType {
	case ConflictSafetyVsBusiness, ConflictSafetyVsSafety, ConflictBusinessVsBusiness:
	default:
		violations = append(violations, fmt.Sprintf("unknown conflict_type %q", c.ConflictType))
	}
	return violations
}

// ResolutionDetail records how a detected conflict was resolved.
type ResolutionDetail struct {
	ConflictType ConflictType `json:"conflict_type"`
	Resolution   string       `json:"resolution"`
	ResolvedBy   string       `json:"resolved_by"`
}

// SafetyOverride records a binding constraint overriding a business
// recommendation.
type SafetyOverride struct {
	SafetyAgent    string   `json:"safety_agent"`
	Constraint     string   `json:"constraint"`
	BusinessAgents []string `json:"business_agents,omitempty"`
	Description    string   `json:"description"`
}

// RecoveryStep is one node of a recovery plan's step DAG. Step numbers are
// contiguous 1..N within a plan; dependencies point only backward.
type RecoveryStep struct {
	StepNumber               int      `json:"step_number"`
	StepName                 string   `json:"step_name"`
	Description              string   `json:"description"`
	ResponsibleAgent         string   `json:"responsible_agent"`
	Dependencies             []int    `json:"dependencies,omitempty"`
	EstimatedDurationMinutes float64  `json:"estimated_duration_minutes"`
	AutomationPossible       bool     `json:"automation_possible"`
	ActionType               string   `json:"action_type"`
	SuccessCriteria          string   `json:"success_criteria"`
	RollbackProcedure        string   `json:"rollback_procedure,omitempty"`
}

// RecoveryPlan is a DAG of steps plus the duration-critical path through it.
type RecoveryPlan struct {
	Steps            []RecoveryStep `json:"steps"`
	CriticalPath     []int          `json:"critical_path"`
	ContingencyPlans []string       `json:"contingency_plans,omitempty"`
}

// Validate returns the list of invariant violations, empty when valid.
// Checked: non-empty steps, contiguous 1..N numbering, no duplicates, no
// self or forward dependencies, critical path a subset of step numbers.
func (p RecoveryPlan) Validate() []string {
	var violations []string
	if len(p.Steps) == 0 {
		violations = append(violations, "plan has no steps")
		return violations
	}

	seen := make(map[int]bool, len(p.Steps))
	for i, step := range p.Steps {
		want := i + 1
		if step.StepNumber != want {
			violations = append(violations, fmt.Sprintf("step at position %d has number %d, want %d", i, step.StepNumber, want))
		}
		if seen[step.StepNumber] {
			violations = append(violations, fmt.Sprintf("duplicate step number %d", step.StepNumber))
		}
		seen[step.StepNumber] = true

		depSeen := make(map[int]bool, len(step.Dependencies))
		for _, dep := range step.Dependencies {
			if dep == step.StepNumber {
				violations = append(violations, fmt.Sprintf("step %d depends on itself", step.StepNumber))
			}
			if dep >= step.StepNumber || dep < 1 {
				violations = append(violations, fmt.Sprintf("step %d has forward or invalid dependency %d", step.StepNumber, dep))
			}
			if depSeen[dep] {
				violations = append(violations, fmt.Sprintf("step %d lists dependency %d twice", step.StepNumber, dep))
			}
			depSeen[dep] = true
		}
		if step.EstimatedDurationMinutes < 0 {
			violations = append(violations, fmt.Sprintf("step %d has negative duration", step.StepNumber))
		}
	}

	for _, n := range p.CriticalPath {
		if !seen[n] {
			violations = append(violations, fmt.Sprintf("critical path references unknown step %d", n))
		}
	}
	return violations
}

// Score weights of the composite formula.
const (
	WeightSafety    = 0.40
	WeightCost      = 0.20
	WeightPassenger = 0.20
	WeightNetwork   = 0.20

	// CompositeTolerance is the allowed discrepancy between a stored
	// composite score and the weighted formula.
	CompositeTolerance = 0.1
)

// Composite computes the weighted composite score rounded to one decimal.
func Composite(safety, cost, passenger, network float64) float64 {
	v := WeightSafety*safety + WeightCost*cost + WeightPassenger*passenger + WeightNetwork*network
	return math.Round(v*10) / 10
}

// RecoverySolution is one ranked recovery option with its executable plan.
type RecoverySolution struct {
	SolutionID        int          `json:"solution_id"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	Recommendations   []string     `json:"recommendations"`
	SafetyScore       float64      `json:"safety_score"`
	CostScore         float64      `json:"cost_score"`
	PassengerScore    float64      `json:"passenger_score"`
	NetworkScore      float64      `json:"network_score"`
	CompositeScore    float64      `json:"composite_score"`
	Pros              []string     `json:"pros,omitempty"`
	Cons              []string     `json:"cons,omitempty"`
	Risks             []string     `json:"risks,omitempty"`
	Confidence        float64      `json:"confidence"`
	EstimatedDuration string       `json:"estimated_duration"`
	RecoveryPlan      RecoveryPlan `json:"recovery_plan"`
}

// Validate returns the list of invariant violations, empty when valid.
func (s RecoverySolution) Validate() []string {
	var violations []string
	if s.SolutionID < 1 || s.SolutionID > 3 {
		violations = append(violations, fmt.Sprintf("solution_id %d outside {1,2,3}", s.SolutionID))
	}
	for name, score := range map[string]float64{
		"safety_score":    s.SafetyScore,
		"cost_score":      s.CostScore,
		"passenger_score": s.PassengerScore,
		"network_score":   s.NetworkScore,
		"composite_score": s.CompositeScore,
	} {
		if score < 0 || score > 100 {
			violations = append(violations, fmt.Sprintf("%s %.2f outside [0,100]", name, score))
		}
	}
	want := Composite(s.SafetyScore, s.CostScore, s.PassengerScore, s.NetworkScore)
	if math.Abs(s.CompositeScore-want) > CompositeTolerance {
		violations = append(violations, fmt.Sprintf("composite_score %.2f deviates from formula value %.2f by more than %.1f",
			s.CompositeScore, want, CompositeTolerance))
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		violations = append(violations, fmt.Sprintf("confidence %.3f outside [0,1]", s.Confidence))
	}
	violations = append(violations, s.RecoveryPlan.Validate()...)
	return violations
}

// Dominates reports whether s is >= other on all four score dimensions and
// strictly greater on at least one (Pareto dominance).
func (s RecoverySolution) Dominates(other RecoverySolution) bool {
	ge := s.SafetyScore >= other.SafetyScore &&
		s.CostScore >= other.CostScore &&
		s.PassengerScore >= other.PassengerScore &&
		s.NetworkScore >= other.NetworkScore
	gt := s.SafetyScore > other.SafetyScore ||
		s.CostScore > other.CostScore ||
		s.PassengerScore > other.PassengerScore ||
		s.NetworkScore > other.NetworkScore
	return ge && gt
}

// EvolutionKind classifies how one agent's position moved between phases.
type EvolutionKind string

const (
	EvolutionUnchanged       EvolutionKind = "unchanged"
	EvolutionConverged       EvolutionKind = "converged"
	EvolutionDiverged        EvolutionKind = "diverged"
	EvolutionNewInPhase2     EvolutionKind = "new_in_phase2"
	EvolutionDroppedInPhase2 EvolutionKind = "dropped_in_phase2"
)

// AgentEvolution captures one agent's phase-to-phase change.
type AgentEvolution struct {
	AgentName            string        `json:"agent_name"`
	Change               EvolutionKind `json:"change"`
	Phase1Recommendation string        `json:"phase1_recommendation,omitempty"`
	Phase2Recommendation string        `json:"phase2_recommendation,omitempty"`
	Summary              string        `json:"summary,omitempty"`
}

// RecommendationEvolution aggregates the per-agent phase comparison.
type RecommendationEvolution struct {
	AgentChanges        map[string]AgentEvolution `json:"agent_changes"`
	ChangedCount        int                       `json:"changed_count"`
	UnchangedCount      int                       `json:"unchanged_count"`
	ConvergenceDetected bool                      `json:"convergence_detected"`
	DivergenceDetected  bool                      `json:"divergence_detected"`
	RemovedConstraints  []string                  `json:"removed_constraints,omitempty"`
	NewConstraints      []string                  `json:"new_constraints,omitempty"`
}

// ArbitratorOutput is the final arbitrated decision for a disruption.
type ArbitratorOutput struct {
	SolutionOptions         []RecoverySolution       `json:"solution_options"`
	RecommendedSolutionID   int                      `json:"recommended_solution_id"`
	ConflictsIdentified     []ConflictDetail         `json:"conflicts_identified,omitempty"`
	ConflictResolutions     []ResolutionDetail       `json:"conflict_resolutions,omitempty"`
	SafetyOverrides         []SafetyOverride         `json:"safety_overrides,omitempty"`
	RecommendationEvolution *RecommendationEvolution `json:"recommendation_evolution,omitempty"`
	PhasesConsidered        []Phase                  `json:"phases_considered"`
	FinalDecision           string                   `json:"final_decision"`
	Recommendations         []string                 `json:"recommendations"`
	Justification           string                   `json:"justification"`
	Reasoning               string                   `json:"reasoning"`
	Confidence              float64                  `json:"confidence"`
	Timestamp               time.Time                `json:"timestamp"`
	ModelUsed               string                   `json:"model_used,omitempty"`
	DurationSeconds         float64                  `json:"duration_seconds"`
}

// RecommendedSolution returns the solution matching RecommendedSolutionID,
// or nil when absent.
func (o *ArbitratorOutput) RecommendedSolution() *RecoverySolution {
	for i := range o.SolutionOptions {
		if o.SolutionOptions[i].SolutionID == o.RecommendedSolutionID {
			return &o.SolutionOptions[i]
		}
	}
	return nil
}

// Validate returns the list of invariant violations, empty when valid.
// Checked: 1..3 solutions, ranking order with safety tie-break, recommended
// id present, back-compat fields populated from the recommended solution.
func (o *ArbitratorOutput) Validate() []string {
	var violations []string
	if len(o.SolutionOptions) < 1 || len(o.SolutionOptions) > 3 {
		violations = append(violations, fmt.Sprintf("solution_options count %d outside 1..3", len(o.SolutionOptions)))
	}
	for i, s := range o.SolutionOptions {
		violations = append(violations, s.Validate()...)
		if i == 0 {
			continue
		}
		prev := o.SolutionOptions[i-1]
		if s.CompositeScore > prev.CompositeScore {
			violations = append(violations, fmt.Sprintf("solutions not ordered by composite_score at position %d", i))
		}
		if s.CompositeScore == prev.CompositeScore && s.SafetyScore > prev.SafetyScore {
			violations = append(violations, fmt.Sprintf("composite tie at position %d not broken by safety_score", i))
		}
	}
	rec := o.RecommendedSolution()
	if rec == nil {
		violations = append(violations, fmt.Sprintf("recommended_solution_id %d not among solutions", o.RecommendedSolutionID))
	} else {
		if o.FinalDecision != rec.Description {
			violations = append(violations, "final_decision does not match recommended solution description")
		}
		if len(o.Recommendations) != len(rec.Recommendations) {
			violations = append(violations, "recommendations do not match recommended solution")
		}
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		violations = append(violations, fmt.Sprintf("confidence %.3f outside [0,1]", o.Confidence))
	}
	return violations
}

// DecisionRecord is the durable artifact capturing the human's chosen
// solution for a disruption. Outcome fields are filled post-hoc.
type DecisionRecord struct {
	DisruptionID          string                      `json:"disruption_id"`
	Timestamp             string                      `json:"timestamp"`
	FlightNumber          string                      `json:"flight_number"`
	DisruptionType        string                      `json:"disruption_type"`
	DisruptionSeverity    string                      `json:"disruption_severity"`
	AgentResponses        map[string]AnalyzerResponse `json:"agent_responses"`
	SolutionOptions       []RecoverySolution          `json:"solution_options"`
	RecommendedSolutionID int                         `json:"recommended_solution_id"`
	SelectedSolutionID    int                         `json:"selected_solution_id"`
	SelectionRationale    string                      `json:"selection_rationale,omitempty"`
	HumanOverride         bool                        `json:"human_override"`
	ActualCostUSD         *float64                    `json:"actual_cost_usd,omitempty"`
	ActualDelayHours      *float64                    `json:"actual_delay_hours,omitempty"`
	OutcomeNotes          string                      `json:"outcome_notes,omitempty"`
}
