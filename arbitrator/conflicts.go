package arbitrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skyops-ai/irops/core"
)

// constraintSet is the union of binding constraints keyed by the safety
// agent that issued them, in canonical agent order.
type constraintSet struct {
	byAgent map[string][]string
	all     []string
}

// extractConstraints unions the binding constraints across the safety
// analyzers of a collation. Duplicate constraint text is kept once.
func extractConstraints(c *core.Collation) constraintSet {
	set := constraintSet{byAgent: make(map[string][]string)}
	if c == nil {
		return set
	}
	seen := make(map[string]bool)
	for _, name := range core.SafetyAgents {
		resp, ok := c.Responses[name]
		if !ok {
			continue
		}
		for _, constraint := range resp.BindingConstraints {
			constraint = strings.TrimSpace(constraint)
			if constraint == "" {
				continue
			}
			set.byAgent[name] = append(set.byAgent[name], constraint)
			if !seen[constraint] {
				seen[constraint] = true
				set.all = append(set.all, constraint)
			}
		}
	}
	return set
}

// diffConstraints reports constraints added in phase 2 and constraints from
// phase 1 that phase 2 no longer carries.
func diffConstraints(phase1, phase2 constraintSet) (added, removed []string) {
	in1 := make(map[string]bool, len(phase1.all))
	for _, c := range phase1.all {
		in1[c] = true
	}
	in2 := make(map[string]bool, len(phase2.all))
	for _, c := range phase2.all {
		in2[c] = true
	}
	for _, c := range phase2.all {
		if !in1[c] {
			added = append(added, c)
		}
	}
	for _, c := range phase1.all {
		if !in2[c] {
			removed = append(removed, c)
		}
	}
	return added, removed
}

// detectConflicts finds the deterministic conflict classes in the phase 2
// collation: binding constraints against successful business
// recommendations, and multiple safety agents constraining at once.
// Business-vs-business conflicts are surfaced by the model and appended by
// the caller.
func detectConflicts(c *core.Collation, constraints constraintSet) ([]core.ConflictDetail, []core.ResolutionDetail, []core.SafetyOverride) {
	var conflicts []core.ConflictDetail
	var resolutions []core.ResolutionDetail
	var overrides []core.SafetyOverride

	var successfulBusiness []string
	for _, name := range core.BusinessAgents {
		if resp, ok := c.Responses[name]; ok && resp.Status == core.StatusSuccess && resp.Recommendation != "" {
			successfulBusiness = append(successfulBusiness, name)
		}
	}

	var constrainingAgents []string
	for _, name := range core.SafetyAgents {
		if len(constraints.byAgent[name]) > 0 {
			constrainingAgents = append(constrainingAgents, name)
		}
	}

	if len(constrainingAgents) > 0 && len(successfulBusiness) > 0 {
		for _, safetyAgent := range constrainingAgents {
			involved := append([]string{safetyAgent}, successfulBusiness...)
			conflicts = append(conflicts, core.ConflictDetail{
				AgentsInvolved: involved,
				ConflictType:   core.ConflictSafetyVsBusiness,
				Description: fmt.Sprintf("%s issued binding constraints that limit the recovery options recommended by %s",
					safetyAgent, strings.Join(successfulBusiness, ", ")),
			})
			resolutions = append(resolutions, core.ResolutionDetail{
				ConflictType: core.ConflictSafetyVsBusiness,
				Resolution:   fmt.Sprintf("constraints from %s are honored; business recommendations apply only within them", safetyAgent),
				ResolvedBy:   "arbitrator",
			})
			for _, constraint := range constraints.byAgent[safetyAgent] {
				overrides = append(overrides, core.SafetyOverride{
					SafetyAgent:    safetyAgent,
					Constraint:     constraint,
					BusinessAgents: successfulBusiness,
					Description:    fmt.Sprintf("binding constraint %q overrides conflicting business recommendations", constraint),
				})
			}
		}
	}

	if len(constrainingAgents) >= 2 {
		sorted := append([]string(nil), constrainingAgents...)
		sort.Strings(sorted)
		conflicts = append(conflicts, core.ConflictDetail{
			AgentsInvolved: sorted,
			ConflictType:   core.ConflictSafetyVsSafety,
			Description: fmt.Sprintf("multiple safety analyzers (%s) issued binding constraints; all must hold simultaneously",
				strings.Join(sorted, ", ")),
		})
		resolutions = append(resolutions, core.ResolutionDetail{
			ConflictType: core.ConflictSafetyVsSafety,
			Resolution:   "the most conservative combination is applied: every constraint from every safety analyzer holds",
			ResolvedBy:   "arbitrator",
		})
	}

	return conflicts, resolutions, overrides
}
