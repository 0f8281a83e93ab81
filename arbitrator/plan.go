package arbitrator

import (
	"sort"

	"github.com/skyops-ai/irops/core"
)

// BuildPlan assembles a recovery plan from model-proposed steps. Steps are
// numbered 1..N in the order given; the critical path is computed from the
// dependency graph. The result may still fail validation when the model
// produced bad dependencies; callers repair once and drop the solution if
// that is not enough.
func BuildPlan(steps []core.RecoveryStep, contingencies []string) core.RecoveryPlan {
	numbered := make([]core.RecoveryStep, len(steps))
	for i, s := range steps {
		s.StepNumber = i + 1
		if s.EstimatedDurationMinutes < 0 {
			s.EstimatedDurationMinutes = 0
		}
		numbered[i] = s
	}
	plan := core.RecoveryPlan{
		Steps:            numbered,
		ContingencyPlans: contingencies,
	}
	plan.CriticalPath = criticalPath(plan.Steps)
	return plan
}

// RepairPlan is the single repair pass over an invalid plan: steps are
// renumbered contiguously in order and every self, forward, out-of-range or
// duplicate dependency is dropped. The critical path is recomputed.
func RepairPlan(p core.RecoveryPlan) core.RecoveryPlan {
	repaired := make([]core.RecoveryStep, len(p.Steps))
	for i, s := range p.Steps {
		s.StepNumber = i + 1
		if s.EstimatedDurationMinutes < 0 {
			s.EstimatedDurationMinutes = 0
		}
		var deps []int
		seen := make(map[int]bool, len(s.Dependencies))
		for _, dep := range s.Dependencies {
			if dep < 1 || dep >= s.StepNumber || seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
		}
		sort.Ints(deps)
		s.Dependencies = deps
		repaired[i] = s
	}
	out := core.RecoveryPlan{
		Steps:            repaired,
		ContingencyPlans: p.ContingencyPlans,
	}
	out.CriticalPath = criticalPath(out.Steps)
	return out
}

// criticalPath returns the dependency chain with the longest total
// estimated duration, as ascending step numbers. Ties prefer the chain with
// the lower step numbers. Steps with invalid dependencies contribute only
// their valid backward edges, so the computation is safe on unrepaired
// plans.
func criticalPath(steps []core.RecoveryStep) []int {
	if len(steps) == 0 {
		return nil
	}

	n := len(steps)
	total := make([]float64, n+1)
	pred := make([]int, n+1)

	for _, step := range steps {
		num := step.StepNumber
		if num < 1 || num > n {
			continue
		}
		total[num] = step.EstimatedDurationMinutes
		pred[num] = 0
		for _, dep := range step.Dependencies {
			if dep < 1 || dep >= num {
				continue
			}
			if pred[num] == 0 || total[dep] > total[pred[num]] ||
				(total[dep] == total[pred[num]] && dep < pred[num]) {
				pred[num] = dep
			}
		}
		if pred[num] != 0 {
			total[num] += total[pred[num]]
		}
	}

	end := 1
	for num := 2; num <= n; num++ {
		if total[num] > total[end] {
			end = num
		}
	}

	var path []int
	for at := end; at != 0; at = pred[at] {
		path = append(path, at)
	}
	sort.Ints(path)
	return path
}
