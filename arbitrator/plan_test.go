package arbitrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyops-ai/irops/core"
)

func step(name string, durationMinutes float64, deps ...int) core.RecoveryStep {
	return core.RecoveryStep{
		StepName:                 name,
		Description:              name,
		ResponsibleAgent:         core.AgentNetwork,
		Dependencies:             deps,
		EstimatedDurationMinutes: durationMinutes,
		ActionType:               "operational",
		SuccessCriteria:          "done",
	}
}

func TestBuildPlanNumbersStepsContiguously(t *testing.T) {
	plan := BuildPlan([]core.RecoveryStep{
		step("swap aircraft", 45),
		step("reposition crew", 90, 1),
		step("rebook passengers", 60, 1),
		step("release flight", 15, 2, 3),
	}, []string{"divert to alternate if swap unavailable"})

	require.Empty(t, plan.Validate())
	for i, s := range plan.Steps {
		assert.Equal(t, i+1, s.StepNumber)
	}
	assert.Equal(t, []string{"divert to alternate if swap unavailable"}, plan.ContingencyPlans)
}

func TestCriticalPathFollowsLongestDurationChain(t *testing.T) {
	plan := BuildPlan([]core.RecoveryStep{
		step("swap aircraft", 45),
		step("reposition crew", 90, 1),
		step("rebook passengers", 60, 1),
		step("release flight", 15, 2, 3),
	}, nil)

	// 1 -> 2 -> 4 (150) beats 1 -> 3 -> 4 (120).
	assert.Equal(t, []int{1, 2, 4}, plan.CriticalPath)
}

func TestCriticalPathTieBreaksToLowerStepNumbers(t *testing.T) {
	plan := BuildPlan([]core.RecoveryStep{
		step("a", 30),
		step("b", 30),
		step("c", 10, 1, 2),
	}, nil)

	// Both chains total 40; the lower-numbered predecessor wins.
	assert.Equal(t, []int{1, 3}, plan.CriticalPath)
}

func TestRepairPlanDropsBadDependencies(t *testing.T) {
	broken := core.RecoveryPlan{
		Steps: []core.RecoveryStep{
			step("a", 10),
			step("b", 20, 2, 5, 1, 1),
			step("c", 30, -1, 2),
		},
	}
	broken.Steps[1].StepNumber = 2
	require.NotEmpty(t, broken.Validate())

	repaired := RepairPlan(broken)
	require.Empty(t, repaired.Validate())
	assert.Equal(t, []int{1}, repaired.Steps[1].Dependencies)
	assert.Equal(t, []int{2}, repaired.Steps[2].Dependencies)
	assert.Equal(t, []int{1, 2, 3}, repaired.CriticalPath)
}

func TestRepairCannotSaveEmptyPlan(t *testing.T) {
	repaired := RepairPlan(core.RecoveryPlan{})
	assert.NotEmpty(t, repaired.Validate())
}
