package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyops-ai/irops/analyzer"
	"github.com/skyops-ai/irops/arbitrator"
	"github.com/skyops-ai/irops/checkpoint"
	"github.com/skyops-ai/irops/core"
)

// scriptedAnalyzer settles immediately with a canned response.
type scriptedAnalyzer struct {
	name   string
	safety bool
	fail   map[core.Phase]bool

	onAnalyze func(phase core.Phase)
	calls     int32
}

func (s *scriptedAnalyzer) Name() string { return s.name }
func (s *scriptedAnalyzer) Safety() bool { return s.safety }

func (s *scriptedAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (core.AnalyzerResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.onAnalyze != nil {
		s.onAnalyze(req.Phase)
	}
	if s.fail[req.Phase] {
		return core.AnalyzerResponse{
			AgentName: s.name,
			Phase:     req.Phase,
			Status:    core.StatusError,
			Reasoning: "scripted failure",
		}, nil
	}
	return core.AnalyzerResponse{
		AgentName:      s.name,
		Phase:          req.Phase,
		Status:         core.StatusSuccess,
		Recommendation: "proceed",
		Reasoning:      "scripted",
		Confidence:     0.8,
	}, nil
}

func scriptedSuite(failSafety map[core.Phase]bool) []analyzer.Analyzer {
	suite := make([]analyzer.Analyzer, 0, 7)
	for _, name := range core.AllAgents() {
		a := &scriptedAnalyzer{name: name, safety: core.IsSafetyAgent(name)}
		if a.safety {
			a.fail = failSafety
		}
		suite = append(suite, a)
	}
	return suite
}

// fakeArbiter returns a fixed output and records its input.
type fakeArbiter struct {
	mu     sync.Mutex
	output *core.ArbitratorOutput
	err    error
	inputs []arbitrator.Input
}

func (f *fakeArbiter) Arbitrate(ctx context.Context, input arbitrator.Input) (*core.ArbitratorOutput, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func validOutput() *core.ArbitratorOutput {
	solution := core.RecoverySolution{
		SolutionID:      1,
		Title:           "swap",
		Description:     "swap aircraft",
		Recommendations: []string{"assign spare"},
		SafetyScore:     100,
		CostScore:       80,
		PassengerScore:  75,
		NetworkScore:    65,
		CompositeScore:  core.Composite(100, 80, 75, 65),
		Confidence:      0.8,
		RecoveryPlan: core.RecoveryPlan{
			Steps: []core.RecoveryStep{{
				StepNumber:               1,
				StepName:                 "swap",
				Description:              "swap",
				ResponsibleAgent:         core.AgentMaintenance,
				EstimatedDurationMinutes: 30,
				ActionType:               "operational",
				SuccessCriteria:          "done",
			}},
			CriticalPath: []int{1},
		},
	}
	return &core.ArbitratorOutput{
		SolutionOptions:       []core.RecoverySolution{solution},
		RecommendedSolutionID: 1,
		PhasesConsidered:      []core.Phase{core.PhaseInitial, core.PhaseRevision},
		FinalDecision:         solution.Description,
		Recommendations:       solution.Recommendations,
		Justification:         "j",
		Reasoning:             "r",
		Confidence:            0.8,
	}
}

func testEngine(suite []analyzer.Analyzer, arb Arbiter) (*Engine, *checkpoint.MemoryStore) {
	store := checkpoint.NewMemoryStore(0)
	cfg := core.DefaultConfig()
	return NewEngine(suite, arb, store, cfg), store
}

const testPrompt = "Flight UA1234 diverted to DEN after hydraulic failure, 180 passengers onboard"

func TestHandleDisruptionHappyPath(t *testing.T) {
	arb := &fakeArbiter{output: validOutput()}
	engine, store := testEngine(scriptedSuite(nil), arb)

	result, err := engine.HandleDisruption(context.Background(), testPrompt, "")
	require.NoError(t, err)

	assert.NotEmpty(t, result.Thread)
	assert.Len(t, result.Collation1.Responses, 7)
	assert.Len(t, result.Collation2.Responses, 7)
	assert.Equal(t, core.PhaseInitial, result.Collation1.Phase)
	assert.Equal(t, core.PhaseRevision, result.Collation2.Phase)
	assert.Equal(t, 1, result.Output.RecommendedSolutionID)
	assert.False(t, result.Degraded)

	records, err := store.List(context.Background(), result.Thread)
	require.NoError(t, err)
	var ids []string
	for _, r := range records {
		ids = append(ids, r.CheckpointID)
	}
	assert.Equal(t, []string{
		checkpoint.IDStart,
		checkpoint.IDPhase1Complete,
		checkpoint.IDPhase2Complete,
		checkpoint.IDPhase3Complete,
		checkpoint.IDEnd,
	}, ids)

	// The start checkpoint carries the classification metadata.
	start, err := store.Load(context.Background(), result.Thread, checkpoint.IDStart)
	require.NoError(t, err)
	assert.Equal(t, "UA1234", start.Metadata["flight_number"])
	assert.Equal(t, "mechanical", start.Metadata["disruption_type"])
}

func TestPhaseBarrierBeforeRevision(t *testing.T) {
	var initialSettled int32
	var violations int32

	suite := make([]analyzer.Analyzer, 0, 7)
	for _, name := range core.AllAgents() {
		a := &scriptedAnalyzer{name: name, safety: core.IsSafetyAgent(name)}
		a.onAnalyze = func(phase core.Phase) {
			if phase == core.PhaseRevision && atomic.LoadInt32(&initialSettled) != 7 {
				atomic.AddInt32(&violations, 1)
			}
			if phase == core.PhaseInitial {
				atomic.AddInt32(&initialSettled, 1)
			}
		}
		suite = append(suite, a)
	}

	arb := &fakeArbiter{output: validOutput()}
	engine, _ := testEngine(suite, arb)

	_, err := engine.HandleDisruption(context.Background(), testPrompt, "")
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&violations))

	// The arbiter observed the complete revision collation.
	require.Len(t, arb.inputs, 1)
	assert.Len(t, arb.inputs[0].Collation2.Responses, 7)
}

func TestHandleDisruptionInvalidPrompt(t *testing.T) {
	engine, _ := testEngine(scriptedSuite(nil), &fakeArbiter{output: validOutput()})

	_, err := engine.HandleDisruption(context.Background(), "short", "")
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestHandleDisruptionHaltsWhenAllSafetyFailBothPhases(t *testing.T) {
	fail := map[core.Phase]bool{core.PhaseInitial: true, core.PhaseRevision: true}
	arb := &fakeArbiter{output: validOutput()}
	engine, store := testEngine(scriptedSuite(fail), arb)

	_, err := engine.HandleDisruption(context.Background(), testPrompt, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnavailable)
	assert.Empty(t, arb.inputs)

	// The halt is checkpointed with its reason. The thread id is the only
	// one in the store.
	threads := findThreads(t, store)
	require.Len(t, threads, 1)
	halted, err := store.Load(context.Background(), threads[0], checkpoint.IDHalted)
	require.NoError(t, err)
	assert.Equal(t, "all_safety_unavailable", halted.Metadata["reason"])
}

func TestHandleDisruptionProceedsWithPartialSafetyFailure(t *testing.T) {
	// Safety analyzers fail in phase 1 only; phase 2 recovers.
	fail := map[core.Phase]bool{core.PhaseInitial: true}
	arb := &fakeArbiter{output: validOutput()}
	engine, _ := testEngine(scriptedSuite(fail), arb)

	result, err := engine.HandleDisruption(context.Background(), testPrompt, "")
	require.NoError(t, err)
	assert.NotNil(t, result.Output)
	assert.Len(t, arb.inputs, 1)
}

func TestResumeSkipsCompletedPhases(t *testing.T) {
	arb := &fakeArbiter{output: validOutput()}
	suite := scriptedSuite(nil)
	engine, store := testEngine(suite, arb)

	// Seed a thread whose phase 1 already completed.
	thread := "resume-thread"
	collation1 := &core.Collation{
		Phase:     core.PhaseInitial,
		Responses: map[string]core.AnalyzerResponse{},
	}
	for _, name := range core.AllAgents() {
		collation1.Responses[name] = core.AnalyzerResponse{
			AgentName: name, Phase: core.PhaseInitial, Status: core.StatusSuccess,
			Recommendation: "hold", Confidence: 0.7,
		}
	}
	_, err := store.Save(context.Background(), thread, checkpoint.IDStart, map[string]string{"prompt": testPrompt}, nil)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), thread, checkpoint.IDPhase1Complete, collation1, nil)
	require.NoError(t, err)

	result, err := engine.Resume(context.Background(), thread, testPrompt)
	require.NoError(t, err)
	assert.Equal(t, thread, result.Thread)
	assert.Equal(t, "hold", result.Collation1.Responses[core.AgentNetwork].Recommendation)

	// Phase 1 was not replayed: each analyzer ran exactly once (revision).
	for _, a := range suite {
		assert.Equal(t, int32(1), atomic.LoadInt32(&a.(*scriptedAnalyzer).calls))
	}
	_, hasPhase2 := result.PhaseDurations["phase2"]
	_, hasPhase1 := result.PhaseDurations["phase1"]
	assert.True(t, hasPhase2)
	assert.False(t, hasPhase1)
}

func TestResumeUnknownThread(t *testing.T) {
	engine, _ := testEngine(scriptedSuite(nil), &fakeArbiter{output: validOutput()})
	_, err := engine.Resume(context.Background(), "no-such-thread", testPrompt)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStatusProgress(t *testing.T) {
	arb := &fakeArbiter{output: validOutput()}
	engine, _ := testEngine(scriptedSuite(nil), arb)

	result, err := engine.HandleDisruption(context.Background(), testPrompt, "")
	require.NoError(t, err)

	status, err := engine.Status(context.Background(), result.Thread)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Equal(t, "complete", status.Phase)
	assert.Contains(t, status.Checkpoints, checkpoint.IDPhase2Complete)

	_, err = engine.Status(context.Background(), "unknown")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestHistoryRecordsRuns(t *testing.T) {
	arb := &fakeArbiter{output: validOutput()}
	engine, _ := testEngine(scriptedSuite(nil), arb)

	_, err := engine.HandleDisruption(context.Background(), testPrompt, "")
	require.NoError(t, err)

	records := engine.History()
	require.Len(t, records, 1)
	assert.Equal(t, "complete", records[0].Status)
	assert.Equal(t, 1, records[0].SolutionCount)
}

// findThreads recovers thread ids for runs that returned only an error.
func findThreads(t *testing.T, store *checkpoint.MemoryStore) []string {
	t.Helper()
	return store.Threads()
}
