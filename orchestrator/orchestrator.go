// Package orchestrator drives a disruption through the three phases:
// initial analysis, revision, arbitration. It owns the workflow thread
// identity and writes a checkpoint at every phase boundary.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyops-ai/irops/analyzer"
	"github.com/skyops-ai/irops/arbitrator"
	"github.com/skyops-ai/irops/checkpoint"
	"github.com/skyops-ai/irops/core"
)

// Arbiter is the slice of the arbitrator the engine needs.
type Arbiter interface {
	Arbitrate(ctx context.Context, input arbitrator.Input) (*core.ArbitratorOutput, error)
}

// Result is the outcome of one full orchestration run.
type Result struct {
	Thread          string                 `json:"thread"`
	Output          *core.ArbitratorOutput `json:"output"`
	Collation1      *core.Collation        `json:"collation1"`
	Collation2      *core.Collation        `json:"collation2"`
	PhaseDurations  map[string]float64     `json:"phase_durations_seconds"`
	ExecutionTimeMS int64                  `json:"execution_time_ms"`
	Degraded        bool                   `json:"degraded,omitempty"`
}

// Engine is the three-phase orchestrator. Safe for concurrent runs; each
// run works on its own thread partition.
type Engine struct {
	analyzers  []analyzer.Analyzer
	supervisor *analyzer.Supervisor
	arbiter    Arbiter
	store      checkpoint.Store
	config     *core.Config

	logger    core.Logger
	telemetry core.Telemetry
	now       func() time.Time

	history *history
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger injects a logger.
func WithEngineLogger(logger core.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEngineTelemetry injects a telemetry provider.
func WithEngineTelemetry(t core.Telemetry) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.telemetry = t
		}
	}
}

// NewEngine assembles the orchestrator from its collaborators.
func NewEngine(analyzers []analyzer.Analyzer, arbiter Arbiter, store checkpoint.Store, config *core.Config, opts ...EngineOption) *Engine {
	if config == nil {
		config = core.DefaultConfig()
	}
	e := &Engine{
		analyzers:  analyzers,
		arbiter:    arbiter,
		store:      store,
		config:     config,
		logger:     &core.NoOpLogger{},
		telemetry:  &core.NoOpTelemetry{},
		now:        time.Now,
		history:    newHistory(config.HistorySize),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.supervisor = analyzer.NewSupervisor(e.logger, e.telemetry)
	return e
}

// HandleDisruption runs a disruption end to end. A continuation id reuses
// an existing thread; otherwise a fresh one is minted. The only error paths
// are an invalid prompt, every safety analyzer failing in both phases, and
// a hard arbitration failure.
func (e *Engine) HandleDisruption(ctx context.Context, prompt, continuationID string) (*Result, error) {
	ctx, span := e.telemetry.StartSpan(ctx, "orchestrator.handle_disruption")
	defer span.End()

	start := e.now()
	disruption, err := core.SanitizeDisruption(prompt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	thread := continuationID
	if thread == "" {
		thread = uuid.NewString()
	}
	span.SetAttribute("thread", thread)

	flights := core.ExtractFlightNumbers(disruption)
	kind, severity := core.ClassifyDisruption(disruption)

	e.logger.Info("Disruption accepted", map[string]interface{}{
		"operation":       "handle_disruption",
		"thread":          thread,
		"disruption_type": kind,
		"severity":        severity,
		"flights":         flights,
	})

	meta := map[string]string{
		"phase":           "start",
		"disruption_type": kind,
		"severity":        severity,
	}
	if len(flights) > 0 {
		meta["flight_number"] = flights[0]
	}
	degraded := e.saveCheckpoint(ctx, thread, checkpoint.IDStart, map[string]string{"prompt": disruption}, meta)

	result, err := e.runPhases(ctx, thread, disruption, flights, nil, nil)
	if err != nil {
		e.history.record(thread, start, e.now(), "failed", 0)
		return nil, err
	}
	result.Degraded = result.Degraded || degraded
	result.ExecutionTimeMS = e.now().Sub(start).Milliseconds()

	e.history.record(thread, start, e.now(), "complete", len(result.Output.SolutionOptions))
	e.telemetry.RecordMetric("orchestrator.runs", 1, map[string]string{"status": "complete"})
	span.SetAttribute("solutions", len(result.Output.SolutionOptions))
	return result, nil
}

// Resume continues an interrupted run on an existing thread. Completed
// phases are loaded from their checkpoints instead of replayed; an already
// supervised collation is authoritative.
func (e *Engine) Resume(ctx context.Context, thread, prompt string) (*Result, error) {
	if thread == "" {
		return nil, fmt.Errorf("thread is required to resume: %w", core.ErrInvalidRequest)
	}
	disruption, err := core.SanitizeDisruption(prompt)
	if err != nil {
		return nil, err
	}

	records, err := e.store.List(ctx, thread)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for %s: %w", thread, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("thread %s has no checkpoints: %w", thread, core.ErrNotFound)
	}

	var collation1, collation2 *core.Collation
	for i := range records {
		switch records[i].CheckpointID {
		case checkpoint.IDPhase1Complete:
			collation1 = e.decodeCollation(ctx, thread, checkpoint.IDPhase1Complete)
		case checkpoint.IDPhase2Complete:
			collation2 = e.decodeCollation(ctx, thread, checkpoint.IDPhase2Complete)
		}
	}

	e.logger.Info("Resuming thread", map[string]interface{}{
		"operation":       "resume",
		"thread":          thread,
		"phase1_complete": collation1 != nil,
		"phase2_complete": collation2 != nil,
	})

	start := e.now()
	flights := core.ExtractFlightNumbers(disruption)
	result, err := e.runPhases(ctx, thread, disruption, flights, collation1, collation2)
	if err != nil {
		return nil, err
	}
	result.ExecutionTimeMS = e.now().Sub(start).Milliseconds()
	return result, nil
}

// runPhases executes whatever phases are still missing and arbitrates.
func (e *Engine) runPhases(ctx context.Context, thread, disruption string, flights []string, collation1, collation2 *core.Collation) (*Result, error) {
	durations := make(map[string]float64)
	degraded := false

	if collation1 == nil {
		phaseStart := e.now()
		envelope := analyzer.NewInitialEnvelope(disruption, flights)
		collation1 = e.runPhase(ctx, thread, core.PhaseInitial, envelope)
		durations["phase1"] = e.now().Sub(phaseStart).Seconds()
		degraded = e.saveCheckpoint(ctx, thread, checkpoint.IDPhase1Complete, collation1, map[string]string{"phase": string(core.PhaseInitial)}) || degraded
	}

	if collation2 == nil {
		phaseStart := e.now()
		envelope := analyzer.NewRevisionEnvelope(disruption, flights, collation1)
		collation2 = e.runPhase(ctx, thread, core.PhaseRevision, envelope)
		durations["phase2"] = e.now().Sub(phaseStart).Seconds()
		degraded = e.saveCheckpoint(ctx, thread, checkpoint.IDPhase2Complete, collation2, map[string]string{"phase": string(core.PhaseRevision)}) || degraded
	}

	if collation1.AllSafetyFailed() && collation2.AllSafetyFailed() {
		e.logger.Error("All safety analyzers failed in both phases, halting", map[string]interface{}{
			"operation": "handle_disruption",
			"thread":    thread,
		})
		e.saveCheckpoint(ctx, thread, checkpoint.IDHalted, map[string]string{"reason": "all_safety_unavailable"},
			map[string]string{"reason": "all_safety_unavailable"})
		return nil, fmt.Errorf("all safety analyzers unavailable in both phases: %w", core.ErrUnavailable)
	}

	phaseStart := e.now()
	output, err := e.arbiter.Arbitrate(ctx, arbitrator.Input{
		Disruption: disruption,
		Collation1: collation1,
		Collation2: collation2,
	})
	if err != nil {
		return nil, fmt.Errorf("arbitration failed for thread %s: %w", thread, err)
	}
	durations["phase3"] = e.now().Sub(phaseStart).Seconds()

	degraded = e.saveCheckpoint(ctx, thread, checkpoint.IDPhase3Complete, output, map[string]string{"phase": "arbitration"}) || degraded
	degraded = e.saveCheckpoint(ctx, thread, checkpoint.IDEnd, map[string]string{"status": "complete"}, map[string]string{"phase": "end"}) || degraded

	return &Result{
		Thread:         thread,
		Output:         output,
		Collation1:     collation1,
		Collation2:     collation2,
		PhaseDurations: durations,
		Degraded:       degraded,
	}, nil
}

// runPhase fans the envelope out to all seven analyzers and waits for every
// supervisor to settle. There are no intra-phase retries; partial data is
// carried forward.
func (e *Engine) runPhase(ctx context.Context, thread string, phase core.Phase, envelope *analyzer.Envelope) *core.Collation {
	ctx, span := e.telemetry.StartSpan(ctx, "orchestrator.phase")
	defer span.End()
	span.SetAttribute("phase", string(phase))

	start := e.now()
	req := analyzer.Request{Thread: thread, Phase: phase, Envelope: envelope}

	var mu sync.Mutex
	responses := make(map[string]core.AnalyzerResponse, len(e.analyzers))

	var wg sync.WaitGroup
	for _, a := range e.analyzers {
		wg.Add(1)
		go func(a analyzer.Analyzer) {
			defer wg.Done()
			resp := e.supervisor.Run(ctx, a, req, e.config.DeadlineFor(a.Name()))
			mu.Lock()
			responses[a.Name()] = resp
			mu.Unlock()
		}(a)
	}
	wg.Wait()

	collation := &core.Collation{
		Phase:         phase,
		Timestamp:     e.now().UTC(),
		Responses:     responses,
		TotalDuration: e.now().Sub(start).Seconds(),
	}

	e.logger.Info("Phase settled", map[string]interface{}{
		"operation": "run_phase",
		"thread":    thread,
		"phase":     string(phase),
		"succeeded": collation.SuccessCount(),
		"failed":    len(collation.FailedAgents()),
	})
	span.SetAttribute("succeeded", collation.SuccessCount())
	return collation
}

// saveCheckpoint absorbs every checkpoint failure mode into a degraded
// flag; a run never aborts because its audit trail could not be written.
func (e *Engine) saveCheckpoint(ctx context.Context, thread, id string, state interface{}, metadata map[string]string) bool {
	status, err := e.store.Save(ctx, thread, id, state, metadata)
	if err != nil {
		e.logger.Error("Checkpoint write failed", map[string]interface{}{
			"operation":  "save_checkpoint",
			"thread":     thread,
			"checkpoint": id,
			"error":      err.Error(),
		})
		return true
	}
	return status == checkpoint.SaveDegraded
}

// decodeCollation loads and decodes a phase collation checkpoint, returning
// nil when it is missing or unreadable so the phase reruns.
func (e *Engine) decodeCollation(ctx context.Context, thread, id string) *core.Collation {
	record, err := e.store.Load(ctx, thread, id)
	if err != nil {
		return nil
	}
	var c core.Collation
	if err := record.Decode(&c); err != nil {
		e.logger.Warn("Stored collation unreadable, phase will rerun", map[string]interface{}{
			"operation":  "resume",
			"thread":     thread,
			"checkpoint": id,
			"error":      err.Error(),
		})
		return nil
	}
	return &c
}

// Status summarizes a thread's progress from its checkpoint trail.
type Status struct {
	Thread      string   `json:"thread"`
	Phase       string   `json:"phase"`
	Complete    bool     `json:"complete"`
	Halted      bool     `json:"halted"`
	Checkpoints []string `json:"checkpoints"`
}

// Status reports phase progress for a thread. Unknown threads return
// core.ErrNotFound.
func (e *Engine) Status(ctx context.Context, thread string) (*Status, error) {
	records, err := e.store.List(ctx, thread)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for %s: %w", thread, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("thread %s: %w", thread, core.ErrNotFound)
	}

	status := &Status{Thread: thread, Phase: "started"}
	for _, r := range records {
		status.Checkpoints = append(status.Checkpoints, r.CheckpointID)
		switch r.CheckpointID {
		case checkpoint.IDPhase1Complete:
			status.Phase = "phase1_complete"
		case checkpoint.IDPhase2Complete:
			status.Phase = "phase2_complete"
		case checkpoint.IDPhase3Complete:
			status.Phase = "phase3_complete"
		case checkpoint.IDEnd:
			status.Phase = "complete"
			status.Complete = true
		case checkpoint.IDHalted:
			status.Phase = "halted"
			status.Halted = true
		}
	}
	return status, nil
}
