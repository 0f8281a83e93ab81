package analyzer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/skyops-ai/irops/core"
)

// Supervisor fences each analyzer invocation behind a deadline and a panic
// boundary. Whatever happens inside the analyzer, Run returns a settled
// AnalyzerResponse; nothing escapes into the phase.
type Supervisor struct {
	logger    core.Logger
	telemetry core.Telemetry
}

// NewSupervisor creates a supervisor. Nil dependencies default to no-ops.
func NewSupervisor(logger core.Logger, telemetry core.Telemetry) *Supervisor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Supervisor{logger: logger, telemetry: telemetry}
}

// Run invokes the analyzer with the given deadline. On expiry the child
// context is cancelled and the result is a timeout response with confidence
// zero; a panic or returned error becomes an error response. The analyzer's
// own response is used as-is when it settles in time.
func (s *Supervisor) Run(ctx context.Context, a Analyzer, req Request, deadline time.Duration) core.AnalyzerResponse {
	childCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	type settled struct {
		resp core.AnalyzerResponse
		err  error
	}
	done := make(chan settled, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Analyzer panicked", map[string]interface{}{
					"operation": "supervise",
					"agent":     a.Name(),
					"panic":     fmt.Sprintf("%v", r),
					"stack":     string(debug.Stack()),
				})
				done <- settled{
					resp: core.AnalyzerResponse{
						AgentName:       a.Name(),
						Phase:           req.Phase,
						Status:          core.StatusError,
						Reasoning:       fmt.Sprintf("analyzer panicked: %v", r),
						DurationSeconds: time.Since(start).Seconds(),
					},
				}
			}
		}()
		resp, err := a.Analyze(childCtx, req)
		done <- settled{resp: resp, err: err}
	}()

	select {
	case <-childCtx.Done():
		// Deadline or upstream cancellation. The goroutine unwinds on its
		// own once the analyzer observes the cancelled context.
		s.logger.Warn("Analyzer deadline expired", map[string]interface{}{
			"operation": "supervise",
			"agent":     a.Name(),
			"phase":     string(req.Phase),
			"deadline":  deadline.String(),
		})
		s.telemetry.RecordMetric("analyzer.timeouts", 1, map[string]string{"agent": a.Name()})
		return core.AnalyzerResponse{
			AgentName:       a.Name(),
			Phase:           req.Phase,
			Status:          core.StatusTimeout,
			Reasoning:       fmt.Sprintf("no response within %s", deadline),
			DurationSeconds: time.Since(start).Seconds(),
		}
	case result := <-done:
		if result.err != nil {
			s.logger.Error("Analyzer failed", map[string]interface{}{
				"operation": "supervise",
				"agent":     a.Name(),
				"phase":     string(req.Phase),
				"error":     result.err.Error(),
			})
			resp := result.resp
			resp.AgentName = a.Name()
			resp.Phase = req.Phase
			resp.Status = core.StatusError
			resp.Confidence = 0
			if resp.Reasoning == "" {
				resp.Reasoning = result.err.Error()
			}
			if resp.DurationSeconds == 0 {
				resp.DurationSeconds = time.Since(start).Seconds()
			}
			return resp
		}
		resp := result.resp
		if resp.Status != core.StatusSuccess {
			resp.Confidence = 0
		}
		return resp
	}
}
