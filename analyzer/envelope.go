// Package analyzer implements the seven domain analyzers and the supervisor
// that fences each invocation behind a deadline. Every analyzer makes
// exactly one model call per invocation and reads operational data only
// through the batched accessor.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/skyops-ai/irops/core"
)

// Envelope is the prompt material handed to every analyzer in a phase. In
// the revision phase Prior carries the complete first-phase collation so
// each analyzer sees what the others concluded before revising.
type Envelope struct {
	Disruption    string
	Task          string
	FlightNumbers []string
	Prior         *core.Collation
}

// NewInitialEnvelope builds the first-phase envelope: just the disruption
// and the initial_analysis task tag.
func NewInitialEnvelope(disruption string, flightNumbers []string) *Envelope {
	return &Envelope{
		Disruption:    disruption,
		Task:          core.TaskInitialAnalysis,
		FlightNumbers: flightNumbers,
	}
}

// NewRevisionEnvelope builds the second-phase envelope carrying the full
// first-phase collation.
func NewRevisionEnvelope(disruption string, flightNumbers []string, prior *core.Collation) *Envelope {
	return &Envelope{
		Disruption:    disruption,
		Task:          core.TaskRevision,
		FlightNumbers: flightNumbers,
		Prior:         prior,
	}
}

// Render produces the prompt section shared by all analyzers. Prior
// responses are grouped per agent in the canonical order.
func (e *Envelope) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", e.Task)
	fmt.Fprintf(&sb, "Disruption: %s\n", e.Disruption)
	if len(e.FlightNumbers) > 0 {
		fmt.Fprintf(&sb, "Flights involved: %s\n", strings.Join(e.FlightNumbers, ", "))
	}

	if e.Prior != nil {
		sb.WriteString("\nInitial analysis round, grouped by analyzer:\n")
		for _, name := range core.AllAgents() {
			resp, ok := e.Prior.Responses[name]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "\n[%s] status=%s confidence=%.2f\n", name, resp.Status, resp.Confidence)
			if resp.Recommendation != "" {
				fmt.Fprintf(&sb, "  recommendation: %s\n", resp.Recommendation)
			}
			if resp.Reasoning != "" {
				fmt.Fprintf(&sb, "  reasoning: %s\n", resp.Reasoning)
			}
			for _, c := range resp.BindingConstraints {
				fmt.Fprintf(&sb, "  binding constraint: %s\n", c)
			}
		}
		sb.WriteString("\nRevise your own position in light of the other analyzers' conclusions.\n")
	}
	return sb.String()
}
