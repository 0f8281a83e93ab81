package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/model"
	"github.com/skyops-ai/irops/opsdata"
)

// Request is one analyzer invocation within a phase.
type Request struct {
	Thread   string
	Phase    core.Phase
	Envelope *Envelope
}

// Analyzer is the per-domain contract. Analyze returns an error only for
// infrastructure failures; the supervisor converts those into a settled
// error response so nothing escapes a phase.
type Analyzer interface {
	Name() string
	Safety() bool
	Analyze(ctx context.Context, req Request) (core.AnalyzerResponse, error)
}

// ReadSpec names one operational read an analyzer performs per flight.
type ReadSpec struct {
	Table   func(t core.OpsTables) string
	KeyAttr string
}

// Profile declares a domain analyzer: its identity, the operational tables
// it consults, and the framing of its model prompt.
type Profile struct {
	AgentName string
	IsSafety  bool
	Focus     string
	Reads     []ReadSpec
}

// modelAnswer is the structured output every analyzer asks the model for.
type modelAnswer struct {
	Recommendation     string   `json:"recommendation"`
	Reasoning          string   `json:"reasoning"`
	Confidence         float64  `json:"confidence"`
	BindingConstraints []string `json:"binding_constraints,omitempty"`
}

const safetyAnswerSchema = `{
  "recommendation": "string, your recommended course of action",
  "reasoning": "string, why",
  "confidence": "number in [0,1]",
  "binding_constraints": ["string, each a hard non-negotiable violation; empty if none"]
}`

const businessAnswerSchema = `{
  "recommendation": "string, your recommended course of action",
  "reasoning": "string, why",
  "confidence": "number in [0,1]"
}`

// opsContextLimit caps how much operational data lands in the prompt.
const opsContextLimit = 8000

// DomainAnalyzer is the single implementation behind all seven analyzers.
// Behavior differences live entirely in the Profile.
type DomainAnalyzer struct {
	profile  Profile
	gateway  model.Gateway
	accessor *opsdata.Accessor
	tables   core.OpsTables

	logger    core.Logger
	telemetry core.Telemetry
}

// NewDomainAnalyzer builds one analyzer from its profile.
func NewDomainAnalyzer(profile Profile, gateway model.Gateway, accessor *opsdata.Accessor, tables core.OpsTables, logger core.Logger, telemetry core.Telemetry) *DomainAnalyzer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &DomainAnalyzer{
		profile:   profile,
		gateway:   gateway,
		accessor:  accessor,
		tables:    tables,
		logger:    logger,
		telemetry: telemetry,
	}
}

func (a *DomainAnalyzer) Name() string { return a.profile.AgentName }

func (a *DomainAnalyzer) Safety() bool { return a.profile.IsSafety }

// Analyze performs the analyzer's single model call, preceded by its
// operational reads. Unresolved reads narrow the context but never fail the
// analysis.
func (a *DomainAnalyzer) Analyze(ctx context.Context, req Request) (core.AnalyzerResponse, error) {
	ctx, span := a.telemetry.StartSpan(ctx, "analyzer.analyze")
	defer span.End()
	span.SetAttribute("analyzer.name", a.profile.AgentName)
	span.SetAttribute("analyzer.phase", string(req.Phase))
	span.SetAttribute("analyzer.thread", req.Thread)

	start := time.Now()
	resp := core.AnalyzerResponse{
		AgentName: a.profile.AgentName,
		Phase:     req.Phase,
	}

	opsContext, err := a.readOperationalData(ctx, req.Envelope.FlightNumbers)
	if err != nil {
		span.RecordError(err)
		resp.Status = core.StatusError
		resp.Reasoning = fmt.Sprintf("operational data read failed: %v", err)
		resp.DurationSeconds = time.Since(start).Seconds()
		return resp, fmt.Errorf("%s data read: %w", a.profile.AgentName, err)
	}

	prompt := a.buildPrompt(req.Envelope, opsContext)
	schema := businessAnswerSchema
	if a.profile.IsSafety {
		schema = safetyAnswerSchema
	}

	raw, err := a.gateway.Complete(ctx, prompt, schema, core.TierForAgent(a.profile.AgentName))
	if err != nil {
		span.RecordError(err)
		resp.Status = core.StatusError
		resp.Reasoning = fmt.Sprintf("model call failed: %v", err)
		resp.DurationSeconds = time.Since(start).Seconds()
		return resp, fmt.Errorf("%s model call: %w", a.profile.AgentName, err)
	}

	var answer modelAnswer
	if err := json.Unmarshal(raw, &answer); err != nil {
		span.RecordError(err)
		resp.Status = core.StatusError
		resp.Reasoning = fmt.Sprintf("model output did not match schema: %v", err)
		resp.DurationSeconds = time.Since(start).Seconds()
		return resp, fmt.Errorf("%s output parse: %w", a.profile.AgentName, err)
	}

	resp.Status = core.StatusSuccess
	resp.Recommendation = answer.Recommendation
	resp.Reasoning = answer.Reasoning
	resp.Confidence = clamp01(answer.Confidence)
	if a.profile.IsSafety {
		resp.BindingConstraints = answer.BindingConstraints
	} else if len(answer.BindingConstraints) > 0 {
		// Business analyzers never bind the arbitrator, whatever the model says.
		a.logger.Warn("Dropping binding constraints from business analyzer", map[string]interface{}{
			"operation": "analyze",
			"agent":     a.profile.AgentName,
			"count":     len(answer.BindingConstraints),
		})
	}
	resp.DurationSeconds = time.Since(start).Seconds()

	a.logger.Debug("Analyzer settled", map[string]interface{}{
		"operation":  "analyze",
		"agent":      a.profile.AgentName,
		"phase":      string(req.Phase),
		"confidence": resp.Confidence,
	})
	return resp, nil
}

// readOperationalData batch-reads every table the profile declares, one key
// per flight number, and renders the items as prompt context.
func (a *DomainAnalyzer) readOperationalData(ctx context.Context, flightNumbers []string) (string, error) {
	if a.accessor == nil || len(a.profile.Reads) == 0 || len(flightNumbers) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, read := range a.profile.Reads {
		table := read.Table(a.tables)
		keys := make([]opsdata.Key, len(flightNumbers))
		for i, fn := range flightNumbers {
			keys[i] = opsdata.Key{
				read.KeyAttr: &dynamotypes.AttributeValueMemberS{Value: fn},
			}
		}

		result, err := a.accessor.BatchGet(ctx, table, keys)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(&sb, "\n%s (%d records", table, len(result.Items))
		if len(result.Unresolved) > 0 {
			fmt.Fprintf(&sb, ", %d unavailable", len(result.Unresolved))
		}
		sb.WriteString("):\n")
		for _, item := range result.Items {
			var decoded map[string]interface{}
			if err := attributevalue.UnmarshalMap(item, &decoded); err != nil {
				continue
			}
			line, err := json.Marshal(decoded)
			if err != nil {
				continue
			}
			sb.Write(line)
			sb.WriteByte('\n')
			if sb.Len() > opsContextLimit {
				sb.WriteString("(further records elided)\n")
				return sb.String(), nil
			}
		}
	}
	return sb.String(), nil
}

func (a *DomainAnalyzer) buildPrompt(envelope *Envelope, opsContext string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the %s analyzer in an airline irregular-operations decision engine.\n", a.profile.AgentName)
	sb.WriteString(a.profile.Focus)
	sb.WriteString("\n\n")
	sb.WriteString(envelope.Render())
	if opsContext != "" {
		sb.WriteString("\nOperational data:\n")
		sb.WriteString(opsContext)
	}
	return sb.String()
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

var _ Analyzer = (*DomainAnalyzer)(nil)
