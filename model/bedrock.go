package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/resilience"
	"github.com/skyops-ai/irops/telemetry"
)

// ConverseAPI is the subset of the Bedrock runtime client the gateway uses.
// Narrowed for test fakes.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockGateway implements Gateway over the Bedrock Converse API.
// Tier routing is a table lookup; throttling is retried with backoff behind
// a circuit breaker.
type BedrockGateway struct {
	client  ConverseAPI
	models  core.TierModels
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig

	maxTokens   int32
	temperature float32

	logger    core.Logger
	telemetry core.Telemetry
}

// BedrockOption configures a BedrockGateway.
type BedrockOption func(*BedrockGateway)

// WithBedrockLogger injects a logger.
func WithBedrockLogger(logger core.Logger) BedrockOption {
	return func(g *BedrockGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithBedrockTelemetry injects a telemetry provider.
func WithBedrockTelemetry(t core.Telemetry) BedrockOption {
	return func(g *BedrockGateway) {
		if t != nil {
			g.telemetry = t
		}
	}
}

// WithBedrockRetry overrides the transient-error retry policy.
func WithBedrockRetry(cfg *resilience.RetryConfig) BedrockOption {
	return func(g *BedrockGateway) {
		if cfg != nil {
			g.retry = cfg
		}
	}
}

// NewBedrockGateway creates a gateway over an existing Bedrock runtime
// client with the given tier-to-model table.
func NewBedrockGateway(client ConverseAPI, models core.TierModels, opts ...BedrockOption) *BedrockGateway {
	g := &BedrockGateway{
		client:      client,
		models:      models,
		breaker:     resilience.NewCircuitBreaker("bedrock", 5, 30*time.Second),
		retry:       resilience.DefaultRetryConfig(),
		maxTokens:   4000,
		temperature: 0.2,
		logger:      &core.NoOpLogger{},
		telemetry:   &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewBedrockGatewayFromRegion loads the default AWS configuration for the
// region and builds the gateway. Credentials resolve through the usual
// chain (IAM role, environment, shared profile).
func NewBedrockGatewayFromRegion(ctx context.Context, region string, models core.TierModels, opts ...BedrockOption) (*BedrockGateway, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewBedrockGateway(bedrockruntime.NewFromConfig(cfg), models, opts...), nil
}

// ModelID reports which model serves a tier.
func (g *BedrockGateway) ModelID(tier core.ModelTier) string {
	switch tier {
	case core.TierFast:
		return g.models.Fast
	case core.TierBalanced:
		return g.models.Balanced
	default:
		return g.models.HighCapacity
	}
}

const structuredOutputSystemPrompt = `You are a component inside an airline operations decision engine.
Respond with ONLY a JSON object conforming to the schema the user provides. No explanation, no markdown.`

// Complete sends the prompt and schema to the tier's model and returns the
// extracted JSON object. Throttling and transient transport errors are
// retried; an unparseable response is an error.
func (g *BedrockGateway) Complete(ctx context.Context, prompt, schema string, tier core.ModelTier) (json.RawMessage, error) {
	ctx, span := g.telemetry.StartSpan(ctx, "model.complete")
	defer span.End()

	modelID := g.ModelID(tier)
	span.SetAttribute("model.tier", string(tier))
	span.SetAttribute("model.id", modelID)
	span.SetAttribute("model.prompt_length", len(prompt))

	fullPrompt := prompt
	if schema != "" {
		fullPrompt = fmt.Sprintf("%s\n\nRespond with a JSON object of this shape:\n%s\n\nJSON only, no explanation.", prompt, schema)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: fullPrompt},
				},
			},
		},
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: structuredOutputSystemPrompt},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(g.maxTokens),
			Temperature: aws.Float32(g.temperature),
		},
	}

	startTime := time.Now()
	var output *bedrockruntime.ConverseOutput
	var hardErr error

	err := resilience.RetryWithCircuitBreaker(ctx, g.retry, g.breaker, func() error {
		out, callErr := g.client.Converse(ctx, input)
		if callErr == nil {
			output = out
			return nil
		}
		if !isTransient(callErr) {
			// Hard failures (validation, access denied) are not retried
			// and do not count against the breaker.
			hardErr = callErr
			return nil
		}
		return callErr
	})
	if err == nil {
		err = hardErr
	}
	if err == nil && output == nil {
		err = errors.New("bedrock converse returned no output")
	}
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		span.RecordError(err)
		if g.logger != nil {
			g.logger.Error("Model request failed", map[string]interface{}{
				"operation": "model_complete",
				"model":     modelID,
				"tier":      string(tier),
				"error":     err.Error(),
			})
		}
		return nil, fmt.Errorf("bedrock converse error for %s: %w", modelID, err)
	}

	content, err := converseText(output)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	raw := ExtractJSON(content)
	if raw == "" {
		err := fmt.Errorf("no JSON object in model response (model %s)", modelID)
		span.RecordError(err)
		return nil, err
	}
	if !json.Valid([]byte(raw)) {
		err := fmt.Errorf("model response is not valid JSON (model %s)", modelID)
		span.RecordError(err)
		return nil, err
	}

	if output.Usage != nil {
		span.SetAttribute("model.prompt_tokens", int(aws.ToInt32(output.Usage.InputTokens)))
		span.SetAttribute("model.completion_tokens", int(aws.ToInt32(output.Usage.OutputTokens)))
	}
	span.SetAttribute("model.response_length", len(content))

	if g.logger != nil {
		g.logger.Debug("Model request completed", map[string]interface{}{
			"operation":   "model_complete",
			"model":       modelID,
			"tier":        string(tier),
			"duration_ms": time.Since(startTime).Milliseconds(),
		})
	}

	return json.RawMessage(raw), nil
}

// converseText flattens the text blocks of a Converse response.
func converseText(output *bedrockruntime.ConverseOutput) (string, error) {
	if output.Output == nil {
		return "", errors.New("no output in bedrock response")
	}
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("unexpected output type from bedrock")
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("no text content in bedrock response")
	}
	return sb.String(), nil
}

// isTransient reports whether a Bedrock error is worth retrying.
func isTransient(err error) bool {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return true
	}
	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return true
	}
	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var _ Gateway = (*BedrockGateway)(nil)
