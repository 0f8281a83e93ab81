package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/resilience"
)

type converseCall struct {
	modelID string
	prompt  string
}

// fakeConverse returns scripted errors first, then a fixed text response.
type fakeConverse struct {
	errs  []error
	text  string
	calls []converseCall
}

func (f *fakeConverse) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	var prompt string
	if len(params.Messages) > 0 && len(params.Messages[0].Content) > 0 {
		if text, ok := params.Messages[0].Content[0].(*types.ContentBlockMemberText); ok {
			prompt = text.Value
		}
	}
	f.calls = append(f.calls, converseCall{modelID: aws.ToString(params.ModelId), prompt: prompt})

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: f.text},
				},
			},
		},
	}, nil
}

func testModels() core.TierModels {
	return core.TierModels{Fast: "model-fast", Balanced: "model-balanced", HighCapacity: "model-high"}
}

func quickRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestCompleteRoutesByTier(t *testing.T) {
	client := &fakeConverse{text: `{"ok": true}`}
	g := NewBedrockGateway(client, testModels(), WithBedrockRetry(quickRetry()))

	raw, err := g.Complete(context.Background(), "analyze this disruption", "", core.TierFast)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))

	_, err = g.Complete(context.Background(), "arbitrate", "", core.TierHighCapacity)
	require.NoError(t, err)

	require.Len(t, client.calls, 2)
	assert.Equal(t, "model-fast", client.calls[0].modelID)
	assert.Equal(t, "model-high", client.calls[1].modelID)
}

func TestCompleteAppendsSchema(t *testing.T) {
	client := &fakeConverse{text: `{"ok": true}`}
	g := NewBedrockGateway(client, testModels(), WithBedrockRetry(quickRetry()))

	_, err := g.Complete(context.Background(), "the prompt", `{"ok": "boolean"}`, core.TierBalanced)
	require.NoError(t, err)

	require.Len(t, client.calls, 1)
	assert.Contains(t, client.calls[0].prompt, "the prompt")
	assert.Contains(t, client.calls[0].prompt, `{"ok": "boolean"}`)
}

func TestCompleteRetriesThrottling(t *testing.T) {
	client := &fakeConverse{
		errs: []error{&types.ThrottlingException{Message: aws.String("slow down")}},
		text: `{"ok": true}`,
	}
	g := NewBedrockGateway(client, testModels(), WithBedrockRetry(quickRetry()))

	raw, err := g.Complete(context.Background(), "analyze", "", core.TierFast)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
	assert.Len(t, client.calls, 2)
}

func TestCompleteDoesNotRetryHardErrors(t *testing.T) {
	client := &fakeConverse{
		errs: []error{&types.ValidationException{Message: aws.String("bad model id")}},
		text: `{"ok": true}`,
	}
	g := NewBedrockGateway(client, testModels(), WithBedrockRetry(quickRetry()))

	_, err := g.Complete(context.Background(), "analyze", "", core.TierFast)
	require.Error(t, err)
	assert.Len(t, client.calls, 1)
}

func TestCompleteExhaustsRetries(t *testing.T) {
	throttle := func() error { return &types.ThrottlingException{Message: aws.String("slow down")} }
	client := &fakeConverse{
		errs: []error{throttle(), throttle(), throttle()},
		text: `{"ok": true}`,
	}
	g := NewBedrockGateway(client, testModels(), WithBedrockRetry(quickRetry()))

	_, err := g.Complete(context.Background(), "analyze", "", core.TierFast)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMaxRetriesExceeded)
	assert.Len(t, client.calls, 3)
}

func TestCompleteExtractsFencedJSON(t *testing.T) {
	client := &fakeConverse{text: "Here is the analysis:\n```json\n{\"recommendation\": \"swap\"}\n```"}
	g := NewBedrockGateway(client, testModels(), WithBedrockRetry(quickRetry()))

	raw, err := g.Complete(context.Background(), "analyze", "", core.TierFast)
	require.NoError(t, err)
	assert.JSONEq(t, `{"recommendation": "swap"}`, string(raw))
}

func TestCompleteRejectsNonJSONResponse(t *testing.T) {
	client := &fakeConverse{text: "I am unable to help with that."}
	g := NewBedrockGateway(client, testModels(), WithBedrockRetry(quickRetry()))

	_, err := g.Complete(context.Background(), "analyze", "", core.TierFast)
	assert.Error(t, err)
}

func TestCompleteCircuitBreakerOpens(t *testing.T) {
	var errs []error
	for i := 0; i < 10; i++ {
		errs = append(errs, &types.ServiceUnavailableException{Message: aws.String("down")})
	}
	client := &fakeConverse{errs: errs, text: `{"ok": true}`}
	g := NewBedrockGateway(client, testModels(), WithBedrockRetry(quickRetry()))

	_, err := g.Complete(context.Background(), "analyze", "", core.TierFast)
	require.Error(t, err)
	_, err = g.Complete(context.Background(), "analyze", "", core.TierFast)
	require.Error(t, err)

	// 5 consecutive failures opened the breaker; later attempts fail fast
	// without reaching the client.
	_, err = g.Complete(context.Background(), "analyze", "", core.TierFast)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMaxRetriesExceeded)
	assert.Len(t, client.calls, 5)
}

func TestScriptedGatewayRules(t *testing.T) {
	g := NewScriptedGateway().
		Respond("arbitrator", `{"role": "arbitrator"}`).
		RespondDefault(`{"role": "analyzer"}`)

	raw, err := g.Complete(context.Background(), "You are the arbitrator of the engine", "", core.TierHighCapacity)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": "arbitrator"}`, string(raw))

	raw, err = g.Complete(context.Background(), "You are the cargo analyzer", "", core.TierFast)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": "analyzer"}`, string(raw))

	calls := g.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, core.TierHighCapacity, calls[0].Tier)

	g.FailWith(errors.New("boom"))
	_, err = g.Complete(context.Background(), "anything", "", core.TierFast)
	assert.Error(t, err)
}
