// Package model wraps the language-model inference service behind a
// structured-output gateway. The engine treats the model as an opaque
// callable: prompt in, schema-conforming JSON out.
package model

import (
	"context"
	"encoding/json"

	"github.com/skyops-ai/irops/core"
)

// Gateway is the engine's only interface to the language model. Callers
// supply the target JSON schema as prompt material; the gateway returns the
// raw JSON value extracted from the model output. Transient errors are
// retried inside the gateway; hard failures surface as errors.
type Gateway interface {
	// Complete sends the prompt to the model for the given tier and
	// returns the structured JSON value from the response.
	Complete(ctx context.Context, prompt, schema string, tier core.ModelTier) (json.RawMessage, error)

	// ModelID reports which concrete model serves a tier, for audit
	// trails (ArbitratorOutput.model_used).
	ModelID(tier core.ModelTier) string
}
