// Package retrieval fetches reference passages (operating procedures, past
// disruption playbooks) for the arbitrator. Retrieval is strictly optional:
// callers treat failures as an empty result.
package retrieval

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/skyops-ai/irops/core"
)

// Passage is one retrieved reference snippet.
type Passage struct {
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Client retrieves reference passages for a query.
type Client interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}

// RetrieveAPI is the slice of the Bedrock agent runtime client we use.
type RetrieveAPI interface {
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// KnowledgeBase is the Bedrock knowledge-base implementation of Client.
type KnowledgeBase struct {
	client          RetrieveAPI
	knowledgeBaseID string
	maxResults      int32
}

// NewKnowledgeBase creates a retrieval client over a Bedrock knowledge base.
func NewKnowledgeBase(client RetrieveAPI, knowledgeBaseID string) *KnowledgeBase {
	return &KnowledgeBase{
		client:          client,
		knowledgeBaseID: knowledgeBaseID,
		maxResults:      5,
	}
}

// Retrieve implements Client.
func (k *KnowledgeBase) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	if k.knowledgeBaseID == "" {
		return nil, fmt.Errorf("knowledge base id not configured: %w", core.ErrInvalidRequest)
	}

	output, err := k.client.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(k.knowledgeBaseID),
		RetrievalQuery: &agenttypes.KnowledgeBaseQuery{
			Text: aws.String(query),
		},
		RetrievalConfiguration: &agenttypes.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &agenttypes.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(k.maxResults),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge base retrieve failed: %w", err)
	}

	passages := make([]Passage, 0, len(output.RetrievalResults))
	for _, result := range output.RetrievalResults {
		p := Passage{}
		if result.Content != nil {
			p.Content = aws.ToString(result.Content.Text)
		}
		if result.Location != nil && result.Location.S3Location != nil {
			p.Source = aws.ToString(result.Location.S3Location.Uri)
		}
		if result.Score != nil {
			p.Score = *result.Score
		}
		if p.Content != "" {
			passages = append(passages, p)
		}
	}
	return passages, nil
}

var _ Client = (*KnowledgeBase)(nil)

// Static is a fixed-passage Client for tests and offline runs.
type Static struct {
	Passages []Passage
	Err      error
}

// Retrieve implements Client.
func (s *Static) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Passages, nil
}

var _ Client = (*Static)(nil)
