// Package decision records the human's selection from the arbitrated
// solutions as a durable, queryable decision record.
package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/skyops-ai/irops/checkpoint"
	"github.com/skyops-ai/irops/core"
)

// Selection statuses.
const (
	StatusSuccess        = "SUCCESS"
	StatusPartialSuccess = "PARTIAL_SUCCESS"
)

// PutAPI is the slice of the S3 client the sink uses.
type PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SelectionResult reports where the decision record landed.
type SelectionResult struct {
	Status       string               `json:"status"`
	Key          string               `json:"key"`
	Record       *core.DecisionRecord `json:"record"`
	BucketStatus map[string]string    `json:"bucket_status"`
}

// Sink loads the arbitrated output for a disruption and persists the
// selected solution to every configured bucket.
type Sink struct {
	store   checkpoint.Store
	client  PutAPI
	buckets []string

	logger core.Logger
	now    func() time.Time
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithSinkLogger injects a logger.
func WithSinkLogger(logger core.Logger) SinkOption {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSink creates a decision sink writing to the given buckets.
func NewSink(store checkpoint.Store, client PutAPI, buckets []string, opts ...SinkOption) *Sink {
	s := &Sink{
		store:   store,
		client:  client,
		buckets: buckets,
		logger:  &core.NoOpLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordKey is where a disruption's decision record lives, with the date
// parts taken from the record timestamp.
func RecordKey(disruptionID string, ts time.Time) string {
	return fmt.Sprintf("decisions/%04d/%02d/%02d/%s.json", ts.Year(), int(ts.Month()), ts.Day(), disruptionID)
}

// RecordSelection persists the human's chosen solution. The disruption id
// is the orchestration thread. Unknown disruptions return core.ErrNotFound;
// a selected id outside the stored solutions returns core.ErrInvalidRequest.
// Bucket failures never stop the remaining writes; any failure downgrades
// the status to PARTIAL_SUCCESS.
func (s *Sink) RecordSelection(ctx context.Context, disruptionID string, selectedID int, rationale string) (*SelectionResult, error) {
	record, err := s.store.Load(ctx, disruptionID, checkpoint.IDPhase3Complete)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("no arbitrated output for disruption %s: %w", disruptionID, core.ErrNotFound)
		}
		return nil, err
	}

	var output core.ArbitratorOutput
	if err := record.Decode(&output); err != nil {
		return nil, fmt.Errorf("stored output for %s is unreadable: %w", disruptionID, err)
	}

	if selected := findSolution(&output, selectedID); selected == nil {
		return nil, fmt.Errorf("solution %d is not among the stored options for %s: %w",
			selectedID, disruptionID, core.ErrInvalidRequest)
	}

	decision := s.buildRecord(ctx, disruptionID, &output, selectedID, rationale)
	body, err := json.Marshal(decision)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize decision record: %w", err)
	}

	ts, _ := time.Parse(time.RFC3339, decision.Timestamp)
	key := RecordKey(disruptionID, ts)
	metadata := map[string]string{
		"disruption_type":   decision.DisruptionType,
		"flight_number":     decision.FlightNumber,
		"selected_solution": strconv.Itoa(decision.SelectedSolutionID),
		"human_override":    strconv.FormatBool(decision.HumanOverride),
	}

	result := &SelectionResult{
		Status:       StatusSuccess,
		Key:          key,
		Record:       decision,
		BucketStatus: make(map[string]string, len(s.buckets)),
	}
	for _, bucket := range s.buckets {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
			Metadata:    metadata,
		})
		if err != nil {
			result.Status = StatusPartialSuccess
			result.BucketStatus[bucket] = err.Error()
			s.logger.Error("Decision record write failed", map[string]interface{}{
				"operation":  "record_selection",
				"disruption": disruptionID,
				"bucket":     bucket,
				"error":      err.Error(),
			})
			continue
		}
		result.BucketStatus[bucket] = "ok"
	}

	s.logger.Info("Decision recorded", map[string]interface{}{
		"operation":      "record_selection",
		"disruption":     disruptionID,
		"selected":       selectedID,
		"human_override": decision.HumanOverride,
		"status":         result.Status,
	})
	return result, nil
}

// buildRecord assembles the DecisionRecord, pulling the classification tags
// from the start checkpoint and the agent responses from the revision
// collation when available.
func (s *Sink) buildRecord(ctx context.Context, disruptionID string, output *core.ArbitratorOutput, selectedID int, rationale string) *core.DecisionRecord {
	decision := &core.DecisionRecord{
		DisruptionID:          disruptionID,
		Timestamp:             s.now().UTC().Format(time.RFC3339),
		SolutionOptions:       output.SolutionOptions,
		RecommendedSolutionID: output.RecommendedSolutionID,
		SelectedSolutionID:    selectedID,
		SelectionRationale:    rationale,
		HumanOverride:         selectedID != output.RecommendedSolutionID,
	}

	if start, err := s.store.Load(ctx, disruptionID, checkpoint.IDStart); err == nil {
		decision.FlightNumber = start.Metadata["flight_number"]
		decision.DisruptionType = start.Metadata["disruption_type"]
		decision.DisruptionSeverity = start.Metadata["severity"]
	}
	if phase2, err := s.store.Load(ctx, disruptionID, checkpoint.IDPhase2Complete); err == nil {
		var collation core.Collation
		if err := phase2.Decode(&collation); err == nil {
			decision.AgentResponses = collation.Responses
		}
	}
	return decision
}

func findSolution(output *core.ArbitratorOutput, id int) *core.RecoverySolution {
	for i := range output.SolutionOptions {
		if output.SolutionOptions[i].SolutionID == id {
			return &output.SolutionOptions[i]
		}
	}
	return nil
}
