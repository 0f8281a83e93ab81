// Package opsdata reads operational data (flights, rosters, aircraft
// status) from the keyed store. All analyzer reads go through the Accessor,
// which batches requests and retries partial returns.
package opsdata

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/skyops-ai/irops/core"
)

// DefaultBatchSize is the per-request key window.
const DefaultBatchSize = 100

// residualRetries bounds retries of unprocessed keys per window.
const residualRetries = 3

// Key identifies one item in a table.
type Key map[string]types.AttributeValue

// Item is one returned record.
type Item map[string]types.AttributeValue

// BatchResult carries everything a BatchGet produced. Items are unordered;
// callers match them back to keys. Unresolved holds keys the store never
// returned within the retry budget.
type BatchResult struct {
	Items      []Item
	Unresolved []Key
	// Requests counts how many BatchGetItem calls were issued, including
	// residual retries.
	Requests int
}

// DynamoDBBatchAPI is the slice of the DynamoDB client the accessor needs.
type DynamoDBBatchAPI interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// Accessor reads operational data in bounded batches. Safe for concurrent
// callers.
type Accessor struct {
	client    DynamoDBBatchAPI
	batchSize int

	logger    core.Logger
	telemetry core.Telemetry

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// AccessorOption configures an Accessor.
type AccessorOption func(*Accessor)

// WithBatchSize overrides the per-request key window (default 100).
func WithBatchSize(n int) AccessorOption {
	return func(a *Accessor) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithAccessorLogger injects a logger.
func WithAccessorLogger(logger core.Logger) AccessorOption {
	return func(a *Accessor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAccessorTelemetry injects a telemetry provider.
func WithAccessorTelemetry(t core.Telemetry) AccessorOption {
	return func(a *Accessor) {
		if t != nil {
			a.telemetry = t
		}
	}
}

// NewAccessor creates an Accessor over a DynamoDB client.
func NewAccessor(client DynamoDBBatchAPI, opts ...AccessorOption) *Accessor {
	a := &Accessor{
		client:    client,
		batchSize: DefaultBatchSize,
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BatchGet fetches the given keys from one table. Keys are split into
// windows of at most the batch size; unprocessed keys returned by the store
// are retried up to three times with exponential backoff (0.1 * 2^attempt
// seconds). Residual unresolved keys are reported on the result, never as
// an error. Transport errors from the store propagate.
func (a *Accessor) BatchGet(ctx context.Context, table string, keys []Key) (*BatchResult, error) {
	ctx, span := a.telemetry.StartSpan(ctx, "opsdata.batch_get")
	defer span.End()
	span.SetAttribute("table", table)
	span.SetAttribute("key_count", len(keys))

	result := &BatchResult{}
	if len(keys) == 0 {
		return result, nil
	}

	for start := 0; start < len(keys); start += a.batchSize {
		end := start + a.batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := a.getWindow(ctx, table, keys[start:end], result); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if len(result.Unresolved) > 0 {
		if a.logger != nil {
			a.logger.Warn("Batch read left unresolved keys", map[string]interface{}{
				"operation":       "batch_get",
				"table":           table,
				"requested_keys":  len(keys),
				"unresolved_keys": len(result.Unresolved),
			})
		}
		a.telemetry.RecordMetric("opsdata.unresolved_keys", float64(len(result.Unresolved)),
			map[string]string{"table": table})
	}

	span.SetAttribute("items_returned", len(result.Items))
	span.SetAttribute("requests_issued", result.Requests)
	return result, nil
}

// getWindow fetches one window of keys, retrying unprocessed keys.
func (a *Accessor) getWindow(ctx context.Context, table string, window []Key, result *BatchResult) error {
	pending := make([]map[string]types.AttributeValue, len(window))
	for i, k := range window {
		pending[i] = k
	}

	for attempt := 0; len(pending) > 0; attempt++ {
		if attempt > residualRetries {
			for _, k := range pending {
				result.Unresolved = append(result.Unresolved, Key(k))
			}
			return nil
		}
		if attempt > 0 {
			// 0.1 * 2^attempt seconds, per the store's throttling guidance.
			delay := time.Duration(float64(100*time.Millisecond) * float64(int(1)<<attempt))
			if err := a.sleep(ctx, delay); err != nil {
				return err
			}
		}

		input := &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				table: {Keys: pending},
			},
		}

		output, err := a.client.BatchGetItem(ctx, input)
		if err != nil {
			return fmt.Errorf("batch get on table %s failed: %w", table, err)
		}
		result.Requests++

		for _, item := range output.Responses[table] {
			result.Items = append(result.Items, Item(item))
		}

		pending = nil
		if unprocessed, ok := output.UnprocessedKeys[table]; ok {
			pending = unprocessed.Keys
		}
	}
	return nil
}

// GetItem is the single-key compatibility read: a BatchGet of one key.
// Returns core.ErrNotFound when the item does not exist.
func (a *Accessor) GetItem(ctx context.Context, table string, key Key) (Item, error) {
	result, err := a.BatchGet(ctx, table, []Key{key})
	if err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("item in table %s: %w", table, core.ErrNotFound)
	}
	return result.Items[0], nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
