package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/resilience"
)

// DefaultInlineLimit is the serialized-state size at which payloads move to
// the object store.
const DefaultInlineLimit = 350 * 1024

// metadataRetries bounds the reload-merge cycle on the per-thread metadata
// item before giving up with core.ErrConflict.
const metadataRetries = 3

const (
	pkPrefix   = "THREAD#"
	skPrefix   = "CHECKPOINT#"
	skMetadata = "METADATA"
)

// DynamoDBAPI is the slice of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore is the durable checkpoint backend. Checkpoint items are
// write-once (the sort key embeds the timestamp); the contended per-thread
// METADATA item uses version-conditioned writes. Failed writes degrade into
// an in-memory shadow that reads consult for the remainder of the process.
type DynamoStore struct {
	client      DynamoDBAPI
	objects     ObjectStore
	table       string
	ttl         time.Duration
	inlineLimit int
	retry       *resilience.RetryConfig

	logger    core.Logger
	telemetry core.Telemetry
	now       func() time.Time

	shadowMu sync.RWMutex
	shadow   map[string][]Record
}

// DynamoOption configures a DynamoStore.
type DynamoOption func(*DynamoStore)

// WithTTL overrides the checkpoint retention window (default 90 days).
func WithTTL(ttl time.Duration) DynamoOption {
	return func(s *DynamoStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithInlineLimit overrides the serialized size at which payloads off-load.
func WithInlineLimit(limit int) DynamoOption {
	return func(s *DynamoStore) {
		if limit > 0 {
			s.inlineLimit = limit
		}
	}
}

// WithWriteRetry overrides the durable-write retry policy.
func WithWriteRetry(cfg *resilience.RetryConfig) DynamoOption {
	return func(s *DynamoStore) {
		if cfg != nil {
			s.retry = cfg
		}
	}
}

// WithStoreLogger injects a logger.
func WithStoreLogger(logger core.Logger) DynamoOption {
	return func(s *DynamoStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreTelemetry injects a telemetry provider.
func WithStoreTelemetry(t core.Telemetry) DynamoOption {
	return func(s *DynamoStore) {
		if t != nil {
			s.telemetry = t
		}
	}
}

// NewDynamoStore creates the durable store over a DynamoDB table and an
// object store for off-loaded payloads.
func NewDynamoStore(client DynamoDBAPI, objects ObjectStore, table string, opts ...DynamoOption) *DynamoStore {
	s := &DynamoStore{
		client:      client,
		objects:     objects,
		table:       table,
		ttl:         90 * 24 * time.Hour,
		inlineLimit: DefaultInlineLimit,
		retry:       resilience.CheckpointWriteRetryConfig(),
		logger:      &core.NoOpLogger{},
		telemetry:   &core.NoOpTelemetry{},
		now:         time.Now,
		shadow:      make(map[string][]Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkpointItem is the DynamoDB shape of a Record.
type checkpointItem struct {
	PK           string            `dynamodbav:"PK"`
	SK           string            `dynamodbav:"SK"`
	Thread       string            `dynamodbav:"thread"`
	CheckpointID string            `dynamodbav:"checkpoint_id"`
	Timestamp    string            `dynamodbav:"timestamp"`
	State        string            `dynamodbav:"state,omitempty"`
	StateRef     string            `dynamodbav:"state_ref,omitempty"`
	Metadata     map[string]string `dynamodbav:"metadata,omitempty"`
	ExpiresAt    int64             `dynamodbav:"expires_at"`
}

// metadataItem is the DynamoDB shape of the per-thread summary.
type metadataItem struct {
	PK              string            `dynamodbav:"PK"`
	SK              string            `dynamodbav:"SK"`
	Thread          string            `dynamodbav:"thread"`
	Status          string            `dynamodbav:"status"`
	CheckpointCount int               `dynamodbav:"checkpoint_count"`
	LastCheckpoint  string            `dynamodbav:"last_checkpoint"`
	LastError       string            `dynamodbav:"last_error,omitempty"`
	UpdatedAt       string            `dynamodbav:"updated_at"`
	Fields          map[string]string `dynamodbav:"fields,omitempty"`
	ExpiresAt       int64             `dynamodbav:"expires_at"`
	Version         int64             `dynamodbav:"version"`
}

func threadPK(thread string) string { return pkPrefix + thread }

func checkpointSK(checkpointID string, ts time.Time) string {
	return fmt.Sprintf("%s%s#%s", skPrefix, checkpointID, ts.Format(time.RFC3339Nano))
}

// ObjectKey reports where an off-loaded payload lives in the object store.
func ObjectKey(thread, checkpointID string) string {
	return fmt.Sprintf("checkpoints/%s/%s.json", thread, checkpointID)
}

// Save implements Store. Payloads at or above the inline limit go to the
// object store first; the durable item then carries only the reference.
// When every durable attempt fails the record is parked in the shadow and
// the call reports SaveDegraded without an error.
func (s *DynamoStore) Save(ctx context.Context, thread, checkpointID string, state interface{}, metadata map[string]string) (SaveStatus, error) {
	ctx, span := s.telemetry.StartSpan(ctx, "checkpoint.save")
	defer span.End()
	span.SetAttribute("checkpoint.thread", thread)
	span.SetAttribute("checkpoint.id", checkpointID)

	if thread == "" || checkpointID == "" {
		return "", fmt.Errorf("thread and checkpoint id are required: %w", core.ErrInvalidRequest)
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to serialize checkpoint state: %w", err)
	}
	span.SetAttribute("checkpoint.state_bytes", len(payload))

	now := s.now().UTC()
	record := Record{
		Thread:       thread,
		CheckpointID: checkpointID,
		Timestamp:    now,
		State:        payload,
		Metadata:     copyMetadata(metadata),
		ExpiresAt:    now.Add(s.ttl),
	}

	item := checkpointItem{
		PK:           threadPK(thread),
		SK:           checkpointSK(checkpointID, now),
		Thread:       thread,
		CheckpointID: checkpointID,
		Timestamp:    now.Format(time.RFC3339Nano),
		Metadata:     metadata,
		ExpiresAt:    record.ExpiresAt.Unix(),
	}

	if len(payload) >= s.inlineLimit {
		key := ObjectKey(thread, checkpointID)
		err := resilience.Retry(ctx, s.retry, func() error {
			return s.objects.Put(ctx, key, payload, map[string]string{
				"thread":        thread,
				"checkpoint-id": checkpointID,
			})
		})
		if err != nil {
			return s.degrade(thread, record, fmt.Errorf("payload off-load failed: %w", err))
		}
		item.StateRef = key
		record.StateRef = key
		record.State = nil
		span.SetAttribute("checkpoint.offloaded", true)
	} else {
		item.State = string(payload)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint item: %w", err)
	}

	err = resilience.Retry(ctx, s.retry, func() error {
		_, putErr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      av,
		})
		return putErr
	})
	if err != nil {
		return s.degrade(thread, record, err)
	}

	if err := s.updateMetadata(ctx, thread, checkpointID, metadata, now); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return "", err
		}
		// Summary-item failures never outrank a landed checkpoint.
		s.logger.Warn("Thread metadata update failed", map[string]interface{}{
			"operation": "checkpoint_save",
			"thread":    thread,
			"error":     err.Error(),
		})
	}

	return SaveOK, nil
}

// degrade parks a record in the in-memory shadow after durable writes were
// exhausted. Reads on this process still see it.
func (s *DynamoStore) degrade(thread string, record Record, cause error) (SaveStatus, error) {
	s.logger.Error("Checkpoint write degraded to in-memory shadow", map[string]interface{}{
		"operation":  "checkpoint_save",
		"thread":     thread,
		"checkpoint": record.CheckpointID,
		"error":      cause.Error(),
	})
	s.telemetry.RecordMetric("checkpoint.degraded_saves", 1, map[string]string{
		"checkpoint": record.CheckpointID,
	})

	s.shadowMu.Lock()
	s.shadow[thread] = append(s.shadow[thread], record)
	s.shadowMu.Unlock()
	return SaveDegraded, nil
}

// updateMetadata merges this save into the per-thread METADATA item using a
// version-conditioned write. Losing the race reloads and retries; after
// metadataRetries losses the caller gets core.ErrConflict.
func (s *DynamoStore) updateMetadata(ctx context.Context, thread, checkpointID string, fields map[string]string, now time.Time) error {
	for attempt := 0; attempt < metadataRetries; attempt++ {
		current, err := s.loadMetadata(ctx, thread)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}

		next := metadataItem{
			PK:             threadPK(thread),
			SK:             skMetadata,
			Thread:         thread,
			Status:         "active",
			LastCheckpoint: checkpointID,
			UpdatedAt:      now.Format(time.RFC3339Nano),
			ExpiresAt:      now.Add(s.ttl).Unix(),
			Version:        1,
		}
		if current != nil {
			next.CheckpointCount = current.CheckpointCount
			next.Version = current.Version + 1
			next.Fields = copyMetadata(current.Fields)
		}
		next.CheckpointCount++
		if checkpointID == IDEnd {
			next.Status = "complete"
		} else if checkpointID == IDHalted {
			next.Status = "halted"
		}
		if len(fields) > 0 {
			if next.Fields == nil {
				next.Fields = make(map[string]string, len(fields))
			}
			for k, v := range fields {
				next.Fields[k] = v
			}
		}

		av, err := attributevalue.MarshalMap(next)
		if err != nil {
			return fmt.Errorf("failed to marshal thread metadata: %w", err)
		}

		input := &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      av,
		}
		if current == nil {
			input.ConditionExpression = aws.String("attribute_not_exists(PK)")
		} else {
			input.ConditionExpression = aws.String("version = :expected")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
			}
		}

		_, err = s.client.PutItem(ctx, input)
		if err == nil {
			return nil
		}
		var conditionFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &conditionFailed) {
			return fmt.Errorf("failed to write thread metadata: %w", err)
		}
		// Lost the version race; reload and merge again.
	}
	return fmt.Errorf("thread %s metadata contention: %w", thread, core.ErrConflict)
}

// loadMetadata reads the per-thread METADATA item.
func (s *DynamoStore) loadMetadata(ctx context.Context, thread string) (*metadataItem, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(thread)},
			"SK": &types.AttributeValueMemberS{Value: skMetadata},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read thread metadata: %w", err)
	}
	if len(output.Item) == 0 {
		return nil, core.ErrNotFound
	}
	var item metadataItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread metadata: %w", err)
	}
	return &item, nil
}

// Metadata returns the per-thread summary item.
func (s *DynamoStore) Metadata(ctx context.Context, thread string) (*ThreadMetadata, error) {
	item, err := s.loadMetadata(ctx, thread)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("thread %s metadata: %w", thread, core.ErrNotFound)
		}
		return nil, err
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, item.UpdatedAt)
	return &ThreadMetadata{
		Thread:          item.Thread,
		Status:          item.Status,
		CheckpointCount: item.CheckpointCount,
		LastCheckpoint:  item.LastCheckpoint,
		LastError:       item.LastError,
		UpdatedAt:       updatedAt,
		Fields:          copyMetadata(item.Fields),
		Version:         item.Version,
	}, nil
}

// Load implements Store. The shadow is consulted so a degraded save remains
// readable within this process; when both stores hold the checkpoint the
// newer timestamp wins.
func (s *DynamoStore) Load(ctx context.Context, thread, checkpointID string) (*Record, error) {
	ctx, span := s.telemetry.StartSpan(ctx, "checkpoint.load")
	defer span.End()
	span.SetAttribute("checkpoint.thread", thread)
	span.SetAttribute("checkpoint.id", checkpointID)

	durable, err := s.queryLatest(ctx, thread, checkpointID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		span.RecordError(err)
		return nil, err
	}

	shadowed := s.shadowLatest(thread, checkpointID)
	record := durable
	if record == nil || (shadowed != nil && shadowed.Timestamp.After(record.Timestamp)) {
		record = shadowed
	}
	if record == nil {
		return nil, fmt.Errorf("checkpoint %s/%s: %w", thread, checkpointID, core.ErrNotFound)
	}

	if record.StateRef != "" && len(record.State) == 0 {
		payload, err := s.objects.Get(ctx, record.StateRef)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to resolve off-loaded state %s: %w", record.StateRef, err)
		}
		record.State = payload
	}
	return record, nil
}

// queryLatest returns the newest durable checkpoint matching the id, or the
// newest on the thread when the id is empty. The sort key orders by
// checkpoint id before timestamp, so recency is decided here, not by the
// index.
func (s *DynamoStore) queryLatest(ctx context.Context, thread, checkpointID string) (*Record, error) {
	prefix := skPrefix
	if checkpointID != "" {
		prefix = skPrefix + checkpointID + "#"
	}

	var latest *Record
	var startKey map[string]types.AttributeValue
	for {
		output, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: threadPK(thread)},
				":sk": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query checkpoints for %s: %w", thread, err)
		}
		for _, item := range output.Items {
			record, err := unmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			if latest == nil || record.Timestamp.After(latest.Timestamp) {
				latest = record
			}
		}
		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		startKey = output.LastEvaluatedKey
	}
	if latest == nil {
		return nil, core.ErrNotFound
	}
	return latest, nil
}

// List implements Store. Durable records and shadow records are merged and
// returned ascending by timestamp.
func (s *DynamoStore) List(ctx context.Context, thread string) ([]Record, error) {
	var records []Record

	var startKey map[string]types.AttributeValue
	for {
		output, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: threadPK(thread)},
				":sk": &types.AttributeValueMemberS{Value: skPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list checkpoints for %s: %w", thread, err)
		}
		for _, item := range output.Items {
			record, err := unmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			records = append(records, *record)
		}
		if len(output.LastEvaluatedKey) == 0 {
			break
		}
		startKey = output.LastEvaluatedKey
	}

	s.shadowMu.RLock()
	for _, r := range s.shadow[thread] {
		records = append(records, copyRecord(r))
	}
	s.shadowMu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// shadowLatest returns the newest shadow record matching the id, if any.
func (s *DynamoStore) shadowLatest(thread, checkpointID string) *Record {
	s.shadowMu.RLock()
	defer s.shadowMu.RUnlock()

	records := s.shadow[thread]
	for i := len(records) - 1; i >= 0; i-- {
		if checkpointID == "" || records[i].CheckpointID == checkpointID {
			r := copyRecord(records[i])
			return &r
		}
	}
	return nil
}

func unmarshalRecord(item map[string]types.AttributeValue) (*Record, error) {
	var ci checkpointItem
	if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint item: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, ci.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("checkpoint item has invalid timestamp %q: %w", ci.Timestamp, err)
	}
	record := &Record{
		Thread:       ci.Thread,
		CheckpointID: ci.CheckpointID,
		Timestamp:    ts,
		StateRef:     ci.StateRef,
		Metadata:     ci.Metadata,
		ExpiresAt:    time.Unix(ci.ExpiresAt, 0).UTC(),
	}
	if ci.State != "" {
		record.State = json.RawMessage(ci.State)
	}
	return record, nil
}

var _ Store = (*DynamoStore)(nil)
