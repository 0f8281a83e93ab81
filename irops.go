// Package irops assembles the disruption-recovery engine from its parts:
// the seven-analyzer suite, the two-phase orchestrator, the arbitrator,
// checkpointed state, and the decision sink. Construction wires AWS-backed
// components by default; every seam accepts a replacement for tests and
// local runs.
package irops

import (
	"context"
	"fmt"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/skyops-ai/irops/analyzer"
	"github.com/skyops-ai/irops/arbitrator"
	"github.com/skyops-ai/irops/checkpoint"
	"github.com/skyops-ai/irops/core"
	"github.com/skyops-ai/irops/decision"
	"github.com/skyops-ai/irops/model"
	"github.com/skyops-ai/irops/opsdata"
	"github.com/skyops-ai/irops/orchestrator"
	"github.com/skyops-ai/irops/retrieval"
	"github.com/skyops-ai/irops/telemetry"
)

// System is the assembled engine plus the decision sink, ready to serve
// disruptions end to end.
type System struct {
	engine *orchestrator.Engine
	sink   *decision.Sink
	store  checkpoint.Store
	config *core.Config
	logger core.Logger
}

type options struct {
	gateway        model.Gateway
	store          checkpoint.Store
	retriever      retrieval.Client
	opsClient      opsdata.DynamoDBBatchAPI
	decisionClient decision.PutAPI
	logger         core.Logger
	telemetry      core.Telemetry
}

// Option customizes System construction.
type Option func(*options)

// WithGateway replaces the Bedrock-backed model gateway.
func WithGateway(g model.Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithCheckpointStore replaces the configured checkpoint backend.
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(o *options) { o.store = s }
}

// WithRetriever replaces the knowledge-base retrieval client.
func WithRetriever(r retrieval.Client) Option {
	return func(o *options) { o.retriever = r }
}

// WithOpsClient replaces the DynamoDB client the analyzers read from.
func WithOpsClient(c opsdata.DynamoDBBatchAPI) Option {
	return func(o *options) { o.opsClient = c }
}

// WithDecisionClient replaces the S3 client the decision sink writes with.
func WithDecisionClient(c decision.PutAPI) Option {
	return func(o *options) { o.decisionClient = c }
}

// WithLogger injects a logger shared by every component.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTelemetry injects a telemetry provider shared by every component.
func WithTelemetry(t core.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// New builds a System from the configuration. AWS clients are created only
// for the seams the options leave unfilled, so a fully-faked System never
// touches the AWS SDK credential chain.
func New(ctx context.Context, cfg *core.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger:    core.NewJSONLogger(),
		telemetry: telemetry.NewOTelTelemetry(),
	}
	for _, opt := range opts {
		opt(o)
	}

	aws := newLazyAWS(cfg.Region)

	store := o.store
	if store == nil {
		var err error
		store, err = buildStore(ctx, cfg, aws, o)
		if err != nil {
			return nil, err
		}
	}
	o.logger.Info("Checkpoint backend selected", map[string]interface{}{
		"operation": "startup",
		"mode":      string(cfg.CheckpointMode),
		"table":     cfg.CheckpointTable,
	})

	gateway := o.gateway
	if gateway == nil {
		awsCfg, err := aws.load(ctx)
		if err != nil {
			return nil, err
		}
		gateway = model.NewBedrockGateway(
			bedrockruntime.NewFromConfig(awsCfg), cfg.Models,
			model.WithBedrockLogger(o.logger),
			model.WithBedrockTelemetry(o.telemetry),
		)
	}

	opsClient := o.opsClient
	if opsClient == nil {
		awsCfg, err := aws.load(ctx)
		if err != nil {
			return nil, err
		}
		opsClient = dynamodb.NewFromConfig(awsCfg)
	}
	accessor := opsdata.NewAccessor(opsClient,
		opsdata.WithBatchSize(cfg.BatchSize),
		opsdata.WithAccessorLogger(o.logger),
		opsdata.WithAccessorTelemetry(o.telemetry),
	)

	arbOpts := []arbitrator.Option{
		arbitrator.WithLogger(o.logger),
		arbitrator.WithTelemetry(o.telemetry),
	}
	retriever := o.retriever
	if retriever == nil && cfg.KnowledgeBaseID != "" {
		awsCfg, err := aws.load(ctx)
		if err != nil {
			return nil, err
		}
		retriever = retrieval.NewKnowledgeBase(bedrockagentruntime.NewFromConfig(awsCfg), cfg.KnowledgeBaseID)
	}
	if retriever != nil {
		arbOpts = append(arbOpts, arbitrator.WithRetriever(retriever))
	}
	arb := arbitrator.New(gateway, arbOpts...)

	suite := analyzer.NewSuite(gateway, accessor, cfg.OpsTables, o.logger, o.telemetry)
	engine := orchestrator.NewEngine(suite, arb, store, cfg,
		orchestrator.WithEngineLogger(o.logger),
		orchestrator.WithEngineTelemetry(o.telemetry),
	)

	decisionClient := o.decisionClient
	if decisionClient == nil {
		awsCfg, err := aws.load(ctx)
		if err != nil {
			return nil, err
		}
		decisionClient = s3.NewFromConfig(awsCfg)
	}
	sink := decision.NewSink(store, decisionClient, cfg.DecisionBuckets,
		decision.WithSinkLogger(o.logger))

	return &System{
		engine: engine,
		sink:   sink,
		store:  store,
		config: cfg,
		logger: o.logger,
	}, nil
}

func buildStore(ctx context.Context, cfg *core.Config, aws *lazyAWS, o *options) (checkpoint.Store, error) {
	switch cfg.CheckpointMode {
	case core.CheckpointModeMemory:
		return checkpoint.NewMemoryStore(cfg.CheckpointTTL), nil
	case core.CheckpointModeDynamoDB:
		awsCfg, err := aws.load(ctx)
		if err != nil {
			return nil, err
		}
		objects := checkpoint.NewS3ObjectStore(s3.NewFromConfig(awsCfg), cfg.CheckpointBucket)
		return checkpoint.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), objects, cfg.CheckpointTable,
			checkpoint.WithTTL(cfg.CheckpointTTL),
			checkpoint.WithInlineLimit(cfg.InlineLimitBytes),
			checkpoint.WithStoreLogger(o.logger),
			checkpoint.WithStoreTelemetry(o.telemetry),
		), nil
	default:
		return nil, fmt.Errorf("checkpoint mode %q has no backend: %w", cfg.CheckpointMode, core.ErrInvalidRequest)
	}
}

// HandleDisruption runs the full three-phase flow for a disruption prompt.
func (s *System) HandleDisruption(ctx context.Context, prompt, continuationID string) (*orchestrator.Result, error) {
	return s.engine.HandleDisruption(ctx, prompt, continuationID)
}

// Resume continues an interrupted run from its last completed phase.
func (s *System) Resume(ctx context.Context, thread, prompt string) (*orchestrator.Result, error) {
	return s.engine.Resume(ctx, thread, prompt)
}

// Status reports a thread's progress from its checkpoint trail.
func (s *System) Status(ctx context.Context, thread string) (*orchestrator.Status, error) {
	return s.engine.Status(ctx, thread)
}

// RecordSelection persists the human's chosen solution for a disruption.
func (s *System) RecordSelection(ctx context.Context, disruptionID string, selectedID int, rationale string) (*decision.SelectionResult, error) {
	return s.sink.RecordSelection(ctx, disruptionID, selectedID, rationale)
}

// History returns recent runs, oldest first.
func (s *System) History() []orchestrator.ExecutionRecord {
	return s.engine.History()
}

// Store exposes the checkpoint backend for inspection tooling.
func (s *System) Store() checkpoint.Store { return s.store }

// lazyAWS loads the default AWS configuration at most once, and only when a
// real client is actually needed.
type lazyAWS struct {
	region string
	once   sync.Once
	cfg    awssdk.Config
	err    error
}

func newLazyAWS(region string) *lazyAWS {
	return &lazyAWS{region: region}
}

func (l *lazyAWS) load(ctx context.Context) (awssdk.Config, error) {
	l.once.Do(func() {
		l.cfg, l.err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(l.region))
		if l.err != nil {
			l.err = fmt.Errorf("failed to load AWS config: %w", l.err)
		}
	})
	return l.cfg, l.err
}
