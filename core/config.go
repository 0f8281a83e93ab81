package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CheckpointMode selects the checkpoint backend at startup.
type CheckpointMode string

const (
	// CheckpointModeMemory keeps checkpoints in process memory (dev/test).
	CheckpointModeMemory CheckpointMode = "memory"
	// CheckpointModeDynamoDB persists checkpoints durably.
	CheckpointModeDynamoDB CheckpointMode = "dynamodb"
)

// TierModels maps model tiers to concrete model identifiers.
type TierModels struct {
	Fast         string `yaml:"fast"`
	Balanced     string `yaml:"balanced"`
	HighCapacity string `yaml:"high_capacity"`
}

// OpsTables names the operational-data tables the analyzers read.
type OpsTables struct {
	Flights     string `yaml:"flights"`
	Crew        string `yaml:"crew"`
	Aircraft    string `yaml:"aircraft"`
	Bookings    string `yaml:"bookings"`
	Cargo       string `yaml:"cargo"`
	Connections string `yaml:"connections"`
}

// Config carries every startup-time knob of the engine.
type Config struct {
	Region string `yaml:"region"`

	CheckpointMode   CheckpointMode `yaml:"checkpoint_mode"`
	CheckpointTable  string         `yaml:"checkpoint_table"`
	CheckpointBucket string         `yaml:"checkpoint_bucket"`
	DecisionBuckets  []string       `yaml:"decision_buckets"`

	OpsTables OpsTables  `yaml:"ops_tables"`
	Models    TierModels `yaml:"models"`

	// Per-agent supervisor deadlines.
	SafetyDeadline   time.Duration `yaml:"safety_deadline"`
	BusinessDeadline time.Duration `yaml:"business_deadline"`

	// End-to-end soft budget for a typical disruption. Informational:
	// the hard bound is the sum of per-phase maxima.
	SoftBudget time.Duration `yaml:"soft_budget"`

	CheckpointTTL    time.Duration `yaml:"checkpoint_ttl"`
	BatchSize        int           `yaml:"batch_size"`
	InlineLimitBytes int           `yaml:"inline_limit_bytes"`

	// Optional knowledge base for arbitration grounding. Empty disables
	// retrieval.
	KnowledgeBaseID string `yaml:"knowledge_base_id"`

	HistorySize int `yaml:"history_size"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Region:           "us-east-1",
		CheckpointMode:   CheckpointModeMemory,
		CheckpointTable:  "irops-checkpoints",
		CheckpointBucket: "irops-checkpoint-payloads",
		DecisionBuckets:  []string{"irops-decisions"},
		OpsTables: OpsTables{
			Flights:     "ops-flights",
			Crew:        "ops-crew-rosters",
			Aircraft:    "ops-aircraft-status",
			Bookings:    "ops-bookings",
			Cargo:       "ops-cargo-manifests",
			Connections: "ops-connections",
		},
		Models: TierModels{
			Fast:         "anthropic.claude-3-haiku-20240307-v1:0",
			Balanced:     "anthropic.claude-3-5-sonnet-20241022-v2:0",
			HighCapacity: "anthropic.claude-3-5-sonnet-20241022-v2:0",
		},
		SafetyDeadline:   60 * time.Second,
		BusinessDeadline: 45 * time.Second,
		SoftBudget:       30 * time.Second,
		CheckpointTTL:    90 * 24 * time.Hour,
		BatchSize:        100,
		InlineLimitBytes: 350 * 1024,
		HistorySize:      100,
	}
}

// LoadConfig reads a YAML config file when path is non-empty, then applies
// IROPS_* environment overrides on top. Missing file is an error; empty
// path means defaults + environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("IROPS_REGION"); v != "" {
		c.Region = v
	}
	if v := os.Getenv("IROPS_CHECKPOINT_MODE"); v != "" {
		c.CheckpointMode = CheckpointMode(v)
	}
	if v := os.Getenv("IROPS_CHECKPOINT_TABLE"); v != "" {
		c.CheckpointTable = v
	}
	if v := os.Getenv("IROPS_CHECKPOINT_BUCKET"); v != "" {
		c.CheckpointBucket = v
	}
	if v := os.Getenv("IROPS_DECISION_BUCKETS"); v != "" {
		c.DecisionBuckets = splitAndTrim(v)
	}
	if v := os.Getenv("IROPS_KNOWLEDGE_BASE_ID"); v != "" {
		c.KnowledgeBaseID = v
	}
	if v := os.Getenv("IROPS_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BatchSize = n
		}
	}
	if v := os.Getenv("IROPS_CHECKPOINT_TTL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.CheckpointTTL = time.Duration(n) * 24 * time.Hour
		}
	}
	if v := os.Getenv("IROPS_MODEL_FAST"); v != "" {
		c.Models.Fast = v
	}
	if v := os.Getenv("IROPS_MODEL_BALANCED"); v != "" {
		c.Models.Balanced = v
	}
	if v := os.Getenv("IROPS_MODEL_HIGH_CAPACITY"); v != "" {
		c.Models.HighCapacity = v
	}
}

// Validate checks the configuration for startup-blocking mistakes.
func (c *Config) Validate() error {
	switch c.CheckpointMode {
	case CheckpointModeMemory, CheckpointModeDynamoDB:
	default:
		return fmt.Errorf("checkpoint_mode %q is not memory or dynamodb: %w", c.CheckpointMode, ErrInvalidRequest)
	}
	if c.CheckpointMode == CheckpointModeDynamoDB && c.CheckpointTable == "" {
		return fmt.Errorf("checkpoint_table required in dynamodb mode: %w", ErrInvalidRequest)
	}
	if len(c.DecisionBuckets) == 0 {
		return fmt.Errorf("at least one decision bucket required: %w", ErrInvalidRequest)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive: %w", ErrInvalidRequest)
	}
	if c.InlineLimitBytes <= 0 {
		return fmt.Errorf("inline_limit_bytes must be positive: %w", ErrInvalidRequest)
	}
	return nil
}

// ModelFor resolves the model identifier for a tier.
func (c *Config) ModelFor(tier ModelTier) string {
	switch tier {
	case TierFast:
		return c.Models.Fast
	case TierBalanced:
		return c.Models.Balanced
	default:
		return c.Models.HighCapacity
	}
}

// DeadlineFor returns the supervisor deadline for an analyzer.
func (c *Config) DeadlineFor(agentName string) time.Duration {
	if IsSafetyAgent(agentName) {
		return c.SafetyDeadline
	}
	return c.BusinessDeadline
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
