package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CheckpointModeMemory, cfg.CheckpointMode)
	assert.Equal(t, 60*time.Second, cfg.DeadlineFor(AgentMaintenance))
	assert.Equal(t, 45*time.Second, cfg.DeadlineFor(AgentCargo))
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irops.yaml")
	content := `
checkpoint_mode: dynamodb
checkpoint_table: prod-checkpoints
region: eu-west-1
decision_buckets: [primary, archive]
ops_tables:
  flights: prod-flights
models:
  fast: model-fast
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, CheckpointModeDynamoDB, cfg.CheckpointMode)
	assert.Equal(t, "prod-checkpoints", cfg.CheckpointTable)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, []string{"primary", "archive"}, cfg.DecisionBuckets)
	assert.Equal(t, "prod-flights", cfg.OpsTables.Flights)
	assert.Equal(t, "model-fast", cfg.Models.Fast)
	// Untouched fields keep their defaults.
	assert.Equal(t, "ops-crew-rosters", cfg.OpsTables.Crew)
	assert.Equal(t, 100, cfg.BatchSize)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("IROPS_CHECKPOINT_MODE", "dynamodb")
	t.Setenv("IROPS_CHECKPOINT_TABLE", "env-table")
	t.Setenv("IROPS_DECISION_BUCKETS", " a , b ,")
	t.Setenv("IROPS_BATCH_SIZE", "25")
	t.Setenv("IROPS_CHECKPOINT_TTL_DAYS", "30")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, CheckpointModeDynamoDB, cfg.CheckpointMode)
	assert.Equal(t, "env-table", cfg.CheckpointTable)
	assert.Equal(t, []string{"a", "b"}, cfg.DecisionBuckets)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 30*24*time.Hour, cfg.CheckpointTTL)
}

func TestConfigValidateRejections(t *testing.T) {
	t.Run("unknown checkpoint mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CheckpointMode = "redis"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidRequest)
	})

	t.Run("dynamodb mode needs a table", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CheckpointMode = CheckpointModeDynamoDB
		cfg.CheckpointTable = ""
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidRequest)
	})

	t.Run("decision buckets required", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DecisionBuckets = nil
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidRequest)
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestModelFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models = TierModels{Fast: "f", Balanced: "b", HighCapacity: "h"}
	assert.Equal(t, "f", cfg.ModelFor(TierFast))
	assert.Equal(t, "b", cfg.ModelFor(TierBalanced))
	assert.Equal(t, "h", cfg.ModelFor(TierHighCapacity))
}
