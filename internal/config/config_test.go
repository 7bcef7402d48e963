package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Engine)
	assert.Equal(t, 768, cfg.Storage.VectorDimension)
	assert.Equal(t, "", cfg.LLM.Provider, "no completion collaborator by default")
	assert.Equal(t, 0.5, cfg.Retrieval.SemanticWeight)
	assert.Equal(t, 0.3, cfg.Retrieval.ImportanceWeight)
	assert.Equal(t, 0.2, cfg.Retrieval.RecencyWeight)
	assert.True(t, cfg.Retrieval.BoostByImportance)
	assert.True(t, cfg.Retrieval.BoostByRecency)
	assert.Zero(t, cfg.Retrieval.MinImportance)
	assert.Equal(t, 8, cfg.Chunker.MaxTurnsPerChunk)
	assert.Equal(t, 0.3, cfg.Chunker.BaseImportance)
	assert.Equal(t, "extractive", cfg.Summary.Strategy)
	assert.Equal(t, 0.1, cfg.Session.DecayRatePerDay)
	assert.Equal(t, 3, cfg.Session.WelcomeSummaryMaxItems)
	assert.Equal(t, 30*time.Second, cfg.Session.AutoSaveInterval)
	assert.Equal(t, 4000, cfg.Assembler.MaxLength)
	assert.False(t, cfg.Assembler.IncludeMetadata)
	assert.Empty(t, cfg.Assembler.PrioritySourceTypes)
	assert.Equal(t, "24h", cfg.Backup.Interval)
	assert.True(t, cfg.Backup.Compress)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_STORAGE_ENGINE", "chromem")
	t.Setenv("RECALL_VECTOR_DIMENSION", "384")
	t.Setenv("RECALL_SEMANTIC_WEIGHT", "0.7")
	t.Setenv("RECALL_SUMMARY_ENABLE_LLM", "true")
	t.Setenv("RECALL_DECAY_INTERVAL", "30m")
	t.Setenv("RECALL_BOOST_BY_RECENCY", "false")
	t.Setenv("RECALL_RETRIEVAL_MIN_IMPORTANCE", "0.4")
	t.Setenv("RECALL_BASE_IMPORTANCE", "0.5")
	t.Setenv("RECALL_WELCOME_SUMMARY_MAX_ITEMS", "7")
	t.Setenv("RECALL_ASSEMBLER_INCLUDE_METADATA", "true")
	t.Setenv("RECALL_ASSEMBLER_PRIORITY_SOURCE_TYPES", "preference, fact")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "chromem", cfg.Storage.Engine)
	assert.Equal(t, 384, cfg.Storage.VectorDimension)
	assert.Equal(t, 0.7, cfg.Retrieval.SemanticWeight)
	assert.True(t, cfg.Summary.EnableLLM)
	assert.Equal(t, 30*time.Minute, cfg.Session.DecayInterval)
	assert.False(t, cfg.Retrieval.BoostByRecency)
	assert.Equal(t, 0.4, cfg.Retrieval.MinImportance)
	assert.Equal(t, 0.5, cfg.Chunker.BaseImportance)
	assert.Equal(t, 7, cfg.Session.WelcomeSummaryMaxItems)
	assert.True(t, cfg.Assembler.IncludeMetadata)
	assert.Equal(t, []string{"preference", "fact"}, cfg.Assembler.PrioritySourceTypes)
}

func TestLoadConfigUnparseableEnvFallsBack(t *testing.T) {
	t.Setenv("RECALL_VECTOR_DIMENSION", "not-a-number")
	t.Setenv("RECALL_SEMANTIC_WEIGHT", "wide")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 768, cfg.Storage.VectorDimension)
	assert.Equal(t, 0.5, cfg.Retrieval.SemanticWeight)
}

func TestLoadConfigRejectsUnknownEngine(t *testing.T) {
	t.Setenv("RECALL_STORAGE_ENGINE", "redis")
	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage engine")
}

func TestLoadConfigPostgresRequiresDSN(t *testing.T) {
	t.Setenv("RECALL_STORAGE_ENGINE", "postgres")
	t.Setenv("RECALL_POSTGRES_DSN", "")
	_, err := config.LoadConfig()
	require.Error(t, err)

	t.Setenv("RECALL_POSTGRES_DSN", "postgres://localhost/recall")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/recall", cfg.Storage.PostgresDSN)
}

func TestLoadConfigAnthropicRequiresKey(t *testing.T) {
	t.Setenv("RECALL_LLM_PROVIDER", "anthropic")
	t.Setenv("RECALL_ANTHROPIC_API_KEY", "")
	_, err := config.LoadConfig()
	require.Error(t, err)

	t.Setenv("RECALL_ANTHROPIC_API_KEY", "sk-test")
	_, err = config.LoadConfig()
	require.NoError(t, err)
}

func TestLoadConfigRejectsInvalidInterval(t *testing.T) {
	t.Setenv("RECALL_BACKUP_INTERVAL", "fortnightly")
	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup interval")
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: chromem
  vector_dimension: 384
retrieval:
  semantic_weight: 0.6
  importance_weight: 0.2
  recency_weight: 0.2
summary:
  strategy: hybrid
`), 0o644))

	cfg, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "chromem", cfg.Storage.Engine)
	assert.Equal(t, 384, cfg.Storage.VectorDimension)
	assert.Equal(t, 0.6, cfg.Retrieval.SemanticWeight)
	assert.Equal(t, "hybrid", cfg.Summary.Strategy)

	// Settings the file does not mention keep their defaults.
	assert.Equal(t, 8, cfg.Chunker.MaxTurnsPerChunk)
	assert.Equal(t, "24h", cfg.Backup.Interval)
}

func TestLoadConfigFromFileEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: chromem
`), 0o644))

	t.Setenv("RECALL_STORAGE_ENGINE", "memory")
	cfg, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Engine)
}

func TestLoadConfigFromFileMissing(t *testing.T) {
	_, err := config.LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
