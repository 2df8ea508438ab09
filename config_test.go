package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"docqa/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "doc_", cfg.QdrantCollectionPrefix)
	assert.Equal(t, 20, cfg.TopKRetrieval)
	assert.Equal(t, 6, cfg.TopKRerank)
	assert.True(t, cfg.EnableNeighborExpansion)
	assert.Equal(t, 4, cfg.NeighborExpansionWindow)
	assert.False(t, cfg.UseLLMMetadataExtraction)
	assert.Equal(t, 10*time.Second, cfg.WorkerCheckInterval)
	assert.Equal(t, 60*time.Second, cfg.ZoteroPollInterval)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TOP_K_RETRIEVAL", "33")
	t.Setenv("ENABLE_NEIGHBOR_EXPANSION", "false")
	t.Setenv("LLM_TIMEOUT", "90s")
	t.Setenv("WORKER_CHECK_INTERVAL", "5")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, 33, cfg.TopKRetrieval)
	assert.False(t, cfg.EnableNeighborExpansion)
	assert.Equal(t, 90*time.Second, cfg.LLMTimeout)
	// Bare numbers are treated as seconds.
	assert.Equal(t, 5*time.Second, cfg.WorkerCheckInterval)
}

func TestLoadConfigYAMLOverridesAndUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("top_k_rerank: 9\nsome_unknown_key: whatever\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.TopKRerank)
}

func TestActiveProviderSelection(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "", cfg.LLMProvider)
	assert.Equal(t, "sk-test", cfg.AnthropicAPIKey)
	assert.Equal(t, "anthropic", llm.Config{
		Provider:        cfg.LLMProvider,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
	}.ActiveProvider())
}
