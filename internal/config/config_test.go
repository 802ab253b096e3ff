package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Host:            "127.0.0.1",
		Port:            8080,
		BackendType:     BackendOpenAICompatible,
		BackendEndpoint: "http://127.0.0.1:8000/v1",
		BackendAPIKey:   "test-key",
		BackendModel:    "local-model",
	}

	err := manager.Save(cfg)
	require.NoError(t, err, "should be able to save config")

	assert.True(t, manager.Exists(), "config file should exist after saving")

	loadedCfg, err := manager.Load()
	require.NoError(t, err, "should be able to load config")

	assert.Equal(t, cfg.Host, loadedCfg.Host, "host should match")
	assert.Equal(t, cfg.Port, loadedCfg.Port, "port should match")
	assert.Equal(t, cfg.BackendAPIKey, loadedCfg.BackendAPIKey, "backend API key should match")
	assert.Equal(t, cfg.BackendEndpoint, loadedCfg.BackendEndpoint, "backend endpoint should match")
	assert.Equal(t, cfg.BackendModel, loadedCfg.BackendModel, "backend model should match")
}

func TestConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		BackendEndpoint: "http://127.0.0.1:8000/v1",
	}

	err := manager.Save(cfg)
	require.NoError(t, err)

	loadedCfg, err := manager.Load()
	require.NoError(t, err, "should be able to load config")

	assert.Equal(t, DefaultPort, loadedCfg.Port, "should apply default port")
	assert.Equal(t, DefaultHost, loadedCfg.Host, "should apply default host")
	assert.Equal(t, BackendOpenAICompatible, loadedCfg.BackendType, "should default to openai-compatible backend")
	assert.Equal(t, DefaultMaxToolIters, loadedCfg.MaxToolIterations, "should apply default iteration bound")
	assert.Equal(t, DefaultToolLoopTimeout, loadedCfg.ToolLoopTimeout, "should apply default tool loop timeout")
	assert.Empty(t, loadedCfg.RAG.BaseURL, "RAG should stay unattached without a configured base URL")
}

func TestConfig_RAGDefaultsOnlyAppliedWhenAttached(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{RAG: RAGConfig{BaseURL: "https://docs.example.com"}}
	require.NoError(t, manager.Save(cfg))

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultUpdateInterval, loaded.RAG.UpdateInterval)
	assert.Equal(t, DefaultChildTokens, loaded.RAG.ChildChunkTokens)
	assert.Equal(t, DefaultLexicalWeight, loaded.RAG.HybridLexicalWeight)
	assert.Equal(t, DefaultSemanticWeight, loaded.RAG.HybridSemanticWeight)
}

func TestConfig_RAGUpdateIntervalFloorsToMinimum(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{RAG: RAGConfig{BaseURL: "https://docs.example.com", UpdateInterval: time.Minute}}
	require.NoError(t, manager.Save(cfg))

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultMinUpdateInt, loaded.RAG.UpdateInterval, "update interval should be floored to the minimum")
}

func TestConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	configPath := filepath.Join(tmpDir, DefaultConfigFilename)
	os.WriteFile(configPath, []byte("invalid json"), 0644)

	_, err := manager.Load()
	assert.Error(t, err, "should get error when loading invalid JSON")
}

func TestConfig_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	_, err := manager.Load()
	assert.Error(t, err, "should get error when loading non-existent file")

	assert.False(t, manager.Exists(), "non-existent config should not exist")
}

func TestConfig_GetWithoutLoad(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := manager.Get()
	assert.NotNil(t, cfg, "should not return nil config")
	assert.Equal(t, DefaultPort, cfg.Port, "should return default port")
	assert.Equal(t, DefaultHost, cfg.Host, "should return default host")
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"BIND_HOST":           "0.0.0.0",
		"BIND_PORT":           "9090",
		"BACKEND_API_KEY":     "env-key",
		"BACKEND_TYPE":        "native",
		"BACKEND_ENDPOINT":    "http://backend.internal",
		"MAX_TOOL_ITERATIONS": "3",
		"BASE_URL":            "https://docs.example.com",
		"RERANK_ENABLED":      "true",
	}
	cfg := FromEnv(func(k string) string { return env[k] })

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "env-key", cfg.BackendAPIKey)
	assert.Equal(t, BackendNative, cfg.BackendType)
	assert.Equal(t, "http://backend.internal", cfg.BackendEndpoint)
	assert.Equal(t, 3, cfg.MaxToolIterations)
	assert.Equal(t, "https://docs.example.com", cfg.RAG.BaseURL)
	assert.True(t, cfg.RAG.RerankEnabled)
	assert.Equal(t, DefaultUpdateInterval, cfg.RAG.UpdateInterval, "unset RAG durations still get defaults once attached")
}

func TestNonLoopbackWarning(t *testing.T) {
	assert.Empty(t, NonLoopbackWarning("127.0.0.1"))
	assert.Empty(t, NonLoopbackWarning(""))
	assert.NotEmpty(t, NonLoopbackWarning("0.0.0.0"))
}
