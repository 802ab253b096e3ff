package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_YAML_Support(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	yamlConfig := `
host: "0.0.0.0"
port: 8080
backend_type: "native"
backend_endpoint: "http://127.0.0.1:8000"
backend_api_key: "test-backend-key"
backend_model: "local-model"
max_tool_iterations: 7
rag:
  base_url: "https://docs.example.com"
  search_top_k: 5
`

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	err := os.WriteFile(yamlPath, []byte(yamlConfig), 0644)
	require.NoError(t, err)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "test-backend-key", cfg.BackendAPIKey)
	assert.Equal(t, BackendType("native"), cfg.BackendType)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.BackendEndpoint)
	assert.Equal(t, "local-model", cfg.BackendModel)
	assert.Equal(t, 7, cfg.MaxToolIterations)

	assert.Equal(t, "https://docs.example.com", cfg.RAG.BaseURL)
	assert.Equal(t, 5, cfg.RAG.SearchTopK)
	assert.NotZero(t, cfg.RAG.UpdateInterval, "RAG defaults should populate once attached")
}

func TestManager_YAML_Takes_Precedence(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	jsonConfig := `{
		"BIND_HOST": "127.0.0.1",
		"BIND_PORT": 6970,
		"BACKEND_ENDPOINT": "http://json.internal"
	}`

	yamlConfig := `
host: "0.0.0.0"
port: 8080
backend_endpoint: "http://yaml.internal"
`

	jsonPath := filepath.Join(tempDir, DefaultConfigFilename)
	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)

	err := os.WriteFile(jsonPath, []byte(jsonConfig), 0644)
	require.NoError(t, err)

	err = os.WriteFile(yamlPath, []byte(yamlConfig), 0644)
	require.NoError(t, err)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://yaml.internal", cfg.BackendEndpoint)
}

func TestManager_SaveAsYAML(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	cfg := &Config{
		Host:            "127.0.0.1",
		Port:            7000,
		BackendEndpoint: "http://127.0.0.1:9000",
		BackendAPIKey:   "test-key",
		BackendModel:    "local-model",
	}

	err := mgr.SaveAsYAML(cfg)
	require.NoError(t, err)

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	assert.FileExists(t, yamlPath)

	loadedCfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, cfg.Host, loadedCfg.Host)
	assert.Equal(t, cfg.Port, loadedCfg.Port)
	assert.Equal(t, cfg.BackendAPIKey, loadedCfg.BackendAPIKey)
	assert.Equal(t, cfg.BackendEndpoint, loadedCfg.BackendEndpoint)
	assert.Equal(t, cfg.BackendModel, loadedCfg.BackendModel)
}

func TestManager_CreateExampleYAML(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	err := mgr.CreateExampleYAML()
	require.NoError(t, err)

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	assert.FileExists(t, yamlPath)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Empty(t, cfg.BackendAPIKey, "example config ships with no backend API key; most local backends need none")
	assert.Equal(t, BackendOpenAICompatible, cfg.BackendType)
	assert.NotEmpty(t, cfg.BackendEndpoint)
}

func TestManager_FileDetection(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	assert.False(t, mgr.Exists())
	assert.False(t, mgr.HasYAML())
	assert.False(t, mgr.HasJSON())

	jsonPath := filepath.Join(tempDir, DefaultConfigFilename)
	err := os.WriteFile(jsonPath, []byte(`{"BIND_HOST": "127.0.0.1"}`), 0644)
	require.NoError(t, err)

	assert.True(t, mgr.Exists())
	assert.False(t, mgr.HasYAML())
	assert.True(t, mgr.HasJSON())
	assert.Equal(t, jsonPath, mgr.GetPath())

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	err = os.WriteFile(yamlPath, []byte(`host: "0.0.0.0"`), 0644)
	require.NoError(t, err)

	assert.True(t, mgr.Exists())
	assert.True(t, mgr.HasYAML())
	assert.True(t, mgr.HasJSON())
	assert.Equal(t, yamlPath, mgr.GetPath())
}
