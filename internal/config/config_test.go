package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentModels(t *testing.T) {
	models, err := ParseAgentModels([]byte(`
default: gpt-4o-mini
agents:
  function-planner: claude-3-5-haiku-20241022
  jsx-layout: ""
rateLimits:
  openai: {rps: 2, burst: 4}
`))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", models.Default)
	assert.Equal(t, DefaultFallbackModel, models.Fallback)
	assert.Equal(t, "claude-3-5-haiku-20241022", models.ModelFor("function-planner"))
	assert.Equal(t, "gpt-4o-mini", models.ModelFor("jsx-layout"))
	assert.Equal(t, RateLimit{RPS: 2, Burst: 4}, models.RateLimits["openai"])
}

func TestParseAgentModelsRejectsBadRateLimit(t *testing.T) {
	_, err := ParseAgentModels([]byte("rateLimits:\n  gemini: {rps: 0}\n"))
	assert.Error(t, err)

	_, err = ParseAgentModels([]byte("default: [unclosed"))
	assert.Error(t, err)
}

func TestLoadAgentModelsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback: gemini-1.5-pro\n"), 0o600))

	models, err := LoadAgentModels(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, models.Default)
	assert.Equal(t, "gemini-1.5-pro", models.Fallback)

	_, err = LoadAgentModels(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENT_MODELS_FILE", "")
	t.Setenv("DEFAULT_MODEL", "gemini-1.5-flash")
	t.Setenv("JOB_TIMEOUT", "5m")
	t.Setenv("ARTIFACTS_BACKEND", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000, https://app.keyvex.com,")
	t.Setenv("AGENT_BASE_URL", "http://localhost:8080/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "gemini-1.5-flash", cfg.Models.Default)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, "local", cfg.Artifacts.Backend)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.keyvex.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "http://localhost:8080", cfg.AgentBaseURL)
	assert.Equal(t, 10*time.Second, cfg.TranspilerTimeout)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{
		JobTimeout: time.Minute,
		Models:     DefaultAgentModels(),
		Artifacts:  ArtifactsConfig{Backend: "s3"},
	}
	assert.Error(t, cfg.Validate(), "s3 without bucket")

	cfg.Artifacts.S3Bucket = "keyvex-tools"
	assert.NoError(t, cfg.Validate())

	cfg.Artifacts.Backend = "gcs"
	assert.Error(t, cfg.Validate())
}
