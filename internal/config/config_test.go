package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1", cfg.Generation.BaseURL)
	assert.Equal(t, "gpt-4o", cfg.Generation.Model)
	assert.Equal(t, 5, cfg.Run.ExpertCount)
	assert.Equal(t, 3, cfg.Run.MaxRounds)
	assert.Equal(t, "delphi.db", cfg.Storage.DatabasePath)
}

func TestLoadReadsYAMLAndClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delphi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
generation:
  api_key: file-gen-key
  model: custom-model
search:
  api_key: file-search-key
  timeout_seconds: 10
run:
  expert_count: 50
  max_rounds: 0
storage:
  report_dir: /tmp/reports
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-gen-key", cfg.Generation.APIKey)
	assert.Equal(t, "custom-model", cfg.Generation.Model)
	assert.Equal(t, 10, cfg.Search.TimeoutSeconds)
	assert.Equal(t, "/tmp/reports", cfg.Storage.ReportDir)
	// Out-of-range sizing is clamped, never rejected.
	assert.Equal(t, MaxExpertCount, cfg.Run.ExpertCount)
	assert.Equal(t, MinRounds, cfg.Run.MaxRounds)
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generation: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DELPHI_GENERATION_API_KEY", "env-gen-key")
	t.Setenv("DELPHI_SEARCH_API_KEY", "env-search-key")
	t.Setenv("DELPHI_MODEL", "env-model")
	t.Setenv("OPENAI_API_KEY", "ignored-when-specific-set")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-gen-key", cfg.Generation.APIKey)
	assert.Equal(t, "env-search-key", cfg.Search.APIKey)
	assert.Equal(t, "env-model", cfg.Generation.Model)
}

func TestGenericEnvKeysAreFallbacks(t *testing.T) {
	t.Setenv("DELPHI_GENERATION_API_KEY", "")
	t.Setenv("DELPHI_SEARCH_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("PERPLEXITY_API_KEY", "pplx-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai-key", cfg.Generation.APIKey)
	assert.Equal(t, "pplx-key", cfg.Search.APIKey)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Generation.APIKey = "g"
	cfg.Search.APIKey = "s"
	require.NoError(t, cfg.Validate())

	noGen := cfg
	noGen.Generation.APIKey = ""
	assert.Error(t, noGen.Validate())

	noSearch := cfg
	noSearch.Search.APIKey = ""
	assert.Error(t, noSearch.Validate())

	noModel := cfg
	noModel.Generation.Model = ""
	assert.Error(t, noModel.Validate())
}

func TestClamps(t *testing.T) {
	tests := []struct{ in, want int }{
		{-1, MinExpertCount},
		{0, MinExpertCount},
		{3, 3},
		{7, 7},
		{100, MaxExpertCount},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampExpertCount(tt.in), "experts in=%d", tt.in)
	}
	assert.Equal(t, MinRounds, ClampMaxRounds(0))
	assert.Equal(t, 2, ClampMaxRounds(2))
	assert.Equal(t, MaxRounds, ClampMaxRounds(99))
}
