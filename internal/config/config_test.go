package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9000
  log_level: debug
chunking:
  size: 500
  overlap: 50
embeddings:
  provider: openai
  model: text-embedding-3-large
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "retrieval.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embeddings.Model)

	// Untouched sections keep defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RETRIEVAL_PORT", "7777")
	t.Setenv("RETRIEVAL_EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("RETRIEVAL_OPENAI_API_KEY", "sk-test")
	t.Setenv("RETRIEVAL_CHUNK_SIZE", "800")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, "sk-test", cfg.Embeddings.APIKey)
	assert.Equal(t, 800, cfg.Chunking.Size)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "retrieval.yaml"),
		[]byte("server:\n  port: 9000\n"), 0o644))
	t.Setenv("RETRIEVAL_PORT", "9001")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"bad provider", func(c *Config) { c.Embeddings.Provider = "cohere" }},
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }},
		{"overlap >= size", func(c *Config) { c.Chunking.Size = 100; c.Chunking.Overlap = 100 }},
		{"max below default limit", func(c *Config) { c.Search.MaxLimit = 5 }},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "retrieval.yaml"),
		[]byte("server: [not a map"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.Storage.DataDir = "/var/lib/retrieval"

	assert.Equal(t, filepath.Join("/var/lib/retrieval", "retrieval.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/var/lib/retrieval", "vectors.gob"), cfg.IndexPath())
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Server.Port = 9999
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, "retrieval.yaml")))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
}
