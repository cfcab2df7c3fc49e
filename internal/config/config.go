// Package config loads service configuration from YAML with environment
// variable overrides. Precedence: defaults, then the config file, then
// RETRIEVAL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// StorageConfig configures the data directory layout.
type StorageConfig struct {
	// DataDir holds the SQLite database and the vector index snapshot.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// SaveInterval is how often the vector index is snapshotted to disk.
	SaveInterval time.Duration `yaml:"save_interval" json:"save_interval"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "openai" or "static".
	Provider string `yaml:"provider" json:"provider"`

	// Model is the embedding model name (openai provider).
	Model string `yaml:"model" json:"model"`

	// BaseURL points the openai provider at a compatible self-hosted
	// endpoint. Empty uses the public API.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey authenticates against the provider. Usually set via
	// RETRIEVAL_OPENAI_API_KEY rather than the file.
	APIKey string `yaml:"api_key" json:"api_key"`

	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	// CacheSize is the embedding LRU cache capacity (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkingConfig configures content splitting.
type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// SearchConfig configures the query engine and the vector index.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`

	// HNSW parameters.
	M        int `yaml:"hnsw_m" json:"hnsw_m"`
	EfSearch int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// RetryConfig configures the durable retry worker.
type RetryConfig struct {
	Interval     time.Duration `yaml:"interval" json:"interval"`
	Batch        int           `yaml:"batch" json:"batch"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8086,
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:      ".retrieval",
			SaveInterval: time.Minute,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "text-embedding-3-small",
			Dimensions: 0, // provider default
			BatchSize:  32,
			Timeout:    60 * time.Second,
			CacheSize:  1000,
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 100,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
			M:            16,
			EfSearch:     64,
		},
		Retry: RetryConfig{
			Interval:     5 * time.Second,
			Batch:        50,
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     16 * time.Second,
		},
	}
}

// Load builds the effective configuration: defaults, then retrieval.yaml in
// dir (if present), then RETRIEVAL_* environment overrides, then validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"retrieval.yaml", "retrieval.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine.
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies RETRIEVAL_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RETRIEVAL_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RETRIEVAL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RETRIEVAL_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("RETRIEVAL_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("RETRIEVAL_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RETRIEVAL_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RETRIEVAL_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("RETRIEVAL_OPENAI_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("RETRIEVAL_CHUNK_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			c.Chunking.Size = size
		}
	}
	if v := os.Getenv("RETRIEVAL_CHUNK_OVERLAP"); v != "" {
		if overlap, err := strconv.Atoi(v); err == nil {
			c.Chunking.Overlap = overlap
		}
	}
}

// Validate checks the final configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	validProviders := map[string]bool{"openai": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'openai' or 'static', got %s", c.Embeddings.Provider)
	}

	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d with size %d",
			c.Chunking.Overlap, c.Chunking.Size)
	}

	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) must be at least default_limit (%d)",
			c.Search.MaxLimit, c.Search.DefaultLimit)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be non-negative, got %d", c.Retry.MaxRetries)
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "retrieval.db")
}

// IndexPath returns the vector index snapshot location under the data dir.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Storage.DataDir, "vectors.gob")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
