package embed

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	reterr "github.com/novadesk/retrieval/internal/errors"
)

// OpenAIConfig configures the OpenAI-compatible embedding client.
type OpenAIConfig struct {
	// APIKey authenticates against the endpoint. Some self-hosted
	// OpenAI-compatible services accept any key.
	APIKey string

	// BaseURL overrides the endpoint for OpenAI-compatible services
	// (e.g. a local inference server). Empty means api.openai.com.
	BaseURL string

	// Model is the embedding model identifier.
	Model string

	// Dimensions is the expected vector dimension of the model's output.
	Dimensions int

	// Timeout bounds a single embedding request.
	Timeout time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	config OpenAIConfig
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder against the configured endpoint.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	apiKey := cfg.APIKey
	if apiKey == "" && cfg.BaseURL != "" {
		// Self-hosted compatible services often ignore the key entirely.
		apiKey = "unused"
	}
	if apiKey == "" {
		return nil, reterr.Validation("embedding API key is required", nil)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, in order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, reterr.Validation(
			fmt.Sprintf("batch size %d exceeds maximum %d", len(texts), MaxBatchSize), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	})
	if err != nil {
		return nil, reterr.EmbeddingFailed("embedding request failed", err).
			WithDetail("model", e.config.Model)
	}
	if len(resp.Data) != len(texts) {
		return nil, reterr.EmbeddingFailed(
			fmt.Sprintf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, reterr.EmbeddingFailed(
				fmt.Sprintf("embedding response index %d out of range", d.Index), nil)
		}
		if len(d.Embedding) != e.config.Dimensions {
			return nil, reterr.New(reterr.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", e.config.Dimensions, len(d.Embedding)), nil)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

// Available probes the endpoint with a tiny request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{"ping"},
		Model: openai.EmbeddingModel(e.config.Model),
	})
	return err == nil
}

// Close releases resources. The underlying HTTP client needs no teardown.
func (e *OpenAIEmbedder) Close() error { return nil }
