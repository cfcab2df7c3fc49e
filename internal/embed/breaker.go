package embed

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	reterr "github.com/novadesk/retrieval/internal/errors"
)

// BreakerConfig configures the embedding circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period for clearing failure counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// FailureRatio trips the breaker once at least MinRequests have been
	// observed and this ratio of them failed.
	FailureRatio float64

	// MinRequests is the minimum sample size before tripping.
	MinRequests uint32
}

// DefaultBreakerConfig returns sensible breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  3,
	}
}

// BreakerEmbedder wraps an Embedder with a circuit breaker so a struggling
// embedding backend fails fast instead of holding up every indexing worker.
// A tripped breaker surfaces as a retryable embedding error, which the
// lifecycle coordinator's durable queue absorbs.
type BreakerEmbedder struct {
	inner Embedder
	cb    *gobreaker.CircuitBreaker
}

var _ Embedder = (*BreakerEmbedder)(nil)

// NewBreakerEmbedder wraps inner with a circuit breaker.
func NewBreakerEmbedder(inner Embedder, cfg BreakerConfig) *BreakerEmbedder {
	settings := gobreaker.Settings{
		Name:        "embedder:" + inner.ModelName(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("embedding circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &BreakerEmbedder{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Embed generates the embedding for a single text through the breaker.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, b.classify(err)
	}
	return result.([]float32), nil
}

// EmbedBatch generates embeddings for multiple texts through the breaker.
func (b *BreakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, b.classify(err)
	}
	return result.([][]float32), nil
}

// classify maps breaker-rejected calls to the retryable unavailable code and
// passes inner errors through unchanged.
func (b *BreakerEmbedder) classify(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return reterr.New(reterr.ErrCodeEmbeddingUnavailable,
			"embedding backend circuit open", err)
	}
	return err
}

// Dimensions returns the embedding dimension.
func (b *BreakerEmbedder) Dimensions() int { return b.inner.Dimensions() }

// ModelName returns the model identifier.
func (b *BreakerEmbedder) ModelName() string { return b.inner.ModelName() }

// Available checks if the inner embedder is ready and the breaker is closed.
func (b *BreakerEmbedder) Available(ctx context.Context) bool {
	return b.cb.State() != gobreaker.StateOpen && b.inner.Available(ctx)
}

// Close releases the inner embedder.
func (b *BreakerEmbedder) Close() error { return b.inner.Close() }
