package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reterr "github.com/novadesk/retrieval/internal/errors"
)

// countingEmbedder wraps the static embedder and counts calls so cache and
// breaker behavior can be observed.
type countingEmbedder struct {
	inner      Embedder
	model      string
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	failWith   error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: NewStaticEmbedder(), model: "counting-v1"}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls.Add(1)
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls.Add(1)
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                  { return c.model }
func (c *countingEmbedder) Available(ctx context.Context) bool { return c.failWith == nil }
func (c *countingEmbedder) Close() error                       { return c.inner.Close() }

func TestCachedEmbedderHit(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 10)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), counting.embedCalls.Load())

	_, err = cached.Embed(ctx, "different query")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counting.embedCalls.Load())
}

func TestCachedEmbedderKeysByModel(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "shared text")
	require.NoError(t, err)

	// A model switch must not serve the previous model's vector.
	counting.model = "counting-v2"
	_, err = cached.Embed(ctx, "shared text")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counting.embedCalls.Load())
}

func TestCachedEmbedderErrorNotCached(t *testing.T) {
	counting := newCountingEmbedder()
	counting.failWith = errors.New("backend down")
	cached := NewCachedEmbedder(counting, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "query")
	require.Error(t, err)

	counting.failWith = nil
	_, err = cached.Embed(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counting.embedCalls.Load())
}

func TestCachedEmbedderBatchBypassesCache(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 10)
	ctx := context.Background()

	_, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	_, err = cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), counting.batchCalls.Load())
	assert.Equal(t, int64(0), counting.embedCalls.Load())
}

func TestCachedEmbedderDelegates(t *testing.T) {
	counting := newCountingEmbedder()
	cached := NewCachedEmbedder(counting, 0) // 0 falls back to the default size

	assert.Equal(t, counting.Dimensions(), cached.Dimensions())
	assert.Equal(t, "counting-v1", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	require.NoError(t, cached.Close())
}

func TestBreakerEmbedderPassThrough(t *testing.T) {
	counting := newCountingEmbedder()
	breaker := NewBreakerEmbedder(counting, DefaultBreakerConfig())
	ctx := context.Background()

	vec, err := breaker.Embed(ctx, "healthy backend")
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)

	batch, err := breaker.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.True(t, breaker.Available(ctx))
}

func TestBreakerEmbedderOpensAfterFailures(t *testing.T) {
	counting := newCountingEmbedder()
	counting.failWith = reterr.EmbeddingFailed("backend timeout", nil)

	cfg := DefaultBreakerConfig()
	cfg.MinRequests = 3
	cfg.FailureRatio = 0.6
	breaker := NewBreakerEmbedder(counting, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := breaker.Embed(ctx, "failing")
		require.Error(t, err)
		assert.Equal(t, reterr.ErrCodeEmbeddingFailed, reterr.GetCode(err))
	}

	// Breaker is now open: calls are rejected without reaching the backend.
	before := counting.embedCalls.Load()
	_, err := breaker.Embed(ctx, "rejected")
	require.Error(t, err)
	assert.Equal(t, reterr.ErrCodeEmbeddingUnavailable, reterr.GetCode(err))
	assert.True(t, reterr.IsRetryable(err))
	assert.Equal(t, before, counting.embedCalls.Load())

	counting.failWith = nil
	assert.False(t, breaker.Available(ctx))
}
