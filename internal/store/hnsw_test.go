package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadesk/retrieval/internal/entity"
	reterr "github.com/novadesk/retrieval/internal/errors"
)

const testDims = 4

func newTestVectorStore(t *testing.T) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// axisVector returns a unit vector along one axis so distances are
// predictable: identical axes score 1.0, orthogonal axes score 0.5.
func axisVector(axis int) []float32 {
	v := make([]float32, testDims)
	v[axis%testDims] = 1
	return v
}

func testChunk(tenantID, entityID string, typ entity.Type, ordinal int, vec []float32) *Chunk {
	return &Chunk{
		ID:         fmt.Sprintf("%s#%d", entityID, ordinal),
		EntityID:   entityID,
		TenantID:   tenantID,
		EntityType: typ,
		Ordinal:    ordinal,
		Text:       "chunk text",
		Embedding:  vec,
	}
}

func TestHNSWStoreUpsertAndSearch(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	chunks := []*Chunk{
		testChunk("acme", "doc-1", entity.TypeDocument, 0, axisVector(0)),
		testChunk("acme", "doc-1", entity.TypeDocument, 1, axisVector(1)),
	}
	require.NoError(t, s.UpsertEntity(ctx, "acme", "doc-1", chunks))

	results, err := s.Search(ctx, "acme", axisVector(0), 5, "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "doc-1", results[0].EntityID)
	assert.Equal(t, 0, results[0].Ordinal)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWStoreTenantIsolation(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, "acme", "doc-a", []*Chunk{
		testChunk("acme", "doc-a", entity.TypeDocument, 0, axisVector(0)),
	}))
	require.NoError(t, s.UpsertEntity(ctx, "globex", "doc-b", []*Chunk{
		testChunk("globex", "doc-b", entity.TypeDocument, 0, axisVector(0)),
	}))

	results, err := s.Search(ctx, "acme", axisVector(0), 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-a", results[0].EntityID)
	for _, r := range results {
		assert.Equal(t, "acme", r.TenantID)
	}

	// A tenant with no data gets empty results, not an error.
	results, err = s.Search(ctx, "initech", axisVector(0), 10, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWStoreUpsertRejectsMismatchedTags(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	err := s.UpsertEntity(ctx, "acme", "doc-1", []*Chunk{
		testChunk("globex", "doc-1", entity.TypeDocument, 0, axisVector(0)),
	})
	require.Error(t, err)
	assert.Equal(t, reterr.ErrCodeTenantIsolation, reterr.GetCode(err))
}

func TestHNSWStoreTypeFilter(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, "acme", "doc-1", []*Chunk{
		testChunk("acme", "doc-1", entity.TypeDocument, 0, axisVector(0)),
	}))
	require.NoError(t, s.UpsertEntity(ctx, "acme", "ticket-1", []*Chunk{
		testChunk("acme", "ticket-1", entity.TypeTicket, 0, axisVector(0)),
	}))

	results, err := s.Search(ctx, "acme", axisVector(0), 10, entity.TypeTicket)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entity.TypeTicket, results[0].EntityType)

	_, err = s.Search(ctx, "acme", axisVector(0), 10, entity.Type("bogus"))
	require.Error(t, err)
	assert.Equal(t, reterr.ErrCodeInvalidFilter, reterr.GetCode(err))
}

func TestHNSWStoreSearchValidation(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	_, err := s.Search(ctx, "", axisVector(0), 5, "")
	require.Error(t, err)
	assert.Equal(t, reterr.ErrCodeInvalidFilter, reterr.GetCode(err))

	_, err = s.Search(ctx, "acme", axisVector(0), 0, "")
	require.Error(t, err)
}

func TestHNSWStoreReindexReplacesChunks(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, "acme", "doc-1", []*Chunk{
		testChunk("acme", "doc-1", entity.TypeDocument, 0, axisVector(0)),
		testChunk("acme", "doc-1", entity.TypeDocument, 1, axisVector(1)),
		testChunk("acme", "doc-1", entity.TypeDocument, 2, axisVector(2)),
	}))

	// Re-index with fewer chunks; the old set must not linger.
	require.NoError(t, s.UpsertEntity(ctx, "acme", "doc-1", []*Chunk{
		testChunk("acme", "doc-1", entity.TypeDocument, 0, axisVector(3)),
	}))

	assert.Equal(t, 1, s.EntityChunkCount("acme", "doc-1"))

	results, err := s.Search(ctx, "acme", axisVector(3), 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Ordinal)
}

func TestHNSWStoreDeleteByEntity(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, "acme", "doc-1", []*Chunk{
		testChunk("acme", "doc-1", entity.TypeDocument, 0, axisVector(0)),
	}))
	require.NoError(t, s.UpsertEntity(ctx, "acme", "doc-2", []*Chunk{
		testChunk("acme", "doc-2", entity.TypeDocument, 0, axisVector(1)),
	}))

	require.NoError(t, s.DeleteByEntity(ctx, "acme", "doc-1"))

	results, err := s.Search(ctx, "acme", axisVector(0), 10, "")
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "doc-1", r.EntityID)
	}
	assert.Equal(t, 0, s.EntityChunkCount("acme", "doc-1"))

	// Deleting again is a no-op.
	require.NoError(t, s.DeleteByEntity(ctx, "acme", "doc-1"))
	require.NoError(t, s.DeleteByEntity(ctx, "acme", "never-existed"))
}

func TestHNSWStoreDimensionMismatch(t *testing.T) {
	s := newTestVectorStore(t)
	ctx := context.Background()

	bad := testChunk("acme", "doc-1", entity.TypeDocument, 0, make([]float32, testDims+1))
	err := s.UpsertEntity(ctx, "acme", "doc-1", []*Chunk{bad})
	require.Error(t, err)

	_, err = s.Search(ctx, "acme", make([]float32, testDims+1), 5, "")
	require.Error(t, err)
}

func TestHNSWStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.gob")

	s, err := NewHNSWStore(DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	require.NoError(t, s.UpsertEntity(ctx, "acme", "doc-1", []*Chunk{
		testChunk("acme", "doc-1", entity.TypeDocument, 0, axisVector(0)),
	}))
	require.NoError(t, s.UpsertEntity(ctx, "globex", "doc-2", []*Chunk{
		testChunk("globex", "doc-2", entity.TypeDocument, 0, axisVector(1)),
	}))
	require.NoError(t, s.Save(path))
	require.NoError(t, s.Close())

	restored, err := NewHNSWStore(DefaultVectorStoreConfig(testDims))
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.Load(path))

	results, err := restored.Search(ctx, "acme", axisVector(0), 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].EntityID)

	results, err = restored.Search(ctx, "globex", axisVector(1), 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2", results[0].EntityID)
}

func TestHNSWStoreLoadMissingFileStartsFresh(t *testing.T) {
	s := newTestVectorStore(t)

	require.NoError(t, s.Load(filepath.Join(t.TempDir(), "nonexistent.gob")))
	assert.Equal(t, 0, s.Count())
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToScore(0), 1e-6)
	assert.InDelta(t, 0.5, distanceToScore(1), 1e-6)
	assert.InDelta(t, 0.0, distanceToScore(2), 1e-6)
}

func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4, 0, 0}
	normalizeVectorInPlace(v)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}
