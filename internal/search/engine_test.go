package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadesk/retrieval/internal/chunk"
	"github.com/novadesk/retrieval/internal/embed"
	"github.com/novadesk/retrieval/internal/entity"
	reterr "github.com/novadesk/retrieval/internal/errors"
	"github.com/novadesk/retrieval/internal/store"
)

type testEnv struct {
	engine   *Engine
	vector   *store.HNSWStore
	entities *store.SQLiteEntityStore
	embedder embed.Embedder
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	entities, err := store.NewSQLiteEntityStore("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vector.Close()
		_ = entities.Close()
	})

	engine, err := NewEngine(vector, entities, embedder)
	require.NoError(t, err)
	return &testEnv{engine: engine, vector: vector, entities: entities, embedder: embedder}
}

// index pushes an entity through chunk/embed/store the way the lifecycle
// coordinator does, so queries exercise the real read path.
func (env *testEnv) index(t *testing.T, tenantID, entityID string, typ entity.Type, content string, updatedAt time.Time) {
	t.Helper()
	ctx := context.Background()

	e := &entity.SearchableEntity{
		ID:        entityID,
		Type:      typ,
		TenantID:  tenantID,
		Content:   content,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	e.Metadata = e.Metadata.Set("title", entityID)

	pieces := chunk.MustNew(200, 20).Split(entityID, content)
	chunks := make([]*store.Chunk, len(pieces))
	for i, p := range pieces {
		vec, err := env.embedder.Embed(ctx, p.Text)
		require.NoError(t, err)
		chunks[i] = &store.Chunk{
			ID:         p.ID,
			EntityID:   entityID,
			TenantID:   tenantID,
			EntityType: typ,
			Ordinal:    p.Ordinal,
			Text:       p.Text,
			Embedding:  vec,
		}
	}

	require.NoError(t, env.entities.SaveEntity(ctx, e, store.StateIndexed, chunks))
	require.NoError(t, env.vector.UpsertEntity(ctx, tenantID, entityID, chunks))
}

func TestEngineSearchReturnsRelevantEntity(t *testing.T) {
	env := newTestEngine(t)
	now := time.Now()

	env.index(t, "acme", "doc-onboarding", entity.TypeDocument,
		"Employee onboarding checklist covering laptop setup, account provisioning and first week schedule.", now)
	env.index(t, "acme", "doc-billing", entity.TypeDocument,
		"Quarterly billing reconciliation process for finance, invoices and payment disputes.", now)

	results, err := env.engine.Search(context.Background(),
		"how do we onboard a new employee", Options{TenantID: "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-onboarding", results[0].EntityID)
	assert.NotEmpty(t, results[0].Snippet)
	title, _ := results[0].Metadata.Get("title")
	assert.Equal(t, "doc-onboarding", title)
}

func TestEngineSearchMergesChunksPerEntity(t *testing.T) {
	env := newTestEngine(t)
	now := time.Now()

	// Long content splits into several chunks; the entity must still
	// appear once.
	long := ""
	for i := 0; i < 20; i++ {
		long += "Incident response runbook for database outages and failover drills. "
	}
	env.index(t, "acme", "doc-runbook", entity.TypeDocument, long, now)

	results, err := env.engine.Search(context.Background(),
		"database outage response", Options{TenantID: "acme", Limit: 10})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, r := range results {
		seen[r.EntityID]++
	}
	assert.Equal(t, 1, seen["doc-runbook"])
}

func TestEngineSearchTenantIsolation(t *testing.T) {
	env := newTestEngine(t)
	now := time.Now()

	env.index(t, "acme", "doc-secret", entity.TypeDocument,
		"Acme internal acquisition strategy memo.", now)
	env.index(t, "globex", "doc-public", entity.TypeDocument,
		"Globex acquisition strategy overview.", now)

	results, err := env.engine.Search(context.Background(),
		"acquisition strategy", Options{TenantID: "globex"})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "globex", r.TenantID)
		assert.NotEqual(t, "doc-secret", r.EntityID)
	}
}

func TestEngineSearchTypeFilter(t *testing.T) {
	env := newTestEngine(t)
	now := time.Now()

	env.index(t, "acme", "doc-1", entity.TypeDocument,
		"Payment gateway integration design document.", now)
	env.index(t, "acme", "ticket-1", entity.TypeTicket,
		"Payment gateway returns HTTP 500 on refunds.", now)

	results, err := env.engine.Search(context.Background(),
		"payment gateway", Options{TenantID: "acme", TypeFilter: entity.TypeTicket})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, entity.TypeTicket, r.EntityType)
	}
}

func TestEngineSearchValidation(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	_, err := env.engine.Search(ctx, "   ", Options{TenantID: "acme"})
	require.Error(t, err)
	assert.Equal(t, reterr.ErrCodeInvalidQuery, reterr.GetCode(err))

	_, err = env.engine.Search(ctx, "query", Options{})
	require.Error(t, err)
	assert.Equal(t, reterr.ErrCodeInvalidFilter, reterr.GetCode(err))

	_, err = env.engine.Search(ctx, "query", Options{TenantID: "acme", TypeFilter: "bogus"})
	require.Error(t, err)
	assert.Equal(t, reterr.ErrCodeInvalidFilter, reterr.GetCode(err))
}

func TestEngineSearchEmptyIndexIsNotAnError(t *testing.T) {
	env := newTestEngine(t)

	results, err := env.engine.Search(context.Background(),
		"anything at all", Options{TenantID: "acme"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngineSearchSkipsDeletedEntities(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	now := time.Now()

	env.index(t, "acme", "doc-gone", entity.TypeDocument,
		"Release checklist for deployments.", now)

	// Entity row deleted but vector index not yet caught up.
	_, err := env.entities.DeleteEntity(ctx, "acme", "doc-gone")
	require.NoError(t, err)

	results, err := env.engine.Search(ctx, "release checklist", Options{TenantID: "acme"})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "doc-gone", r.EntityID)
	}
}

func TestEngineSearchTieBreaksByRecency(t *testing.T) {
	env := newTestEngine(t)
	older := time.Now().Add(-48 * time.Hour)
	newer := time.Now()

	// Identical content produces identical scores.
	content := "Weekly sync meeting notes about roadmap planning."
	env.index(t, "acme", "meeting-old", entity.TypeMeeting, content, older)
	env.index(t, "acme", "meeting-new", entity.TypeMeeting, content, newer)

	results, err := env.engine.Search(context.Background(),
		"roadmap planning meeting", Options{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "meeting-new", results[0].EntityID)
	assert.Equal(t, "meeting-old", results[1].EntityID)
}

func TestEngineSearchLimit(t *testing.T) {
	env := newTestEngine(t)
	now := time.Now()

	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		env.index(t, "acme", id, entity.TypeDocument,
			"Shared support knowledge base article about account recovery "+id, now)
	}

	results, err := env.engine.Search(context.Background(),
		"account recovery", Options{TenantID: "acme", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEngineStats(t *testing.T) {
	env := newTestEngine(t)
	now := time.Now()

	env.index(t, "acme", "d1", entity.TypeDocument, "Some document about audits.", now)
	env.index(t, "acme", "t1", entity.TypeTicket, "A ticket about login failures.", now)

	stats, err := env.engine.Stats(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", stats.TenantID)
	assert.Equal(t, 1, stats.CountsByType[entity.TypeDocument])
	assert.Equal(t, 1, stats.CountsByType[entity.TypeTicket])
	assert.Equal(t, 2, stats.Total)

	_, err = env.engine.Stats(context.Background(), "")
	require.Error(t, err)
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	embedder := embed.NewStaticEmbedder()
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	defer vector.Close()
	entities, err := store.NewSQLiteEntityStore("")
	require.NoError(t, err)
	defer entities.Close()

	_, err = NewEngine(nil, entities, embedder)
	require.Error(t, err)
	_, err = NewEngine(vector, nil, embedder)
	require.Error(t, err)
	_, err = NewEngine(vector, entities, nil)
	require.Error(t, err)
}
