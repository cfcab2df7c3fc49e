package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/novadesk/retrieval/internal/embed"
	reterr "github.com/novadesk/retrieval/internal/errors"
	"github.com/novadesk/retrieval/internal/store"
)

// Engine implements Searcher over the vector index and the entity store.
type Engine struct {
	vector    store.VectorStore
	entities  store.EntityStore
	embedder  embed.Embedder
	overfetch int
}

var _ Searcher = (*Engine)(nil)

// NewEngine creates the query engine. All dependencies are required.
func NewEngine(vector store.VectorStore, entities store.EntityStore, embedder embed.Embedder) (*Engine, error) {
	if vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if entities == nil {
		return nil, fmt.Errorf("entity store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Engine{
		vector:    vector,
		entities:  entities,
		embedder:  embedder,
		overfetch: DefaultOverfetch,
	}, nil
}

// Search embeds the query, retrieves nearest chunks within the tenant's
// partition, and merges chunk hits into entity results: each entity appears
// once, scored by its best chunk, with that chunk's text as the snippet.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, reterr.New(reterr.ErrCodeInvalidQuery, "query text is empty", nil)
	}
	if opts.TenantID == "" {
		return nil, reterr.InvalidFilter("tenant_id is required", nil)
	}
	if opts.TypeFilter != "" && !opts.TypeFilter.Valid() {
		return nil, reterr.InvalidFilter(
			fmt.Sprintf("unknown entity type filter %q", opts.TypeFilter), nil)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	queryVector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, reterr.EmbeddingFailed("embed query", err)
	}

	hits, err := e.vector.Search(ctx, opts.TenantID, queryVector, limit*e.overfetch, opts.TypeFilter)
	if err != nil {
		return nil, err
	}

	merged, err := e.mergeByEntity(ctx, opts.TenantID, hits)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	slog.Debug("search completed",
		slog.String("tenant_id", opts.TenantID),
		slog.Int("chunk_hits", len(hits)),
		slog.Int("results", len(merged)),
		slog.Duration("duration", time.Since(start)))

	return merged, nil
}

// mergeByEntity keeps the best chunk per entity and enriches results with
// metadata and timestamps from the system of record. Chunks whose entity row
// has since been deleted are dropped.
func (e *Engine) mergeByEntity(ctx context.Context, tenantID string, hits []*store.VectorResult) ([]*Result, error) {
	best := make(map[string]*store.VectorResult)
	order := make([]string, 0, len(hits))

	for _, hit := range hits {
		// The partition guarantees tenant scope; a mismatching hit means
		// the index is corrupt and must never reach a caller.
		if hit.TenantID != tenantID {
			return nil, reterr.TenantIsolation(fmt.Sprintf(
				"result for tenant %q surfaced in a query for tenant %q", hit.TenantID, tenantID))
		}

		existing, seen := best[hit.EntityID]
		if !seen {
			best[hit.EntityID] = hit
			order = append(order, hit.EntityID)
			continue
		}
		if hit.Score > existing.Score {
			best[hit.EntityID] = hit
		}
	}

	results := make([]*Result, 0, len(order))
	for _, entityID := range order {
		hit := best[entityID]

		record, err := e.entities.GetEntity(ctx, tenantID, entityID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// Deleted between index read and enrichment.
			continue
		}

		results = append(results, &Result{
			EntityID:     entityID,
			EntityType:   hit.EntityType,
			TenantID:     tenantID,
			Score:        hit.Score,
			Snippet:      hit.Text,
			Metadata:     record.Entity.Metadata,
			UpdatedAt:    record.Entity.UpdatedAt,
			ChunkOrdinal: hit.Ordinal,
		})
	}
	return results, nil
}

// Stats returns per-type entity counts for one tenant.
func (e *Engine) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	if tenantID == "" {
		return nil, reterr.InvalidFilter("tenant_id is required", nil)
	}

	tenantStats, err := e.entities.Stats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TenantID:     tenantID,
		CountsByType: tenantStats.CountsByType,
		Total:        tenantStats.Total,
	}, nil
}
