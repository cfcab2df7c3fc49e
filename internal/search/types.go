// Package search provides the tenant-scoped semantic query engine: it embeds
// the query text, retrieves nearest chunks from the requesting tenant's
// vector partition, and merges chunk hits into entity-level results.
package search

import (
	"context"
	"time"

	"github.com/novadesk/retrieval/internal/entity"
)

// DefaultLimit is the result count when the caller does not specify one.
const DefaultLimit = 10

// MaxLimit caps the result count per query.
const MaxLimit = 100

// DefaultOverfetch is the chunk-level over-fetch multiplier: several chunks
// of one entity can land in the top-k, so more chunks than requested entities
// are fetched before merging.
const DefaultOverfetch = 3

// Options configures a search query.
type Options struct {
	// TenantID scopes the query. Required; a query is never executed
	// without one.
	TenantID string

	// Limit is the maximum number of entity results (default DefaultLimit,
	// capped at MaxLimit).
	Limit int

	// TypeFilter restricts results to one entity type. Empty means all.
	TypeFilter entity.Type
}

// Result is one entity-level search hit.
type Result struct {
	EntityID   string          `json:"entity_id"`
	EntityType entity.Type     `json:"entity_type"`
	TenantID   string          `json:"tenant_id"`
	Score      float32         `json:"score"`
	Snippet    string          `json:"snippet"`
	Metadata   entity.Metadata `json:"metadata"`
	UpdatedAt  time.Time       `json:"updated_at"`

	// ChunkOrdinal is the position of the best-matching chunk within the
	// entity's content.
	ChunkOrdinal int `json:"chunk_ordinal"`
}

// Stats reports a tenant's index composition.
type Stats struct {
	TenantID     string              `json:"tenant_id"`
	CountsByType map[entity.Type]int `json:"counts_by_type"`
	Total        int                 `json:"total"`
}

// Searcher is the query-side interface exposed to the HTTP layer and CLI.
type Searcher interface {
	// Search executes a semantic query and returns ranked entity results.
	// An empty result set is a valid outcome, distinct from index errors.
	Search(ctx context.Context, query string, opts Options) ([]*Result, error)

	// Stats returns per-type entity counts for one tenant.
	Stats(ctx context.Context, tenantID string) (*Stats, error)
}