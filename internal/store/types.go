// Package store provides the persistence layer: the SQLite system of record
// (entities, chunks, durable retry queue) and the tenant-partitioned HNSW
// vector index.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/novadesk/retrieval/internal/entity"
)

// Chunk is the unit actually embedded and searched: one bounded slice of an
// entity's content with its embedding and denormalized tenant/type tags for
// filter pushdown.
type Chunk struct {
	ID         string // "<entity_id>#<ordinal>"
	EntityID   string
	TenantID   string
	EntityType entity.Type
	Ordinal    int
	Text       string
	Embedding  []float32
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ChunkID    string
	EntityID   string
	EntityType entity.Type
	TenantID   string
	Text       string
	Ordinal    int

	// Distance is the cosine distance (0 identical, 2 opposite).
	Distance float32

	// Score is the normalized similarity in [0,1]: 1 - distance/2.
	Score float32
}

// VectorStoreConfig configures the vector index.
type VectorStoreConfig struct {
	// Dimensions is the embedding vector dimension.
	Dimensions int

	// M is HNSW max connections per layer.
	M int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector index.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore is the persistent vector index with tenant- and type-aware
// filtering.
//
// Tenant filtering is a precondition of query construction, never a
// post-filter on results: implementations partition storage by tenant so a
// query can only ever touch the requesting tenant's vectors.
type VectorStore interface {
	// UpsertEntity atomically replaces the full chunk set for an entity.
	// After a successful return, no chunk from a prior version of the
	// entity is reachable by Search.
	UpsertEntity(ctx context.Context, tenantID, entityID string, chunks []*Chunk) error

	// DeleteByEntity removes every chunk owned by the entity. Deleting a
	// non-existent entity is a no-op, not an error.
	DeleteByEntity(ctx context.Context, tenantID, entityID string) error

	// Search returns up to k nearest chunks for the tenant, optionally
	// restricted to one entity type. typeFilter empty means all types.
	Search(ctx context.Context, tenantID string, query []float32, k int, typeFilter entity.Type) ([]*VectorResult, error)

	// EntityChunkCount returns the number of indexed chunks for an entity.
	EntityChunkCount(tenantID, entityID string) int

	// Count returns the total number of live vectors across all tenants.
	Count() int

	// Persistence. Save is atomic (temp file + rename).
	Save(path string) error
	Load(path string) error
	Close() error
}

// EntityState tracks an entity's position in the indexing lifecycle.
type EntityState string

const (
	// StateIndexing means a chunk/embed/upsert pass is in flight.
	StateIndexing EntityState = "indexing"
	// StateIndexed means the vector index reflects the current content.
	StateIndexed EntityState = "indexed"
	// StateStale means indexing failed and a durable retry is queued;
	// the entity is indexed-but-out-of-date or not yet searchable.
	StateStale EntityState = "stale"
)

// EntityRecord is the relational system-of-record row for an entity.
type EntityRecord struct {
	Entity *entity.SearchableEntity
	State  EntityState
}

// RetryOp names a queued compensating operation.
type RetryOp string

const (
	RetryOpUpsert RetryOp = "upsert"
	RetryOpDelete RetryOp = "delete"
)

// RetryTask is one durable retry queue entry.
type RetryTask struct {
	ID            int64
	TenantID      string
	EntityID      string
	Op            RetryOp
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// TenantStats holds per-tenant indexed entity counts.
type TenantStats struct {
	CountsByType map[entity.Type]int
	Total        int
}

// EntityStore is the relational system of record. It owns entities, their
// chunk texts, and the durable retry queue. The vector index is derived
// state; this store is authoritative.
type EntityStore interface {
	// SaveEntity writes or replaces the entity row and its chunk rows in
	// one transaction.
	SaveEntity(ctx context.Context, e *entity.SearchableEntity, state EntityState, chunks []*Chunk) error

	// GetEntity returns the entity record, or nil when absent.
	GetEntity(ctx context.Context, tenantID, entityID string) (*EntityRecord, error)

	// SetState transitions the entity's lifecycle state.
	SetState(ctx context.Context, tenantID, entityID string, state EntityState) error

	// DeleteEntity removes the entity and its chunks. Returns false when
	// the entity did not exist.
	DeleteEntity(ctx context.Context, tenantID, entityID string) (bool, error)

	// ChunkCount returns the stored chunk count for an entity.
	ChunkCount(ctx context.Context, tenantID, entityID string) (int, error)

	// ListEntities pages through all entities across all tenants in
	// deterministic order, for backfill. cursor is the last seen
	// (tenant_id, entity_id) pair encoded as "tenant\x00id"; empty starts
	// from the beginning. Returns the next cursor, empty when exhausted.
	ListEntities(ctx context.Context, cursor string, limit int) ([]*EntityRecord, string, error)

	// Stats returns per-type indexed entity counts for one tenant.
	Stats(ctx context.Context, tenantID string) (*TenantStats, error)

	// Retry queue operations.
	EnqueueRetry(ctx context.Context, task RetryTask) error
	DueRetries(ctx context.Context, now time.Time, limit int) ([]RetryTask, error)
	RescheduleRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error
	ResolveRetry(ctx context.Context, id int64) error
	CancelRetries(ctx context.Context, tenantID, entityID string) error

	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch between the
// embedder and the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex with the current embedding model)", e.Expected, e.Got)
}
