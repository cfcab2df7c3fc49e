// Package lifecycle coordinates index mutations: it owns the
// normalize/chunk/embed/store pipeline, serializes operations per entity,
// and drains the durable retry queue so the vector index converges on the
// system of record after partial failures.
package lifecycle

import (
	"time"

	"github.com/novadesk/retrieval/internal/embed"
	"github.com/novadesk/retrieval/internal/entity"
	reterr "github.com/novadesk/retrieval/internal/errors"
)

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int

	// ChunkOverlap is the character overlap between adjacent chunks.
	ChunkOverlap int

	// EmbedBatchSize bounds how many chunk texts are embedded per backend
	// call. Large entities are embedded in several calls of this size.
	EmbedBatchSize int

	// Retry configures the durable retry schedule for failed vector
	// operations.
	Retry reterr.RetryConfig

	// RetryInterval is how often the background worker polls for due
	// retry tasks.
	RetryInterval time.Duration

	// RetryBatch is the maximum number of due tasks drained per poll.
	RetryBatch int

	// BackfillConcurrency bounds how many entities are re-indexed in
	// parallel during a backfill.
	BackfillConcurrency int

	// BackfillPageSize is how many entities are listed per page during a
	// backfill.
	BackfillPageSize int
}

// DefaultCoordinatorConfig returns production defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ChunkSize:           1000,
		ChunkOverlap:        100,
		EmbedBatchSize:      embed.DefaultBatchSize,
		Retry:               reterr.DefaultRetryConfig(),
		RetryInterval:       5 * time.Second,
		RetryBatch:          50,
		BackfillConcurrency: 4,
		BackfillPageSize:    100,
	}
}

// UpsertReceipt reports the outcome of an upsert.
type UpsertReceipt struct {
	EntityID   string      `json:"entity_id"`
	EntityType entity.Type `json:"entity_type"`
	TenantID   string      `json:"tenant_id"`
	ChunkCount int         `json:"chunk_count"`

	// Indexed is true when the vector index reflects the new content.
	// False means the write is durable in the system of record but the
	// vector pass failed and a retry is queued.
	Indexed bool `json:"indexed"`
}

// BackfillCounts is the per-type outcome of a backfill pass.
type BackfillCounts struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	ByType   map[entity.Type]BackfillCounts `json:"by_type"`
	Indexed  int                            `json:"indexed"`
	Failed   int                            `json:"failed"`
	Duration time.Duration                  `json:"duration"`
}
