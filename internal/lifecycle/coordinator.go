package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/novadesk/retrieval/internal/chunk"
	"github.com/novadesk/retrieval/internal/embed"
	"github.com/novadesk/retrieval/internal/entity"
	reterr "github.com/novadesk/retrieval/internal/errors"
	"github.com/novadesk/retrieval/internal/store"
)

// Coordinator owns every index mutation. Operations on the same entity are
// serialized by a keyed lock; the relational store is written first and is
// authoritative, the vector index follows and is repaired through the
// durable retry queue when it falls behind.
type Coordinator struct {
	entities store.EntityStore
	vector   store.VectorStore
	embedder embed.Embedder
	chunker  *chunk.Chunker
	config   CoordinatorConfig
	locks    *entityLocks

	workerCancel context.CancelFunc
	workerDone   chan struct{}
	workerMu     sync.Mutex
}

// NewCoordinator creates a lifecycle coordinator. All dependencies are
// required.
func NewCoordinator(entities store.EntityStore, vector store.VectorStore, embedder embed.Embedder, cfg CoordinatorConfig) (*Coordinator, error) {
	if entities == nil {
		return nil, fmt.Errorf("entity store is required")
	}
	if vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	// An explicit overlap of zero is valid; only a fully unset chunking
	// section falls back to the defaults.
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = chunk.DefaultSize
		if cfg.ChunkOverlap == 0 {
			cfg.ChunkOverlap = chunk.DefaultOverlap
		}
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = embed.DefaultBatchSize
	}
	if cfg.EmbedBatchSize > embed.MaxBatchSize {
		cfg.EmbedBatchSize = embed.MaxBatchSize
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.RetryBatch == 0 {
		cfg.RetryBatch = 50
	}
	if cfg.BackfillConcurrency == 0 {
		cfg.BackfillConcurrency = 4
	}
	if cfg.BackfillPageSize == 0 {
		cfg.BackfillPageSize = 100
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = reterr.DefaultRetryConfig()
	}

	chunker, err := chunk.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		entities: entities,
		vector:   vector,
		embedder: embedder,
		chunker:  chunker,
		config:   cfg,
		locks:    newEntityLocks(),
	}, nil
}

// Upsert normalizes an artifact and indexes it. The relational write is
// durable before the vector pass runs; if embedding or the vector upsert
// fails, the entity is marked stale and a retry task is queued, and the
// receipt reports Indexed false without an error.
func (c *Coordinator) Upsert(ctx context.Context, tenantID string, artifact entity.Artifact) (*UpsertReceipt, error) {
	e, err := entity.Normalize(artifact, tenantID)
	if err != nil {
		return nil, err
	}

	release := c.locks.acquire(tenantID, e.ID)
	defer release()

	chunks := c.buildChunks(e)
	if err := c.entities.SaveEntity(ctx, e, store.StateIndexing, chunks); err != nil {
		return nil, fmt.Errorf("save entity %s: %w", e.ID, err)
	}

	// The row just written is the one truth; queued compensations for
	// prior versions are obsolete.
	if err := c.entities.CancelRetries(ctx, tenantID, e.ID); err != nil {
		return nil, fmt.Errorf("cancel stale retries for %s: %w", e.ID, err)
	}

	receipt := &UpsertReceipt{
		EntityID:   e.ID,
		EntityType: e.Type,
		TenantID:   tenantID,
		ChunkCount: len(chunks),
	}

	if err := c.indexChunks(ctx, tenantID, e.ID, chunks); err != nil {
		if ferr := c.failToStale(ctx, tenantID, e.ID, store.RetryOpUpsert, err); ferr != nil {
			return nil, ferr
		}
		return receipt, nil
	}

	if err := c.entities.SetState(ctx, tenantID, e.ID, store.StateIndexed); err != nil {
		return nil, fmt.Errorf("mark entity %s indexed: %w", e.ID, err)
	}
	receipt.Indexed = true
	return receipt, nil
}

// Delete removes an entity everywhere. The relational delete is
// authoritative and pending retries are cancelled first, so a delete always
// wins over queued re-index work. A failing vector delete leaves a
// compensating retry task behind.
func (c *Coordinator) Delete(ctx context.Context, tenantID, entityID string) (bool, error) {
	if tenantID == "" {
		return false, reterr.InvalidFilter("tenant_id is required", nil)
	}
	if entityID == "" {
		return false, reterr.InvalidFilter("entity_id is required", nil)
	}

	release := c.locks.acquire(tenantID, entityID)
	defer release()

	if err := c.entities.CancelRetries(ctx, tenantID, entityID); err != nil {
		return false, fmt.Errorf("cancel retries for %s: %w", entityID, err)
	}

	existed, err := c.entities.DeleteEntity(ctx, tenantID, entityID)
	if err != nil {
		return false, fmt.Errorf("delete entity %s: %w", entityID, err)
	}

	if err := c.vector.DeleteByEntity(ctx, tenantID, entityID); err != nil {
		slog.Warn("vector delete failed, queuing retry",
			slog.String("tenant_id", tenantID),
			slog.String("entity_id", entityID),
			slog.String("error", err.Error()))
		if qerr := c.entities.EnqueueRetry(ctx, store.RetryTask{
			TenantID:      tenantID,
			EntityID:      entityID,
			Op:            store.RetryOpDelete,
			Attempts:      0,
			NextAttemptAt: time.Now().Add(reterr.NextBackoff(c.config.Retry, 0)),
			LastError:     err.Error(),
		}); qerr != nil {
			return existed, fmt.Errorf("queue delete retry for %s: %w", entityID, qerr)
		}
	}

	return existed, nil
}

// buildChunks splits content and tags each chunk with tenant and type.
// Embeddings are attached later; the relational store keeps the texts.
func (c *Coordinator) buildChunks(e *entity.SearchableEntity) []*store.Chunk {
	pieces := c.chunker.Split(e.ID, e.Content)
	chunks := make([]*store.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &store.Chunk{
			ID:         p.ID,
			EntityID:   e.ID,
			TenantID:   e.TenantID,
			EntityType: e.Type,
			Ordinal:    p.Ordinal,
			Text:       p.Text,
		}
	}
	return chunks
}

// indexChunks embeds the chunk texts and replaces the entity's chunk set in
// the vector index. Embedding runs in bounded batches so entities with many
// chunks never exceed the backend's batch limit.
func (c *Coordinator) indexChunks(ctx context.Context, tenantID, entityID string, chunks []*store.Chunk) error {
	for start := 0; start < len(chunks); start += c.config.EmbedBatchSize {
		end := start + c.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}
		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d of %d: %w", start, end-1, len(chunks), err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}
	}

	return c.vector.UpsertEntity(ctx, tenantID, entityID, chunks)
}

// failToStale records a failed vector pass: the entity is marked stale and a
// durable retry is queued.
func (c *Coordinator) failToStale(ctx context.Context, tenantID, entityID string, op store.RetryOp, cause error) error {
	slog.Warn("vector indexing failed, queuing retry",
		slog.String("tenant_id", tenantID),
		slog.String("entity_id", entityID),
		slog.String("op", string(op)),
		slog.String("error", cause.Error()))

	if err := c.entities.SetState(ctx, tenantID, entityID, store.StateStale); err != nil {
		return fmt.Errorf("mark entity %s stale: %w", entityID, err)
	}
	if err := c.entities.EnqueueRetry(ctx, store.RetryTask{
		TenantID:      tenantID,
		EntityID:      entityID,
		Op:            op,
		Attempts:      0,
		NextAttemptAt: time.Now().Add(reterr.NextBackoff(c.config.Retry, 0)),
		LastError:     cause.Error(),
	}); err != nil {
		return fmt.Errorf("queue retry for %s: %w", entityID, err)
	}
	return nil
}

// reindexEntity re-runs the chunk/embed/upsert pass from the system of
// record. A missing entity is not an error, it was deleted after the work
// was scheduled and delete wins; the false return lets callers count it as
// skipped rather than indexed.
func (c *Coordinator) reindexEntity(ctx context.Context, tenantID, entityID string) (bool, error) {
	release := c.locks.acquire(tenantID, entityID)
	defer release()

	record, err := c.entities.GetEntity(ctx, tenantID, entityID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	chunks := c.buildChunks(record.Entity)
	if err := c.indexChunks(ctx, tenantID, entityID, chunks); err != nil {
		return false, err
	}
	if err := c.entities.SetState(ctx, tenantID, entityID, store.StateIndexed); err != nil {
		return false, err
	}
	return true, nil
}

// StartRetryWorker launches the background loop that drains due retry
// tasks. Call StopRetryWorker to shut it down.
func (c *Coordinator) StartRetryWorker(ctx context.Context) {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if c.workerCancel != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.workerCancel = cancel
	c.workerDone = make(chan struct{})

	go func() {
		defer close(c.workerDone)
		ticker := time.NewTicker(c.config.RetryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if err := c.ProcessDueRetries(workerCtx); err != nil {
					slog.Error("retry worker pass failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// StopRetryWorker stops the background loop and waits for the in-flight
// pass to finish.
func (c *Coordinator) StopRetryWorker() {
	c.workerMu.Lock()
	cancel := c.workerCancel
	done := c.workerDone
	c.workerCancel = nil
	c.workerDone = nil
	c.workerMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// ProcessDueRetries drains one batch of due retry tasks. Exported so tests
// and the CLI can run a pass without the background worker.
func (c *Coordinator) ProcessDueRetries(ctx context.Context) error {
	tasks, err := c.entities.DueRetries(ctx, time.Now(), c.config.RetryBatch)
	if err != nil {
		return fmt.Errorf("list due retries: %w", err)
	}

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.runRetryTask(ctx, task); err != nil {
			// A non-retryable failure can never succeed on a later
			// attempt; drop the task and leave the entity stale in
			// the system of record instead of rescheduling forever.
			if !reterr.IsRetryable(err) {
				slog.Error("retry task failed with non-retryable error, dropping",
					slog.String("tenant_id", task.TenantID),
					slog.String("entity_id", task.EntityID),
					slog.String("op", string(task.Op)),
					slog.String("error", err.Error()))
				if rerr := c.entities.ResolveRetry(ctx, task.ID); rerr != nil {
					return fmt.Errorf("drop retry %d: %w", task.ID, rerr)
				}
				continue
			}
			attempts := task.Attempts + 1
			next := time.Now().Add(reterr.NextBackoff(c.config.Retry, attempts))
			slog.Warn("retry task failed, rescheduling",
				slog.String("tenant_id", task.TenantID),
				slog.String("entity_id", task.EntityID),
				slog.String("op", string(task.Op)),
				slog.Int("attempts", attempts),
				slog.Time("next_attempt", next),
				slog.String("error", err.Error()))
			if rerr := c.entities.RescheduleRetry(ctx, task.ID, attempts, next, err.Error()); rerr != nil {
				return fmt.Errorf("reschedule retry %d: %w", task.ID, rerr)
			}
			continue
		}

		if err := c.entities.ResolveRetry(ctx, task.ID); err != nil {
			return fmt.Errorf("resolve retry %d: %w", task.ID, err)
		}
		slog.Info("retry task resolved",
			slog.String("tenant_id", task.TenantID),
			slog.String("entity_id", task.EntityID),
			slog.String("op", string(task.Op)),
			slog.Int("attempts", task.Attempts+1))
	}
	return nil
}

func (c *Coordinator) runRetryTask(ctx context.Context, task store.RetryTask) error {
	switch task.Op {
	case store.RetryOpUpsert:
		_, err := c.reindexEntity(ctx, task.TenantID, task.EntityID)
		return err
	case store.RetryOpDelete:
		return c.vector.DeleteByEntity(ctx, task.TenantID, task.EntityID)
	default:
		return fmt.Errorf("unknown retry op %q", task.Op)
	}
}

// Backfill re-indexes every stored entity into the vector index. Safe to
// run repeatedly: the chunk set replacement makes it idempotent. Failed
// entities are marked stale and counted, not fatal.
func (c *Coordinator) Backfill(ctx context.Context) (*BackfillReport, error) {
	start := time.Now()
	report := &BackfillReport{ByType: make(map[entity.Type]BackfillCounts)}
	var reportMu sync.Mutex

	cursor := ""
	for {
		records, next, err := c.entities.ListEntities(ctx, cursor, c.config.BackfillPageSize)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		if len(records) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.config.BackfillConcurrency)

		for _, record := range records {
			rec := record
			g.Go(func() error {
				indexed, err := c.reindexEntity(gctx, rec.Entity.TenantID, rec.Entity.ID)

				reportMu.Lock()
				defer reportMu.Unlock()
				counts := report.ByType[rec.Entity.Type]
				switch {
				case err != nil:
					slog.Warn("backfill entity failed",
						slog.String("tenant_id", rec.Entity.TenantID),
						slog.String("entity_id", rec.Entity.ID),
						slog.String("error", err.Error()))
					counts.Failed++
					report.Failed++
					// Keep going; the entity stays reachable in the
					// system of record.
					_ = c.entities.SetState(gctx, rec.Entity.TenantID, rec.Entity.ID, store.StateStale)
				case indexed:
					counts.Indexed++
					report.Indexed++
				default:
					// Deleted after listing; not an outcome to count.
				}
				report.ByType[rec.Entity.Type] = counts
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if next == "" {
			break
		}
		cursor = next
	}

	report.Duration = time.Since(start)
	slog.Info("backfill completed",
		slog.Int("indexed", report.Indexed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// SaveIndex persists the vector index to disk.
func (c *Coordinator) SaveIndex(path string) error {
	return c.vector.Save(path)
}
