package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/novadesk/retrieval/internal/entity"
	reterr "github.com/novadesk/retrieval/internal/errors"
)

// SQLiteEntityStore implements EntityStore on SQLite. WAL mode and a
// busy timeout keep readers unblocked by the single writer.
type SQLiteEntityStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	lock   *flock.Flock
	closed bool
}

var _ EntityStore = (*SQLiteEntityStore)(nil)

// NewSQLiteEntityStore opens or creates the system-of-record database.
// If path is empty an in-memory store is created for testing. For on-disk
// stores, a file lock on the data directory guards against two processes
// opening the same index.
func NewSQLiteEntityStore(path string) (*SQLiteEntityStore, error) {
	var dsn string
	var dirLock *flock.Flock

	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}

		dirLock = flock.New(filepath.Join(dir, "retrieval.lock"))
		locked, err := dirLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire data directory lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("data directory %s is locked by another process", dir)
		}

		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if dirLock != nil {
			_ = dirLock.Unlock()
		}
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			if dirLock != nil {
				_ = dirLock.Unlock()
			}
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteEntityStore{db: db, path: path, lock: dirLock}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		if dirLock != nil {
			_ = dirLock.Unlock()
		}
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteEntityStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- System of record for searchable entities. Timestamps are unix nanos.
	CREATE TABLE IF NOT EXISTS entities (
		tenant_id   TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		content     TEXT NOT NULL,
		metadata    TEXT NOT NULL DEFAULT '{}',
		state       TEXT NOT NULL DEFAULT 'indexing',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_tenant_type
		ON entities(tenant_id, entity_type);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id    TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		ordinal     INTEGER NOT NULL,
		text        TEXT NOT NULL,
		FOREIGN KEY (tenant_id, entity_id)
			REFERENCES entities(tenant_id, entity_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_entity
		ON chunks(tenant_id, entity_id);

	-- Durable retry queue: failed vector operations wait here for the
	-- backoff worker, surviving process restarts.
	CREATE TABLE IF NOT EXISTS retry_queue (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id       TEXT NOT NULL,
		entity_id       TEXT NOT NULL,
		op              TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL,
		UNIQUE (tenant_id, entity_id, op)
	);
	CREATE INDEX IF NOT EXISTS idx_retry_due ON retry_queue(next_attempt_at);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveEntity writes or replaces the entity row and its chunk rows in one
// transaction.
func (s *SQLiteEntityStore) SaveEntity(ctx context.Context, e *entity.SearchableEntity, state EntityState, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (tenant_id, entity_id, entity_type, content, metadata, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			content     = excluded.content,
			metadata    = excluded.metadata,
			state       = excluded.state,
			updated_at  = excluded.updated_at`,
		e.TenantID, e.ID, string(e.Type), e.Content, string(metaJSON),
		string(state), e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}

	// Replace the chunk set wholesale.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE tenant_id = ? AND entity_id = ?`,
		e.TenantID, e.ID); err != nil {
		return fmt.Errorf("delete prior chunks: %w", err)
	}

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, tenant_id, entity_id, entity_type, ordinal, text)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer insertStmt.Close()

	for _, c := range chunks {
		if _, err := insertStmt.ExecContext(ctx,
			c.ID, c.TenantID, c.EntityID, string(c.EntityType), c.Ordinal, c.Text); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetEntity returns the entity record, or nil when absent.
func (s *SQLiteEntityStore) GetEntity(ctx context.Context, tenantID, entityID string) (*EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, entity_id, entity_type, content, metadata, state, created_at, updated_at
		FROM entities WHERE tenant_id = ? AND entity_id = ?`,
		tenantID, entityID)

	rec, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// SetState transitions the entity's lifecycle state.
func (s *SQLiteEntityStore) SetState(ctx context.Context, tenantID, entityID string, state EntityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE entities SET state = ? WHERE tenant_id = ? AND entity_id = ?`,
		string(state), tenantID, entityID)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return reterr.NotFound(
			fmt.Sprintf("entity %s/%s not found", tenantID, entityID), nil)
	}
	return nil
}

// DeleteEntity removes the entity and (via cascade) its chunks.
// Returns false when the entity did not exist.
func (s *SQLiteEntityStore) DeleteEntity(ctx context.Context, tenantID, entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE tenant_id = ? AND entity_id = ?`,
		tenantID, entityID)
	if err != nil {
		return false, fmt.Errorf("delete entity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ChunkCount returns the stored chunk count for an entity.
func (s *SQLiteEntityStore) ChunkCount(ctx context.Context, tenantID, entityID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE tenant_id = ? AND entity_id = ?`,
		tenantID, entityID).Scan(&count)
	return count, err
}

// ListEntities pages through all entities across all tenants in
// (tenant_id, entity_id) order for backfill.
func (s *SQLiteEntityStore) ListEntities(ctx context.Context, cursor string, limit int) ([]*EntityRecord, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, "", reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}
	if limit <= 0 {
		limit = 100
	}

	cursorTenant, cursorEntity := splitCursor(cursor)
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, entity_id, entity_type, content, metadata, state, created_at, updated_at
		FROM entities
		WHERE (tenant_id, entity_id) > (?, ?)
		ORDER BY tenant_id, entity_id
		LIMIT ?`,
		cursorTenant, cursorEntity, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var records []*EntityRecord
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, "", err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(records) == limit {
		last := records[len(records)-1]
		next = joinCursor(last.Entity.TenantID, last.Entity.ID)
	}
	return records, next, nil
}

// Stats returns per-type indexed entity counts for one tenant.
func (s *SQLiteEntityStore) Stats(ctx context.Context, tenantID string) (*TenantStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, COUNT(*) FROM entities
		WHERE tenant_id = ? GROUP BY entity_type`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &TenantStats{CountsByType: make(map[entity.Type]int)}
	for _, t := range entity.AllTypes {
		stats.CountsByType[t] = 0
	}
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		stats.CountsByType[entity.Type(typ)] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// EnqueueRetry inserts or refreshes a durable retry task. One pending task
// per (tenant, entity, op); re-enqueueing resets the schedule.
func (s *SQLiteEntityStore) EnqueueRetry(ctx context.Context, task RetryTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retry_queue (tenant_id, entity_id, op, attempts, next_attempt_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_id, op) DO UPDATE SET
			attempts        = excluded.attempts,
			next_attempt_at = excluded.next_attempt_at,
			last_error      = excluded.last_error`,
		task.TenantID, task.EntityID, string(task.Op), task.Attempts,
		task.NextAttemptAt.UnixNano(), task.LastError, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

// DueRetries returns tasks whose next attempt time has passed, oldest first.
func (s *SQLiteEntityStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]RetryTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, entity_id, op, attempts, next_attempt_at, last_error
		FROM retry_queue
		WHERE next_attempt_at <= ?
		ORDER BY next_attempt_at
		LIMIT ?`, now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var tasks []RetryTask
	for rows.Next() {
		var t RetryTask
		var op string
		var nextAt int64
		if err := rows.Scan(&t.ID, &t.TenantID, &t.EntityID, &op, &t.Attempts, &nextAt, &t.LastError); err != nil {
			return nil, err
		}
		t.Op = RetryOp(op)
		t.NextAttemptAt = time.Unix(0, nextAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// RescheduleRetry pushes a failed task to its next backoff slot.
func (s *SQLiteEntityStore) RescheduleRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE retry_queue SET attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		attempts, nextAttemptAt.UnixNano(), lastError, id)
	return err
}

// ResolveRetry removes a completed task.
func (s *SQLiteEntityStore) ResolveRetry(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_queue WHERE id = ?`, id)
	return err
}

// CancelRetries drops every pending task for an entity. Used when a delete
// supersedes queued upserts: delete wins.
func (s *SQLiteEntityStore) CancelRetries(ctx context.Context, tenantID, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.New(reterr.ErrCodeStoreClosed, "entity store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM retry_queue WHERE tenant_id = ? AND entity_id = ?`,
		tenantID, entityID)
	return err
}

// Close releases the database and the data directory lock.
func (s *SQLiteEntityStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil {
			slog.Warn("failed to release data directory lock",
				slog.String("error", unlockErr.Error()))
		}
	}
	return err
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanEntity.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*EntityRecord, error) {
	var tenantID, entityID, entityType, content, metaJSON, state string
	var createdAt, updatedAt int64

	if err := row.Scan(&tenantID, &entityID, &entityType, &content, &metaJSON, &state, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var meta entity.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &EntityRecord{
		Entity: &entity.SearchableEntity{
			ID:        entityID,
			Type:      entity.Type(entityType),
			TenantID:  tenantID,
			Content:   content,
			Metadata:  meta,
			CreatedAt: time.Unix(0, createdAt),
			UpdatedAt: time.Unix(0, updatedAt),
		},
		State: EntityState(state),
	}, nil
}

const cursorSep = "\x00"

func splitCursor(cursor string) (string, string) {
	if cursor == "" {
		return "", ""
	}
	parts := strings.SplitN(cursor, cursorSep, 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func joinCursor(tenantID, entityID string) string {
	return tenantID + cursorSep + entityID
}
