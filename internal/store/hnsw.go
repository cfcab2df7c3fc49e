package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/novadesk/retrieval/internal/entity"
	reterr "github.com/novadesk/retrieval/internal/errors"
)

// typeFilterOverfetch widens graph search when an entity_type filter is
// applied, since filtering happens after nearest-neighbor retrieval within
// the tenant's partition.
const typeFilterOverfetch = 4

// HNSWStore implements VectorStore using the coder/hnsw pure Go HNSW graph,
// partitioned by tenant: every tenant owns a private graph, so the tenant
// filter is enforced by graph selection at query construction. A query can
// never traverse another tenant's vectors.
type HNSWStore struct {
	mu      sync.RWMutex
	config  VectorStoreConfig
	tenants map[string]*tenantPartition
	closed  bool
}

// chunkRef is the per-vector payload kept alongside the graph.
type chunkRef struct {
	ChunkID    string
	EntityID   string
	EntityType entity.Type
	Ordinal    int
	Text       string
}

// tenantPartition is one tenant's graph plus ID mappings.
// Deletion is lazy: removed vectors are orphaned in the graph and dropped
// from the mappings, which makes them invisible to search results.
type tenantPartition struct {
	graph    *hnsw.Graph[uint64]
	idMap    map[string]uint64   // chunk ID -> internal key
	refMap   map[uint64]chunkRef // internal key -> chunk payload
	byEntity map[string][]string // entity ID -> live chunk IDs
	nextKey  uint64
}

// hnswSnapshot is the gob persistence format: per-tenant exported graph
// bytes plus mappings.
type hnswSnapshot struct {
	Config  VectorStoreConfig
	Tenants map[string]tenantSnapshot
}

type tenantSnapshot struct {
	GraphBytes []byte
	IDMap      map[string]uint64
	RefMap     map[uint64]chunkRef
	ByEntity   map[string][]string
	NextKey    uint64
}

// NewHNSWStore creates a tenant-partitioned HNSW vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, reterr.Validation(
			fmt.Sprintf("vector dimensions must be positive, got %d", cfg.Dimensions), nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	return &HNSWStore{
		config:  cfg,
		tenants: make(map[string]*tenantPartition),
	}, nil
}

var _ VectorStore = (*HNSWStore)(nil)

// newPartition builds an empty graph with the store's parameters.
// Cosine distance on unit-normalized vectors is the one similarity metric
// used everywhere: scores are 1 - distance/2 in [0,1].
func (s *HNSWStore) newPartition() *tenantPartition {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25

	return &tenantPartition{
		graph:    graph,
		idMap:    make(map[string]uint64),
		refMap:   make(map[uint64]chunkRef),
		byEntity: make(map[string][]string),
	}
}

// UpsertEntity atomically replaces the full chunk set for an entity.
// The previous chunk set is lazily removed and the new one added under one
// write lock, so search never observes a mixed state.
func (s *HNSWStore) UpsertEntity(ctx context.Context, tenantID, entityID string, chunks []*Chunk) error {
	if tenantID == "" {
		return reterr.InvalidFilter("tenant_id is required for upsert", nil)
	}
	if entityID == "" {
		return reterr.InvalidFilter("entity_id is required for upsert", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.IndexUnavailable("vector store is closed", nil)
	}

	for _, c := range chunks {
		if len(c.Embedding) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(c.Embedding)}
		}
		if c.TenantID != tenantID || c.EntityID != entityID {
			return reterr.TenantIsolation(fmt.Sprintf(
				"chunk %s tagged (%s,%s) does not belong to entity (%s,%s)",
				c.ID, c.TenantID, c.EntityID, tenantID, entityID))
		}
	}

	part, ok := s.tenants[tenantID]
	if !ok {
		part = s.newPartition()
		s.tenants[tenantID] = part
	}

	// Drop the superseded chunk set first.
	part.removeEntityLocked(entityID)

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		key := part.nextKey
		part.nextKey++

		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		normalizeVectorInPlace(vec)

		part.graph.Add(hnsw.MakeNode(key, vec))
		part.idMap[c.ID] = key
		part.refMap[key] = chunkRef{
			ChunkID:    c.ID,
			EntityID:   c.EntityID,
			EntityType: c.EntityType,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
		}
		ids = append(ids, c.ID)
	}
	part.byEntity[entityID] = ids

	return nil
}

// DeleteByEntity removes every chunk owned by the entity. Idempotent.
func (s *HNSWStore) DeleteByEntity(ctx context.Context, tenantID, entityID string) error {
	if tenantID == "" {
		return reterr.InvalidFilter("tenant_id is required for delete", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.IndexUnavailable("vector store is closed", nil)
	}

	part, ok := s.tenants[tenantID]
	if !ok {
		return nil
	}
	part.removeEntityLocked(entityID)
	return nil
}

// removeEntityLocked lazily deletes an entity's chunks: mappings are dropped
// while the graph nodes remain as unreachable orphans. Avoids coder/hnsw
// issues with deleting the last node.
func (p *tenantPartition) removeEntityLocked(entityID string) {
	for _, chunkID := range p.byEntity[entityID] {
		if key, exists := p.idMap[chunkID]; exists {
			delete(p.refMap, key)
			delete(p.idMap, chunkID)
		}
	}
	delete(p.byEntity, entityID)
}

// Search finds up to k nearest chunks within the tenant's partition.
// An unknown tenant has an empty partition: zero hits, not an error.
func (s *HNSWStore) Search(ctx context.Context, tenantID string, query []float32, k int, typeFilter entity.Type) ([]*VectorResult, error) {
	if tenantID == "" {
		return nil, reterr.InvalidFilter("tenant_id is required for search", nil)
	}
	if typeFilter != "" && !typeFilter.Valid() {
		return nil, reterr.InvalidFilter(fmt.Sprintf("unknown entity type filter %q", typeFilter), nil)
	}
	if k <= 0 {
		return nil, reterr.InvalidFilter(fmt.Sprintf("search limit must be positive, got %d", k), nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, reterr.IndexUnavailable("vector store is closed", nil)
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	part, ok := s.tenants[tenantID]
	if !ok || part.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	normalizeVectorInPlace(normalizedQuery)

	fetch := k
	if typeFilter != "" {
		fetch = k * typeFilterOverfetch
	}
	// Orphaned (lazily deleted) nodes still occupy graph slots; widen the
	// search so live vectors are not crowded out of the candidate set.
	if orphans := part.graph.Len() - len(part.idMap); orphans > 0 {
		fetch += orphans
	}

	nodes := part.graph.Search(normalizedQuery, fetch)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		ref, live := part.refMap[node.Key]
		if !live {
			continue // lazily deleted
		}
		if typeFilter != "" && ref.EntityType != typeFilter {
			continue
		}

		distance := part.graph.Distance(normalizedQuery, node.Value)
		results = append(results, &VectorResult{
			ChunkID:    ref.ChunkID,
			EntityID:   ref.EntityID,
			EntityType: ref.EntityType,
			TenantID:   tenantID,
			Text:       ref.Text,
			Ordinal:    ref.Ordinal,
			Distance:   distance,
			Score:      distanceToScore(distance),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// EntityChunkCount returns the number of live chunks for an entity.
func (s *HNSWStore) EntityChunkCount(tenantID, entityID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.tenants[tenantID]
	if !ok {
		return 0
	}
	return len(part.byEntity[entityID])
}

// Count returns the total number of live vectors across all tenants.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, part := range s.tenants {
		total += len(part.idMap)
	}
	return total
}

// Save persists the index to disk atomically (temp file + rename).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return reterr.IndexUnavailable("vector store is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	snapshot := hnswSnapshot{
		Config:  s.config,
		Tenants: make(map[string]tenantSnapshot, len(s.tenants)),
	}
	for tenantID, part := range s.tenants {
		var buf bytes.Buffer
		if err := part.graph.Export(&buf); err != nil {
			return fmt.Errorf("export tenant graph: %w", err)
		}
		snapshot.Tenants[tenantID] = tenantSnapshot{
			GraphBytes: buf.Bytes(),
			IDMap:      part.idMap,
			RefMap:     part.refMap,
			ByEntity:   part.byEntity,
			NextKey:    part.nextKey,
		}
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	if err := gob.NewEncoder(file).Encode(snapshot); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

// Load restores the index from disk. A missing file is a fresh start, not
// an error.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return reterr.IndexUnavailable("vector store is closed", nil)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	var snapshot hnswSnapshot
	if err := gob.NewDecoder(file).Decode(&snapshot); err != nil {
		return reterr.New(reterr.ErrCodeIndexCorrupt, "decode index snapshot", err)
	}

	if snapshot.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: snapshot.Config.Dimensions}
	}

	tenants := make(map[string]*tenantPartition, len(snapshot.Tenants))
	for tenantID, snap := range snapshot.Tenants {
		part := s.newPartition()
		// coder/hnsw Import requires an io.ByteReader.
		reader := bufio.NewReader(bytes.NewReader(snap.GraphBytes))
		if err := part.graph.Import(reader); err != nil {
			return reterr.New(reterr.ErrCodeIndexCorrupt,
				fmt.Sprintf("import graph for tenant %s", tenantID), err)
		}
		part.idMap = snap.IDMap
		part.refMap = snap.RefMap
		part.byEntity = snap.ByEntity
		part.nextKey = snap.NextKey
		tenants[tenantID] = part
	}
	s.tenants = tenants
	return nil
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.tenants = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts cosine distance (0-2) to a similarity score in
// [0,1].
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
