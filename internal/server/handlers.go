package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/novadesk/retrieval/internal/entity"
	reterr "github.com/novadesk/retrieval/internal/errors"
	"github.com/novadesk/retrieval/internal/search"
)

// handleSearch serves POST /api/v1/search.
func (s *Server) handleSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	results, err := s.searcher.Search(c.Request.Context(), req.Query, search.Options{
		TenantID:   req.TenantID,
		Limit:      req.Limit,
		TypeFilter: entity.Type(req.EntityType),
	})
	if err != nil {
		s.writeRetrievalError(c, err)
		return
	}

	dto := make([]SearchResultDTO, len(results))
	for i, r := range results {
		meta := make(map[string]string, len(r.Metadata))
		for _, f := range r.Metadata {
			meta[f.Key] = f.Value
		}
		dto[i] = SearchResultDTO{
			EntityID:     r.EntityID,
			EntityType:   string(r.EntityType),
			Score:        r.Score,
			Snippet:      r.Snippet,
			Metadata:     meta,
			UpdatedAt:    r.UpdatedAt,
			ChunkOrdinal: r.ChunkOrdinal,
		}
	}
	c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Results: dto, TotalResults: len(dto)})
}

// handleStats serves GET /api/v1/stats/:tenant_id.
func (s *Server) handleStats(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	stats, err := s.searcher.Stats(c.Request.Context(), tenantID)
	if err != nil {
		s.writeRetrievalError(c, err)
		return
	}

	counts := make(map[string]int, len(stats.CountsByType))
	for typ, n := range stats.CountsByType {
		counts[string(typ)] = n
	}
	c.JSON(http.StatusOK, StatsResponse{
		TenantID:     stats.TenantID,
		CountsByType: counts,
		Total:        stats.Total,
	})
}

// handleUpsertEntity serves POST /api/v1/entities.
func (s *Server) handleUpsertEntity(c *gin.Context) {
	var req UpsertEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	artifact, err := req.Artifact()
	if err != nil {
		s.writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	receipt, err := s.coordinator.Upsert(c.Request.Context(), req.TenantID, artifact)
	if err != nil {
		s.writeRetrievalError(c, err)
		return
	}

	c.JSON(http.StatusOK, UpsertEntityResponse{
		EntityID:   receipt.EntityID,
		EntityType: string(receipt.EntityType),
		ChunkCount: receipt.ChunkCount,
		Indexed:    receipt.Indexed,
	})
}

// handleDeleteEntity serves DELETE /api/v1/entities/:tenant_id/:entity_id.
func (s *Server) handleDeleteEntity(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	entityID := c.Param("entity_id")

	deleted, err := s.coordinator.Delete(c.Request.Context(), tenantID, entityID)
	if err != nil {
		s.writeRetrievalError(c, err)
		return
	}

	c.JSON(http.StatusOK, DeleteEntityResponse{EntityID: entityID, Deleted: deleted})
}

// handleBackfill serves POST /api/v1/backfill. The pass runs synchronously;
// callers are operators, not end users.
func (s *Server) handleBackfill(c *gin.Context) {
	report, err := s.coordinator.Backfill(c.Request.Context())
	if err != nil {
		s.writeRetrievalError(c, err)
		return
	}

	byType := make(map[string]BackfillTypeDTO, len(report.ByType))
	for typ, counts := range report.ByType {
		byType[string(typ)] = BackfillTypeDTO{Indexed: counts.Indexed, Failed: counts.Failed}
	}
	c.JSON(http.StatusOK, BackfillResponse{
		ByType:     byType,
		Indexed:    report.Indexed,
		Failed:     report.Failed,
		DurationMS: report.Duration.Milliseconds(),
	})
}

// handleHealth serves GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady serves GET /ready: the service is ready once the embedder
// responds.
func (s *Server) handleReady(c *gin.Context) {
	if !s.embedder.Available(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"reason": "embedder is not ready",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// writeRetrievalError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeRetrievalError(c *gin.Context, err error) {
	var rerr *reterr.RetrievalError
	if !errors.As(err, &rerr) {
		s.writeError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch rerr.Category {
	case reterr.CategoryValidation:
		status = http.StatusBadRequest
	case reterr.CategoryNotFound:
		status = http.StatusNotFound
	case reterr.CategoryIndex, reterr.CategoryEmbedding:
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, ErrorResponse{
		Error:     string(rerr.Category),
		Code:      rerr.Code,
		Message:   rerr.Message,
		RequestID: c.GetString(requestIDKey),
	})
}

func (s *Server) writeError(c *gin.Context, status int, errCode, message string) {
	c.JSON(status, ErrorResponse{
		Error:     errCode,
		Message:   message,
		RequestID: c.GetString(requestIDKey),
	})
}
