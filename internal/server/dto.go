package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/novadesk/retrieval/internal/entity"
)

// Field length caps to prevent abuse.
const (
	MaxTenantIDLength = 256
	MaxQueryLength    = 8 * 1024
	MaxContentLength  = 1024 * 1024
)

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	TenantID   string `json:"tenant_id" binding:"required"`
	Query      string `json:"query" binding:"required"`
	Limit      int    `json:"limit,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
}

// Validate checks the request beyond binding tags.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("tenant_id cannot be empty")
	}
	if len(r.TenantID) > MaxTenantIDLength {
		return fmt.Errorf("tenant_id exceeds maximum length (%d)", MaxTenantIDLength)
	}
	if len(r.Query) > MaxQueryLength {
		return fmt.Errorf("query exceeds maximum length (%d)", MaxQueryLength)
	}
	if r.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	return nil
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Query        string            `json:"query"`
	Results      []SearchResultDTO `json:"results"`
	TotalResults int               `json:"total_results"`
}

// SearchResultDTO is one entity-level hit.
type SearchResultDTO struct {
	EntityID     string            `json:"entity_id"`
	EntityType   string            `json:"entity_type"`
	Score        float32           `json:"relevance_score"`
	Snippet      string            `json:"content_snippet"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ChunkOrdinal int               `json:"chunk_ordinal"`
}

// StatsResponse is the body of GET /api/v1/stats/:tenant_id.
type StatsResponse struct {
	TenantID     string         `json:"tenant_id"`
	CountsByType map[string]int `json:"indexed_counts_by_type"`
	Total        int            `json:"total"`
}

// UpsertEntityRequest is the body of POST /api/v1/entities: a tenant plus
// exactly one artifact variant.
type UpsertEntityRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`

	Document *DocumentDTO `json:"document,omitempty"`
	Meeting  *MeetingDTO  `json:"meeting,omitempty"`
	TestCase *TestCaseDTO `json:"test_case,omitempty"`
	Ticket   *TicketDTO   `json:"ticket,omitempty"`
}

// Artifact converts the request into the single provided artifact variant.
func (r *UpsertEntityRequest) Artifact() (entity.Artifact, error) {
	var artifacts []entity.Artifact
	if r.Document != nil {
		artifacts = append(artifacts, r.Document.toArtifact())
	}
	if r.Meeting != nil {
		artifacts = append(artifacts, r.Meeting.toArtifact())
	}
	if r.TestCase != nil {
		artifacts = append(artifacts, r.TestCase.toArtifact())
	}
	if r.Ticket != nil {
		artifacts = append(artifacts, r.Ticket.toArtifact())
	}

	switch len(artifacts) {
	case 0:
		return nil, fmt.Errorf("one of document, meeting, test_case, or ticket is required")
	case 1:
		if n := r.contentLength(); n > MaxContentLength {
			return nil, fmt.Errorf("artifact content is %d bytes, exceeds maximum %d", n, MaxContentLength)
		}
		return artifacts[0], nil
	default:
		return nil, fmt.Errorf("exactly one artifact variant may be provided, got %d", len(artifacts))
	}
}

// contentLength sums the free-text fields of the provided variant.
func (r *UpsertEntityRequest) contentLength() int {
	switch {
	case r.Document != nil:
		return len(r.Document.Title) + len(r.Document.Summary) + len(r.Document.Body)
	case r.Meeting != nil:
		return len(r.Meeting.Title) + len(r.Meeting.Summary) + len(r.Meeting.Transcript)
	case r.TestCase != nil:
		n := len(r.TestCase.Title) + len(r.TestCase.Description)
		for _, c := range r.TestCase.Cases {
			n += len(c.Name) + len(c.Steps) + len(c.Expected)
		}
		return n
	case r.Ticket != nil:
		return len(r.Ticket.Title) + len(r.Ticket.Description)
	}
	return 0
}

// DocumentDTO is the wire shape of a document artifact.
type DocumentDTO struct {
	DocumentID string    `json:"document_id" binding:"required"`
	Title      string    `json:"title,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Body       string    `json:"body,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

func (d *DocumentDTO) toArtifact() entity.Artifact {
	return entity.Document{
		DocumentID: d.DocumentID,
		Title:      d.Title,
		FileName:   d.FileName,
		Summary:    d.Summary,
		Body:       d.Body,
		Tags:       d.Tags,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// MeetingDTO is the wire shape of a meeting artifact.
type MeetingDTO struct {
	MeetingID    string    `json:"meeting_id" binding:"required"`
	Title        string    `json:"title,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	HeldAt       time.Time `json:"held_at,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

func (m *MeetingDTO) toArtifact() entity.Artifact {
	return entity.Meeting{
		MeetingID:    m.MeetingID,
		Title:        m.Title,
		Summary:      m.Summary,
		Transcript:   m.Transcript,
		Participants: m.Participants,
		HeldAt:       m.HeldAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// TestCaseDTO is the wire shape of a test-suite artifact.
type TestCaseDTO struct {
	SuiteID     string        `json:"suite_id" binding:"required"`
	Title       string        `json:"title,omitempty"`
	SourceRef   string        `json:"source_ref,omitempty"`
	Description string        `json:"description,omitempty"`
	Cases       []TestStepDTO `json:"cases,omitempty"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
}

// TestStepDTO is one case within a suite.
type TestStepDTO struct {
	Name     string `json:"name"`
	Steps    string `json:"steps,omitempty"`
	Expected string `json:"expected,omitempty"`
}

func (s *TestCaseDTO) toArtifact() entity.Artifact {
	cases := make([]entity.TestStep, len(s.Cases))
	for i, c := range s.Cases {
		cases[i] = entity.TestStep{Name: c.Name, Steps: c.Steps, Expected: c.Expected}
	}
	return entity.TestSuite{
		SuiteID:     s.SuiteID,
		Title:       s.Title,
		SourceRef:   s.SourceRef,
		Description: s.Description,
		Cases:       cases,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// TicketDTO is the wire shape of a ticket artifact.
type TicketDTO struct {
	TicketKey   string    `json:"ticket_key" binding:"required"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

func (t *TicketDTO) toArtifact() entity.Artifact {
	return entity.Ticket{
		TicketKey:   t.TicketKey,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Assignee:    t.Assignee,
		Labels:      t.Labels,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// UpsertEntityResponse reports an accepted upsert.
type UpsertEntityResponse struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	ChunkCount int    `json:"chunk_count"`
	Indexed    bool   `json:"indexed"`
}

// DeleteEntityResponse reports a delete outcome.
type DeleteEntityResponse struct {
	EntityID string `json:"entity_id"`
	Deleted  bool   `json:"deleted"`
}

// BackfillResponse reports one backfill run.
type BackfillResponse struct {
	ByType     map[string]BackfillTypeDTO `json:"by_type"`
	Indexed    int                        `json:"indexed"`
	Failed     int                        `json:"failed"`
	DurationMS int64                      `json:"duration_ms"`
}

// BackfillTypeDTO is the per-type backfill outcome.
type BackfillTypeDTO struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
